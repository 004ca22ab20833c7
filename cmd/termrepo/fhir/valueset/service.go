// Package valueset serves collection versions as FHIR ValueSets, expanded
// from their default expansion.
package valueset

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/expansion"
	"github.com/SanteonNL/termrepo/models/fhir"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/SanteonNL/termrepo/util"
	"github.com/rs/zerolog"
)

const (
	resourceTypeValueSet   = "ValueSet"
	resourceTypeParameters = "Parameters"

	MsgCodeIncorrect = "The code is incorrect."
)

type CollectionReader interface {
	GetCollectionVersion(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.CollectionVersion, error)
}

type SourceReader interface {
	GetSource(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.Source, error)
}

type ExpansionReader interface {
	Default(ctx context.Context, cv *terminology.CollectionVersion) (*terminology.Expansion, error)
	Concepts(ctx context.Context, exp *terminology.Expansion, page expansion.Page) ([]*terminology.Concept, int, error)
}

// ExpandRequest narrows an expansion. Filter matches code or display, ignoring case.
type ExpandRequest struct {
	Filter string
	Offset int
	Count  int
}

type ValidationResult struct {
	Valid        bool
	MatchedIn    string
	ErrorMessage string
}

// Parameters renders the result as a FHIR Parameters resource.
func (r *ValidationResult) Parameters() *fhir.Parameters {
	valid := r.Valid
	params := &fhir.Parameters{
		ResourceType: resourceTypeParameters,
		Parameter:    []fhir.ParametersParameter{{Name: "result", ValueBoolean: &valid}},
	}
	if !r.Valid {
		params.Parameter = append(params.Parameter, fhir.ParametersParameter{Name: "message", ValueString: util.StringPtr(r.ErrorMessage)})
	}
	return params
}

type ValueSetService struct {
	collections CollectionReader
	sources     SourceReader
	expansions  ExpansionReader
	log         zerolog.Logger
}

func NewValueSetService(collections CollectionReader, sources SourceReader, expansions ExpansionReader, log zerolog.Logger) *ValueSetService {
	return &ValueSetService{
		collections: collections,
		sources:     sources,
		expansions:  expansions,
		log:         log.With().Str("component", "valueset").Logger(),
	}
}

func (s *ValueSetService) defaultExpansion(ctx context.Context, ownerType, owner, collection, version string) (*terminology.CollectionVersion, *terminology.Expansion, error) {
	if version == "" {
		version = terminology.HEAD
	}
	cv, err := s.collections.GetCollectionVersion(ctx, ownerType, owner, collection, version)
	if err != nil {
		return nil, nil, err
	}
	exp, err := s.expansions.Default(ctx, cv)
	if err != nil {
		return nil, nil, err
	}
	return cv, exp, nil
}

// Expand returns the ValueSet of a collection version with the concepts of
// its default expansion as contains entries.
func (s *ValueSetService) Expand(ctx context.Context, ownerType, owner, collection, version string, req ExpandRequest) (*fhir.ValueSet, error) {
	cv, exp, err := s.defaultExpansion(ctx, ownerType, owner, collection, version)
	if err != nil {
		return nil, err
	}

	concepts, _, err := s.expansions.Concepts(ctx, exp, expansion.Page{})
	if err != nil {
		return nil, err
	}
	if req.Filter != "" {
		concepts = filterConcepts(concepts, req.Filter)
	}
	total := len(concepts)

	start := req.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if req.Count > 0 && start+req.Count < end {
		end = start + req.Count
	}

	systems := newSystemResolver(s.sources)
	contains := make([]fhir.ValueSetExpansionContains, 0, end-start)
	for _, concept := range concepts[start:end] {
		system, err := systems.system(ctx, concept)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve system of %s: %w", concept.URI, err)
		}
		entry := fhir.ValueSetExpansionContains{
			System:  util.StringPtr(system),
			Version: util.StringPtr(concept.Version),
			Code:    util.StringPtr(concept.Mnemonic),
			Display: util.StringPtr(concept.DisplayName()),
		}
		if concept.Retired || !concept.IsActive {
			inactive := true
			entry.Inactive = &inactive
		}
		contains = append(contains, entry)
	}

	offset := start
	valueSet := &fhir.ValueSet{
		ResourceType: resourceTypeValueSet,
		Id:           util.StringPtr(cv.Mnemonic),
		Version:      util.StringPtr(cv.Version),
		Name:         util.StringPtr(cv.Name),
		Expansion: &fhir.ValueSetExpansion{
			Identifier: util.StringPtr(exp.URI),
			Timestamp:  timestamp(exp).UTC().Format(time.RFC3339),
			Total:      &total,
			Offset:     &offset,
			Parameter:  expansionParameters(exp.Parameters),
			Contains:   contains,
		},
	}
	if cv.CanonicalURL != "" {
		valueSet.Url = util.StringPtr(cv.CanonicalURL)
	}

	s.log.Debug().
		Str("collection_version", cv.URI).
		Str("expansion", exp.URI).
		Int("total", total).
		Int("returned", len(contains)).
		Msg("Expanded value set")
	return valueSet, nil
}

// ValidateCode checks whether the default expansion of a collection version
// contains the coding. System and display are checked when given.
func (s *ValueSetService) ValidateCode(ctx context.Context, ownerType, owner, collection, version string, coding *fhir.Coding) (*ValidationResult, error) {
	if coding == nil || coding.Code == nil || *coding.Code == "" {
		return &ValidationResult{ErrorMessage: MsgCodeIncorrect}, nil
	}

	_, exp, err := s.defaultExpansion(ctx, ownerType, owner, collection, version)
	if err != nil {
		return nil, err
	}
	concepts, _, err := s.expansions.Concepts(ctx, exp, expansion.Page{})
	if err != nil {
		return nil, err
	}

	systems := newSystemResolver(s.sources)
	for _, concept := range concepts {
		if concept.Mnemonic != *coding.Code {
			continue
		}
		if coding.System != nil && *coding.System != "" {
			matches, err := systems.matches(ctx, concept, *coding.System)
			if err != nil {
				return nil, err
			}
			if !matches {
				continue
			}
		}
		if coding.Display != nil && *coding.Display != "" && !hasName(concept, *coding.Display) {
			continue
		}
		return &ValidationResult{Valid: true, MatchedIn: exp.URI}, nil
	}

	return &ValidationResult{ErrorMessage: MsgCodeIncorrect}, nil
}

func filterConcepts(concepts []*terminology.Concept, filter string) []*terminology.Concept {
	filter = strings.ToLower(filter)
	var out []*terminology.Concept
	for _, concept := range concepts {
		if strings.Contains(strings.ToLower(concept.Mnemonic), filter) || strings.Contains(strings.ToLower(concept.DisplayName()), filter) {
			out = append(out, concept)
		}
	}
	return out
}

func hasName(concept *terminology.Concept, display string) bool {
	if concept.DisplayName() == display {
		return true
	}
	for _, name := range concept.Names {
		if name.Name == display {
			return true
		}
	}
	return false
}

func timestamp(exp *terminology.Expansion) time.Time {
	if !exp.UpdatedAt.IsZero() {
		return exp.UpdatedAt
	}
	return exp.CreatedAt
}

// expansionParameters lists the set parameters of an expansion in name order.
// Empty strings are left out.
func expansionParameters(params terminology.Parameters) []fhir.ValueSetExpansionParameter {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []fhir.ValueSetExpansionParameter
	for _, name := range names {
		param := fhir.ValueSetExpansionParameter{Name: name}
		switch v := params[name].(type) {
		case bool:
			param.ValueBoolean = &v
		case string:
			if v == "" {
				continue
			}
			param.ValueString = util.StringPtr(v)
		case int:
			param.ValueInteger = util.IntPtr(v)
		case float64:
			param.ValueInteger = util.IntPtr(int(v))
		default:
			continue
		}
		out = append(out, param)
	}
	return out
}

// systemResolver maps concepts to the system URL of their source, reading
// each source once.
type systemResolver struct {
	sources SourceReader
	known   map[string]*terminology.Source
}

func newSystemResolver(sources SourceReader) *systemResolver {
	return &systemResolver{sources: sources, known: map[string]*terminology.Source{}}
}

func (r *systemResolver) source(ctx context.Context, concept *terminology.Concept) (*terminology.Source, error) {
	key := concept.SourceURI()
	if source, ok := r.known[key]; ok {
		return source, nil
	}
	source, err := r.sources.GetSource(ctx, concept.OwnerType, concept.Owner, concept.Source, terminology.HEAD)
	if err != nil {
		return nil, err
	}
	r.known[key] = source
	return source, nil
}

// system is the canonical URL of the concept's source, or its URI.
func (r *systemResolver) system(ctx context.Context, concept *terminology.Concept) (string, error) {
	source, err := r.source(ctx, concept)
	if err != nil {
		return "", err
	}
	if source.CanonicalURL != "" {
		return source.CanonicalURL, nil
	}
	return source.URI, nil
}

func (r *systemResolver) matches(ctx context.Context, concept *terminology.Concept, system string) (bool, error) {
	source, err := r.source(ctx, concept)
	if err != nil {
		return false, err
	}
	return system == source.CanonicalURL || system == source.URI, nil
}
