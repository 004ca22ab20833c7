// Package expansion materialises the resolved members of a collection version
// into expansion snapshots and keeps the search index informed.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/indexing"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/cmd/termrepo/reference"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

const (
	JobSeed          = "expansion.seed"
	JobRebuild       = "expansion.rebuild"
	JobIndexConcepts = "index.concepts"
	JobIndexMappings = "index.mappings"
	JobRetract       = "index.retract"

	autoexpandPrefix = "autoexpand-"
)

// Store is the part of the datasource the expansion service writes to.
type Store interface {
	datasource.ExpansionStore
	ListReferences(ctx context.Context, collectionVersionID int64) ([]*terminology.Reference, error)
	SaveCollectionVersion(ctx context.Context, cv *terminology.CollectionVersion) error
}

type Resolver interface {
	ResolveAll(ctx context.Context, expressions []string, user *terminology.User) ([]*reference.Resolution, terminology.Errors)
}

type Runner interface {
	Enqueue(ctx context.Context, mode jobs.Mode, name string, fn jobs.Func) (*jobs.Task, error)
}

// AddResult reports what a reference batch changed.
type AddResult struct {
	// IndexConcepts and IndexMappings are set when at least one new member was admitted.
	IndexConcepts bool
	IndexMappings bool
	ConceptsAdded int
	MappingsAdded int
	Errors        terminology.Errors
	Tasks         []*jobs.Task
}

// CreateRequest describes an expansion to create. An empty Mnemonic gets a generated one.
type CreateRequest struct {
	Mnemonic     string
	Parameters   terminology.Parameters
	CanonicalURL string
	CreatedBy    string
}

// Page selects a window of a listing. Count zero means everything after Offset.
type Page struct {
	Offset int
	Count  int
}

type Service struct {
	store    Store
	resolver Resolver
	runner   Runner
	indexer  indexing.Indexer
	log      zerolog.Logger
}

func NewService(store Store, resolver Resolver, runner Runner, indexer indexing.Indexer, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		runner:   runner,
		indexer:  indexer,
		log:      log.With().Str("component", "expansion").Logger(),
	}
}

// AddReferences admits the entities of each reference into exp, filtered by
// the expansion parameters. References resolved by the caller are used as is,
// the rest are resolved here. Each reference's State is updated.
func (s *Service) AddReferences(ctx context.Context, exp *terminology.Expansion, refs []*terminology.Reference, user *terminology.User, mode jobs.Mode) (*AddResult, error) {
	result := &AddResult{Errors: terminology.Errors{}}
	var conceptIDs, mappingIDs []int64

	var pending []*terminology.Reference
	var expressions []string
	for _, ref := range refs {
		if !ref.IsResolved() {
			pending = append(pending, ref)
			expressions = append(expressions, ref.Expression)
		}
	}
	if len(pending) > 0 {
		resolutions, errs := s.resolver.ResolveAll(ctx, expressions, user)
		result.Errors.Merge(errs)
		for i, ref := range pending {
			if res := resolutions[i]; res != nil {
				ref.Concepts = res.Concepts
				ref.Mappings = res.Mappings
			}
		}
	}

	for _, ref := range refs {
		if !ref.IsResolved() {
			continue
		}

		admitted := ApplyParameters(Candidates{Concepts: ref.Concepts, Mappings: ref.Mappings}, exp.Parameters)
		for _, concept := range admitted.Concepts {
			conceptIDs = append(conceptIDs, concept.ID)
		}
		for _, mapping := range admitted.Mappings {
			mappingIDs = append(mappingIDs, mapping.ID)
		}

		if len(admitted.Concepts) > 0 || len(admitted.Mappings) > 0 {
			ref.State = terminology.StateAdmitted
		} else {
			ref.State = terminology.StateResolved
		}
	}

	var err error
	if len(conceptIDs) > 0 {
		if result.ConceptsAdded, err = s.store.AddExpansionConcepts(ctx, exp.ID, conceptIDs); err != nil {
			return nil, fmt.Errorf("failed to add concepts to expansion %s: %w", exp.URI, err)
		}
	}
	if len(mappingIDs) > 0 {
		if result.MappingsAdded, err = s.store.AddExpansionMappings(ctx, exp.ID, mappingIDs); err != nil {
			return nil, fmt.Errorf("failed to add mappings to expansion %s: %w", exp.URI, err)
		}
	}
	result.IndexConcepts = result.ConceptsAdded > 0
	result.IndexMappings = result.MappingsAdded > 0

	if result.IndexConcepts {
		result.Tasks = s.schedule(ctx, mode, JobIndexConcepts, result.Tasks, func(ctx context.Context) error {
			return s.indexer.IndexConcepts(ctx, conceptIDs)
		})
	}
	if result.IndexMappings {
		result.Tasks = s.schedule(ctx, mode, JobIndexMappings, result.Tasks, func(ctx context.Context) error {
			return s.indexer.IndexMappings(ctx, mappingIDs)
		})
	}

	s.log.Debug().
		Str("expansion", exp.URI).
		Int("references", len(refs)).
		Int("concepts_added", result.ConceptsAdded).
		Int("mappings_added", result.MappingsAdded).
		Int("errors", len(result.Errors)).
		Msg("Added references to expansion")
	return result, nil
}

// schedule runs an index job and appends its task. A failing index job is
// logged and never fails the membership change that triggered it.
func (s *Service) schedule(ctx context.Context, mode jobs.Mode, name string, tasks []*jobs.Task, fn jobs.Func) []*jobs.Task {
	task, err := s.runner.Enqueue(ctx, mode, name, fn)
	if err != nil {
		s.log.Warn().Err(err).Str("job", name).Msg("Index job did not complete")
	}
	if task != nil {
		tasks = append(tasks, task)
	}
	return tasks
}

// RemoveExpressions drops every member whose URI, or versionless URI, is
// listed. Retraction of the listed URIs from the index is always scheduled in
// background mode and skipped in synchronous mode.
func (s *Service) RemoveExpressions(ctx context.Context, exp *terminology.Expansion, expressions []string, mode jobs.Mode) (int, error) {
	if len(expressions) == 0 {
		return 0, nil
	}

	concepts, err := s.store.ExpansionConcepts(ctx, exp.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load concepts of expansion %s: %w", exp.URI, err)
	}
	mappings, err := s.store.ExpansionMappings(ctx, exp.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load mappings of expansion %s: %w", exp.URI, err)
	}

	var conceptIDs, mappingIDs []int64
	for _, concept := range concepts {
		if slices.Contains(expressions, concept.URI) || slices.Contains(expressions, concept.VersionlessURI()) {
			conceptIDs = append(conceptIDs, concept.ID)
		}
	}
	for _, mapping := range mappings {
		if slices.Contains(expressions, mapping.URI) || slices.Contains(expressions, mapping.VersionlessURI()) {
			mappingIDs = append(mappingIDs, mapping.ID)
		}
	}

	removed := 0
	if len(conceptIDs) > 0 {
		n, err := s.store.RemoveExpansionConcepts(ctx, exp.ID, conceptIDs)
		if err != nil {
			return removed, fmt.Errorf("failed to remove concepts from expansion %s: %w", exp.URI, err)
		}
		removed += n
	}
	if len(mappingIDs) > 0 {
		n, err := s.store.RemoveExpansionMappings(ctx, exp.ID, mappingIDs)
		if err != nil {
			return removed, fmt.Errorf("failed to remove mappings from expansion %s: %w", exp.URI, err)
		}
		removed += n
	}

	if !mode.IsSynchronous() {
		retract := slices.Clone(expressions)
		s.schedule(ctx, mode, JobRetract, nil, func(ctx context.Context) error {
			return errors.Join(
				s.indexer.Retract(ctx, terminology.KindConcept, retract),
				s.indexer.Retract(ctx, terminology.KindMapping, retract),
			)
		})
	}

	s.log.Debug().Str("expansion", exp.URI).Int("expressions", len(expressions)).Int("removed", removed).Msg("Removed expressions from expansion")
	return removed, nil
}

// Create persists a new expansion of cv and seeds it with cv's references
// according to mode. The first expansion of an auto-expanding version is named
// autoexpand-{version} and becomes its default.
func (s *Service) Create(ctx context.Context, cv *terminology.CollectionVersion, req CreateRequest, user *terminology.User, mode jobs.Mode) (*terminology.Expansion, *jobs.Task, error) {
	existing, err := s.store.ListExpansions(ctx, cv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list expansions of %s: %w", cv.URI, err)
	}
	autoexpand := cv.ShouldAutoExpand()
	if autoexpand && len(existing) == 0 {
		req.Mnemonic = autoexpandPrefix + cv.Version
	}

	exp, err := s.persist(ctx, cv, req)
	if err != nil {
		return nil, nil, err
	}

	if autoexpand && cv.ExpansionURI == "" {
		if err := s.setDefault(ctx, cv, exp); err != nil {
			return nil, nil, err
		}
	}

	task, err := s.runner.Enqueue(ctx, mode, JobSeed, func(ctx context.Context) error {
		_, err := s.Seed(ctx, cv, exp, user, mode)
		return err
	})
	if err != nil {
		return exp, task, fmt.Errorf("failed to seed expansion %s: %w", exp.URI, err)
	}
	return exp, task, nil
}

// persist saves a new expansion. A missing mnemonic is replaced by a temporary
// one and then by the assigned id.
func (s *Service) persist(ctx context.Context, cv *terminology.CollectionVersion, req CreateRequest) (*terminology.Expansion, error) {
	params := terminology.DefaultParameters()
	for key, value := range req.Parameters {
		params[key] = value
	}

	exp := &terminology.Expansion{
		Mnemonic:            req.Mnemonic,
		CollectionVersionID: cv.ID,
		Parameters:          params,
		CanonicalURL:        req.CanonicalURL,
		CreatedBy:           req.CreatedBy,
	}
	temporary := exp.Mnemonic == ""
	if temporary {
		exp.Mnemonic = uuid.NewString()
	}
	exp.URI = cv.ExpansionsURI() + exp.Mnemonic + "/"

	if err := s.store.SaveExpansion(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to save expansion %s: %w", exp.URI, err)
	}
	if temporary {
		exp.Mnemonic = strconv.FormatInt(exp.ID, 10)
		exp.URI = cv.ExpansionsURI() + exp.Mnemonic + "/"
		if err := s.store.SaveExpansion(ctx, exp); err != nil {
			return nil, fmt.Errorf("failed to rename expansion %d: %w", exp.ID, err)
		}
	}

	s.log.Info().Str("expansion", exp.URI).Str("collection_version", cv.URI).Msg("Created expansion")
	return exp, nil
}

func (s *Service) setDefault(ctx context.Context, cv *terminology.CollectionVersion, exp *terminology.Expansion) error {
	cv.ExpansionURI = exp.URI
	if err := s.store.SaveCollectionVersion(ctx, cv); err != nil {
		return fmt.Errorf("failed to set default expansion of %s: %w", cv.URI, err)
	}
	return nil
}

// Default returns the default expansion of cv, or ErrNotFound.
func (s *Service) Default(ctx context.Context, cv *terminology.CollectionVersion) (*terminology.Expansion, error) {
	if cv.ExpansionURI == "" {
		return nil, fmt.Errorf("default expansion of %s: %w", cv.URI, terminology.ErrNotFound)
	}
	return s.store.GetExpansion(ctx, cv.ExpansionURI)
}

// EnsureDefault returns the default expansion of cv, creating the
// autoexpand-{version} expansion when it is missing. A new expansion is seeded
// with the existing references before it is returned.
func (s *Service) EnsureDefault(ctx context.Context, cv *terminology.CollectionVersion, user *terminology.User, mode jobs.Mode) (*terminology.Expansion, error) {
	exp, err := s.Default(ctx, cv)
	if err == nil {
		return exp, nil
	}
	if !errors.Is(err, terminology.ErrNotFound) {
		return nil, err
	}

	exp, err = s.store.GetExpansion(ctx, cv.ExpansionsURI()+autoexpandPrefix+cv.Version+"/")
	if err != nil {
		if !errors.Is(err, terminology.ErrNotFound) {
			return nil, err
		}
		if exp, err = s.persist(ctx, cv, CreateRequest{Mnemonic: autoexpandPrefix + cv.Version, CreatedBy: username(user)}); err != nil {
			return nil, err
		}
		if _, err := s.Seed(ctx, cv, exp, user, mode); err != nil {
			return nil, err
		}
	}

	if err := s.setDefault(ctx, cv, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Seed adds every reference of cv to exp.
func (s *Service) Seed(ctx context.Context, cv *terminology.CollectionVersion, exp *terminology.Expansion, user *terminology.User, mode jobs.Mode) (*AddResult, error) {
	refs, err := s.store.ListReferences(ctx, cv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list references of %s: %w", cv.URI, err)
	}
	if len(refs) == 0 {
		return &AddResult{Errors: terminology.Errors{}}, nil
	}
	return s.AddReferences(ctx, exp, refs, user, mode)
}

// Rebuild empties exp and seeds it again from cv's references.
func (s *Service) Rebuild(ctx context.Context, cv *terminology.CollectionVersion, exp *terminology.Expansion, user *terminology.User, mode jobs.Mode) (*jobs.Task, error) {
	return s.runner.Enqueue(ctx, mode, JobRebuild, func(ctx context.Context) error {
		if err := s.clear(ctx, exp); err != nil {
			return err
		}
		_, err := s.Seed(ctx, cv, exp, user, mode)
		return err
	})
}

func (s *Service) clear(ctx context.Context, exp *terminology.Expansion) error {
	concepts, err := s.store.ExpansionConcepts(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("failed to load concepts of expansion %s: %w", exp.URI, err)
	}
	mappings, err := s.store.ExpansionMappings(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("failed to load mappings of expansion %s: %w", exp.URI, err)
	}
	if len(concepts) > 0 {
		if _, err := s.store.RemoveExpansionConcepts(ctx, exp.ID, idsOfConcepts(concepts)); err != nil {
			return fmt.Errorf("failed to clear concepts of expansion %s: %w", exp.URI, err)
		}
	}
	if len(mappings) > 0 {
		if _, err := s.store.RemoveExpansionMappings(ctx, exp.ID, idsOfMappings(mappings)); err != nil {
			return fmt.Errorf("failed to clear mappings of expansion %s: %w", exp.URI, err)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, uri string) (*terminology.Expansion, error) {
	return s.store.GetExpansion(ctx, uri)
}

func (s *Service) List(ctx context.Context, cv *terminology.CollectionVersion) ([]*terminology.Expansion, error) {
	return s.store.ListExpansions(ctx, cv.ID)
}

// Delete removes exp. The default expansion of cv cannot be deleted.
func (s *Service) Delete(ctx context.Context, cv *terminology.CollectionVersion, exp *terminology.Expansion) error {
	if exp.URI == cv.ExpansionURI {
		return terminology.ErrDefaultExpansion
	}
	if err := s.store.DeleteExpansion(ctx, exp.ID); err != nil {
		return fmt.Errorf("failed to delete expansion %s: %w", exp.URI, err)
	}
	s.log.Info().Str("expansion", exp.URI).Msg("Deleted expansion")
	return nil
}

// Concepts lists the members of exp that pass its parameters, paged.
// The returned total counts every member that passes.
func (s *Service) Concepts(ctx context.Context, exp *terminology.Expansion, page Page) ([]*terminology.Concept, int, error) {
	concepts, err := s.store.ExpansionConcepts(ctx, exp.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load concepts of expansion %s: %w", exp.URI, err)
	}
	concepts = ApplyParameters(Candidates{Concepts: concepts}, exp.Parameters).Concepts
	return paginate(concepts, page), len(concepts), nil
}

func (s *Service) Mappings(ctx context.Context, exp *terminology.Expansion, page Page) ([]*terminology.Mapping, int, error) {
	mappings, err := s.store.ExpansionMappings(ctx, exp.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load mappings of expansion %s: %w", exp.URI, err)
	}
	mappings = ApplyParameters(Candidates{Mappings: mappings}, exp.Parameters).Mappings
	return paginate(mappings, page), len(mappings), nil
}

func paginate[T any](items []T, page Page) []T {
	if page.Offset < 0 {
		page.Offset = 0
	}
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Count > 0 && page.Offset+page.Count < end {
		end = page.Offset + page.Count
	}
	return items[page.Offset:end]
}

func idsOfConcepts(concepts []*terminology.Concept) []int64 {
	ids := make([]int64, len(concepts))
	for i, c := range concepts {
		ids[i] = c.ID
	}
	return ids
}

func idsOfMappings(mappings []*terminology.Mapping) []int64 {
	ids := make([]int64, len(mappings))
	for i, m := range mappings {
		ids[i] = m.ID
	}
	return ids
}

func username(user *terminology.User) string {
	if user == nil {
		return ""
	}
	return user.Username
}
