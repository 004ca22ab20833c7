// Package collection manages the references a collection version declares and
// keeps its default expansion in step with them.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/cascade"
	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expansion"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expression"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/cmd/termrepo/reference"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
)

// ErrVersionExists is returned when creating a collection version that already exists.
var ErrVersionExists = errors.New("collection version already exists")

const (
	SortAscending  = "ASC"
	SortDescending = "DESC"
)

type Store interface {
	datasource.ContentReader
	datasource.CollectionStore
	ExpansionMappings(ctx context.Context, expansionID int64) ([]*terminology.Mapping, error)
	ExpansionConcepts(ctx context.Context, expansionID int64) ([]*terminology.Concept, error)
}

type Resolver interface {
	Resolve(ctx context.Context, raw string, user *terminology.User) (*reference.Resolution, error)
	ResolveAll(ctx context.Context, expressions []string, user *terminology.User) ([]*reference.Resolution, terminology.Errors)
}

// Expansions is the expansion service as seen by the registry.
type Expansions interface {
	Default(ctx context.Context, cv *terminology.CollectionVersion) (*terminology.Expansion, error)
	EnsureDefault(ctx context.Context, cv *terminology.CollectionVersion, user *terminology.User, mode jobs.Mode) (*terminology.Expansion, error)
	Create(ctx context.Context, cv *terminology.CollectionVersion, req expansion.CreateRequest, user *terminology.User, mode jobs.Mode) (*terminology.Expansion, *jobs.Task, error)
	AddReferences(ctx context.Context, exp *terminology.Expansion, refs []*terminology.Reference, user *terminology.User, mode jobs.Mode) (*expansion.AddResult, error)
	RemoveExpressions(ctx context.Context, exp *terminology.Expansion, expressions []string, mode jobs.Mode) (int, error)
	Rebuild(ctx context.Context, cv *terminology.CollectionVersion, exp *terminology.Expansion, user *terminology.User, mode jobs.Mode) (*jobs.Task, error)
}

// ResponseItem reports the outcome of one expression of an addition.
type ResponseItem struct {
	Added      bool   `json:"added"`
	Expression string `json:"expression"`
	Message    any    `json:"message"`
}

// AddOutcome is the result of a reference addition.
type AddOutcome struct {
	Added  []*terminology.Reference
	Errors terminology.Errors
	Items  []ResponseItem
}

type Registry struct {
	store      Store
	resolver   Resolver
	expansions Expansions
	traverser  *cascade.Traverser
	log        zerolog.Logger
	now        func() time.Time
}

func NewRegistry(store Store, resolver Resolver, expansions Expansions, log zerolog.Logger) *Registry {
	return &Registry{
		store:      store,
		resolver:   resolver,
		expansions: expansions,
		traverser:  cascade.NewTraverser(store, log),
		log:        log.With().Str("component", "collection").Logger(),
		now:        time.Now,
	}
}

// Version returns a collection version; an empty version means HEAD.
func (r *Registry) Version(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.CollectionVersion, error) {
	if version == "" {
		version = terminology.HEAD
	}
	return r.store.GetCollectionVersion(ctx, ownerType, owner, mnemonic, version)
}

// AddExpressions expands the payload into expressions, optionally adds the
// mappings (and same-source target concepts) one level out from the listed
// concepts, and adds the result as references.
func (r *Registry) AddExpressions(ctx context.Context, cv *terminology.CollectionVersion, data AddData, user *terminology.User, cascadeMappings, cascadeToConcepts bool, mode jobs.Mode) (*AddOutcome, error) {
	expressions, err := r.expandSelection(ctx, data, user)
	if err != nil {
		return nil, err
	}

	if cascadeMappings || cascadeToConcepts {
		related, err := r.relatedExpressions(ctx, expressions, user, cascadeToConcepts)
		if err != nil {
			return nil, err
		}
		expressions = append(expressions, related...)
	}

	return r.AddReferences(ctx, cv, expressions, user, mode)
}

func (r *Registry) expandSelection(ctx context.Context, data AddData, user *terminology.User) ([]string, error) {
	expressions := data.Explicit()
	if !data.AddsAll() {
		return expressions, nil
	}
	if data.URI == "" {
		return nil, fmt.Errorf("adding all content requires a source uri")
	}

	source, err := r.store.GetSourceByURI(ctx, data.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to load source %s: %w", data.URI, err)
	}

	query := datasource.ContentQuery{
		OwnerType:  source.OwnerType,
		Owner:      source.Owner,
		Source:     source.Mnemonic,
		PublicOnly: !source.CanViewAllContent(user),
	}
	if !source.IsHead() {
		query.SourceVersion = source.Version
	}

	if data.Concepts.All {
		concepts, err := r.store.FindConcepts(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to list concepts of %s: %w", source.URI, err)
		}
		for _, concept := range concepts {
			expressions = append(expressions, concept.URI)
		}
	}
	if data.Mappings.All {
		mappings, err := r.store.FindMappings(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to list mappings of %s: %w", source.URI, err)
		}
		for _, mapping := range mappings {
			expressions = append(expressions, mapping.URI)
		}
	}

	r.log.Debug().Str("source", source.URI).Int("expressions", len(expressions)).Bool("public_only", query.PublicOnly).Msg("Expanded source selection")
	return expressions, nil
}

// relatedExpressions cascades one level of mappings from the concept
// expressions. With toConcepts, mapping targets in the source of the
// originating concept are included too. Expressions already listed are skipped.
func (r *Registry) relatedExpressions(ctx context.Context, expressions []string, user *terminology.User, toConcepts bool) ([]string, error) {
	listed := make(map[string]bool, len(expressions))
	var conceptExpressions []string
	for _, e := range expressions {
		listed[expression.DropVersion(e)] = true
		if expression.IsConcept(e) {
			conceptExpressions = append(conceptExpressions, e)
		}
	}

	params := cascade.Params{
		Method:          cascade.MethodSourceMappings,
		CascadeMappings: true,
		Levels:          cascade.Depth(1),
		IncludeMappings: true,
	}
	if toConcepts {
		params.Method = cascade.MethodSourceToConcepts
	}

	var related []string
	add := func(uri string) {
		key := expression.DropVersion(uri)
		if !listed[key] {
			listed[key] = true
			related = append(related, uri)
		}
	}

	for _, e := range conceptExpressions {
		res, err := r.resolver.Resolve(ctx, e, user)
		if err != nil || !res.IsResolved() {
			continue
		}
		for _, seed := range res.Concepts {
			result, err := r.traverser.Cascade(ctx, []*terminology.Concept{seed}, params)
			if err != nil {
				return nil, fmt.Errorf("failed to cascade %s: %w", e, err)
			}
			for _, mapping := range result.Mappings {
				add(mapping.URI)
			}
			for _, target := range result.Concepts {
				if target.VersionedObjectID != seed.VersionedObjectID && target.SourceURI() == seed.SourceURI() {
					add(target.URI)
				}
			}
		}
	}
	return related, nil
}

// AddReferences adds each expression as a reference of cv. Repeats of the
// same expression count once. Duplicates of an existing or earlier reference
// (compared without version) are rejected.
// Under auto-expansion each reference is resolved, validated and admitted
// into the default expansion; otherwise it is stored deferred. Failures are
// reported per expression and never abort the batch.
func (r *Registry) AddReferences(ctx context.Context, cv *terminology.CollectionVersion, expressions []string, user *terminology.User, mode jobs.Mode) (*AddOutcome, error) {
	outcome := &AddOutcome{Errors: terminology.Errors{}}

	existing, err := r.store.ListReferences(ctx, cv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list references of %s: %w", cv.URI, err)
	}
	taken := make(map[string]bool, len(existing)+len(expressions))
	for _, ref := range existing {
		taken[expression.DropVersion(ref.Expression)] = true
	}

	var proposed []*terminology.Reference
	requested := make(map[string]bool, len(expressions))
	for _, e := range expressions {
		if requested[e] {
			continue
		}
		requested[e] = true

		key := expression.DropVersion(e)
		if taken[key] {
			outcome.Errors.AddError(e, terminology.NewReferenceError(terminology.DuplicateReference, e, terminology.MsgReferenceAlreadyExists))
			continue
		}
		taken[key] = true
		proposed = append(proposed, &terminology.Reference{
			CollectionVersionID: cv.ID,
			Expression:          e,
			OriginalExpression:  e,
			State:               terminology.StateProposed,
		})
	}

	var accepted []*terminology.Reference
	if cv.ShouldAutoExpand() {
		accepted, err = r.admit(ctx, cv, proposed, user, mode, outcome.Errors)
		if err != nil {
			return nil, err
		}
	} else {
		for _, ref := range proposed {
			ref.Defer()
		}
		accepted = proposed
	}

	for _, ref := range accepted {
		if err := r.store.SaveReference(ctx, ref); err != nil {
			outcome.Errors.AddError(ref.OriginalExpression, fmt.Errorf("failed to save reference: %w", err))
			continue
		}
		outcome.Added = append(outcome.Added, ref)
	}

	if len(outcome.Added) > 0 {
		if user != nil {
			cv.UpdatedBy = user.Username
		}
		cv.UpdatedAt = r.now()
		if err := r.store.SaveCollectionVersion(ctx, cv); err != nil {
			return nil, fmt.Errorf("failed to update %s: %w", cv.URI, err)
		}
	}

	outcome.Items = r.responseItems(cv, expressions, outcome)
	r.log.Info().
		Str("collection_version", cv.URI).
		Int("expressions", len(expressions)).
		Int("added", len(outcome.Added)).
		Int("errors", len(outcome.Errors)).
		Msg("Added references")
	return outcome, nil
}

// admit resolves and validates the proposed references and adds those that
// pass to the default expansion. Rejected references are recorded in errs.
func (r *Registry) admit(ctx context.Context, cv *terminology.CollectionVersion, proposed []*terminology.Reference, user *terminology.User, mode jobs.Mode, errs terminology.Errors) ([]*terminology.Reference, error) {
	if len(proposed) == 0 {
		return nil, nil
	}

	exp, err := r.expansions.EnsureDefault(ctx, cv, user, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to load default expansion of %s: %w", cv.URI, err)
	}

	var names *nameIndex
	if cv.IsOpenMRSSchema() {
		members, err := r.store.ExpansionConcepts(ctx, exp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load concepts of %s: %w", exp.URI, err)
		}
		names = newNameIndex(members)
	}

	expressions := make([]string, len(proposed))
	for i, ref := range proposed {
		expressions[i] = ref.Expression
	}
	resolutions, resolveErrs := r.resolver.ResolveAll(ctx, expressions, user)
	errs.Merge(resolveErrs)

	now := r.now()
	var accepted []*terminology.Reference
	for i, ref := range proposed {
		res := resolutions[i]
		if res == nil {
			ref.State = terminology.StateRejected
			continue
		}
		res.Apply(ref, now)
		if !ref.IsResolved() {
			ref.State = terminology.StateRejected
			errs.AddError(ref.OriginalExpression, unresolvedError(res))
			continue
		}

		if names != nil {
			if err := checkNames(names, ref); err != nil {
				ref.State = terminology.StateRejected
				errs.AddError(ref.OriginalExpression, err)
				continue
			}
		}
		accepted = append(accepted, ref)
	}

	if len(accepted) == 0 {
		return nil, nil
	}
	result, err := r.expansions.AddReferences(ctx, exp, accepted, user, mode)
	if err != nil {
		return nil, err
	}
	errs.Merge(result.Errors)
	return accepted, nil
}

func checkNames(names *nameIndex, ref *terminology.Reference) error {
	for _, concept := range ref.Concepts {
		if err := names.check(ref.OriginalExpression, concept); err != nil {
			return err
		}
	}
	for _, concept := range ref.Concepts {
		names.add(concept)
	}
	return nil
}

func unresolvedError(res *reference.Resolution) error {
	if res.LookupFailed {
		return terminology.NewReferenceError(terminology.RemoteLookupFailure, res.Original,
			fmt.Sprintf(terminology.MsgRemoteLookupUnavailableFormat, res.Original))
	}
	return terminology.NewReferenceError(terminology.ResolutionFailure, res.Original, terminology.MsgExpressionNotResolved)
}

// responseItems reports every requested expression once, in request order.
func (r *Registry) responseItems(cv *terminology.CollectionVersion, expressions []string, outcome *AddOutcome) []ResponseItem {
	added := make([]string, 0, len(outcome.Added))
	for _, ref := range outcome.Added {
		added = append(added, ref.Expression)
	}

	items := make([]ResponseItem, 0, len(expressions))
	reported := make(map[string]bool, len(expressions))
	for _, e := range expressions {
		if reported[e] {
			continue
		}
		reported[e] = true

		if messages, failed := outcome.Errors[e]; failed {
			items = append(items, ResponseItem{Added: false, Expression: e, Message: messages})
			continue
		}
		for _, a := range added {
			if strings.HasPrefix(a, e) || strings.HasPrefix(a, expression.DropVersion(e)) {
				items = append(items, ResponseItem{Added: true, Expression: a, Message: addedMessage(e, cv.Name)})
				break
			}
		}
	}
	return items
}

func addedMessage(raw, collectionName string) string {
	expr := expression.Parse(raw)
	if !expr.IsVersioned() {
		switch expr.Kind {
		case expression.KindConcept:
			return terminology.MsgHeadOfConceptAdded
		case expression.KindMapping:
			return terminology.MsgHeadOfMappingAdded
		}
		return fmt.Sprintf(terminology.MsgUnknownReferenceAddedFormat, "")
	}
	switch expr.Kind {
	case expression.KindConcept:
		return fmt.Sprintf(terminology.MsgConceptVersionAddedFormat, expr.Mnemonic, collectionName)
	case expression.KindMapping:
		return fmt.Sprintf(terminology.MsgMappingVersionAddedFormat, expr.Mnemonic, collectionName)
	}
	return fmt.Sprintf(terminology.MsgUnknownReferenceAddedFormat, collectionName)
}

// DeleteReferences removes the selected references of cv and their members
// from the default expansion. With cascadeMappings, mappings in the default
// expansion whose from concept is one of the selected concepts go too.
// Expressions match a reference exactly or by its versionless form.
func (r *Registry) DeleteReferences(ctx context.Context, cv *terminology.CollectionVersion, selection Selection, cascadeMappings bool, mode jobs.Mode) (int, error) {
	refs, err := r.store.ListReferences(ctx, cv.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list references of %s: %w", cv.URI, err)
	}

	expressions := selection.Expressions
	if selection.All {
		expressions = make([]string, 0, len(refs))
		for _, ref := range refs {
			expressions = append(expressions, ref.Expression)
		}
	}
	if len(expressions) == 0 {
		return 0, nil
	}

	exp, err := r.expansions.Default(ctx, cv)
	if err != nil && !errors.Is(err, terminology.ErrNotFound) {
		return 0, err
	}

	if cascadeMappings && exp != nil {
		cascaded, err := r.cascadedMappingExpressions(ctx, exp, expressions)
		if err != nil {
			return 0, err
		}
		expressions = append(expressions, cascaded...)
	}

	if exp != nil {
		if _, err := r.expansions.RemoveExpressions(ctx, exp, expressions, mode); err != nil {
			return 0, err
		}
	}

	selected := make(map[string]bool, len(expressions))
	for _, e := range expressions {
		selected[e] = true
	}
	var matched []string
	for _, ref := range refs {
		if selected[ref.Expression] || selected[expression.DropVersion(ref.Expression)] {
			ref.State = terminology.StateRetracted
			matched = append(matched, ref.Expression)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	deleted, err := r.store.DeleteReferences(ctx, cv.ID, matched)
	if err != nil {
		return 0, fmt.Errorf("failed to delete references of %s: %w", cv.URI, err)
	}
	r.log.Info().Str("collection_version", cv.URI).Int("deleted", deleted).Msg("Deleted references")
	return deleted, nil
}

func (r *Registry) cascadedMappingExpressions(ctx context.Context, exp *terminology.Expansion, expressions []string) ([]string, error) {
	mappings, err := r.store.ExpansionMappings(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings of %s: %w", exp.URI, err)
	}

	var out []string
	for _, e := range expressions {
		if !expression.IsConcept(e) {
			continue
		}
		versionless := strings.ToLower(expression.DropVersion(e))
		for _, mapping := range mappings {
			if strings.Contains(strings.ToLower(mapping.FromConceptURI), versionless) {
				out = append(out, mapping.URI)
			}
		}
	}
	return out, nil
}

// References lists the references of cv whose expression contains q,
// ignoring case, sorted by expression.
func (r *Registry) References(ctx context.Context, cv *terminology.CollectionVersion, q, order string) ([]*terminology.Reference, error) {
	refs, err := r.store.ListReferences(ctx, cv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list references of %s: %w", cv.URI, err)
	}

	q = strings.ToLower(q)
	out := refs[:0]
	for _, ref := range refs {
		if q == "" || strings.Contains(strings.ToLower(ref.Expression), q) {
			out = append(out, ref)
		}
	}

	descending := strings.EqualFold(order, SortDescending)
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].Expression > out[j].Expression
		}
		return out[i].Expression < out[j].Expression
	})
	return out, nil
}

// CreateVersion snapshots head as version, copying its references, and
// creates the auto expansion of the new version when it auto-expands.
func (r *Registry) CreateVersion(ctx context.Context, head *terminology.CollectionVersion, version string, user *terminology.User, mode jobs.Mode) (*terminology.CollectionVersion, *jobs.Task, error) {
	if version == "" || version == terminology.HEAD {
		return nil, nil, fmt.Errorf("invalid collection version %q", version)
	}
	if _, err := r.store.GetCollectionVersion(ctx, head.OwnerType, head.Owner, head.Mnemonic, version); err == nil {
		return nil, nil, fmt.Errorf("%s%s/: %w", head.CollectionURI(), version, ErrVersionExists)
	} else if !errors.Is(err, terminology.ErrNotFound) {
		return nil, nil, err
	}

	cv := *head
	cv.ID = 0
	cv.Version = version
	cv.URI = head.CollectionURI() + version + "/"
	cv.ExpansionURI = ""
	cv.UpdatedAt = r.now()
	if user != nil {
		cv.UpdatedBy = user.Username
	}
	if err := r.store.SaveCollectionVersion(ctx, &cv); err != nil {
		return nil, nil, fmt.Errorf("failed to save %s: %w", cv.URI, err)
	}

	refs, err := r.store.ListReferences(ctx, head.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list references of %s: %w", head.URI, err)
	}
	for _, ref := range refs {
		copied := &terminology.Reference{
			CollectionVersionID: cv.ID,
			Expression:          ref.Expression,
			OriginalExpression:  ref.OriginalExpression,
			State:               ref.State,
			LastResolvedAt:      ref.LastResolvedAt,
		}
		if err := r.store.SaveReference(ctx, copied); err != nil {
			return nil, nil, fmt.Errorf("failed to copy reference %s: %w", ref.Expression, err)
		}
	}

	r.log.Info().Str("collection_version", cv.URI).Int("references", len(refs)).Msg("Created collection version")
	if !cv.ShouldAutoExpand() {
		return &cv, nil, nil
	}

	_, task, err := r.expansions.Create(ctx, &cv, expansion.CreateRequest{CreatedBy: cv.UpdatedBy}, user, mode)
	if err != nil {
		return &cv, task, err
	}
	return &cv, task, nil
}

// FixAutoExpansion makes sure an auto-expanding version has a default
// expansion whose members match its references. Returns nil when cv does not
// auto-expand.
func (r *Registry) FixAutoExpansion(ctx context.Context, cv *terminology.CollectionVersion, user *terminology.User, mode jobs.Mode) (*terminology.Expansion, *jobs.Task, error) {
	if !cv.ShouldAutoExpand() {
		return nil, nil, nil
	}
	exp, err := r.expansions.EnsureDefault(ctx, cv, user, mode)
	if err != nil {
		return nil, nil, err
	}
	task, err := r.expansions.Rebuild(ctx, cv, exp, user, mode)
	return exp, task, err
}
