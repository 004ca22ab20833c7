// Package cascade walks the concept hierarchy and mapping graph outward from
// a seed set of concepts, breadth first and bounded by level.
package cascade

import (
	"context"
	"fmt"

	"github.com/SanteonNL/termrepo/cmd/termrepo/reference"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
)

// Graph exposes adjacency keyed by concept identity (versioned object id).
type Graph interface {
	LatestConcepts(ctx context.Context, identityIDs []int64) ([]*terminology.Concept, error)
	ChildIDs(ctx context.Context, parentIDs []int64) (map[int64][]int64, error)
	MappingsFrom(ctx context.Context, fromConceptIDs []int64) ([]*terminology.Mapping, error)
}

// Resolver resolves seed expressions.
type Resolver interface {
	Resolve(ctx context.Context, raw string, user *terminology.User) (*reference.Resolution, error)
}

// Result is the closure of a cascade. Entries are in discovery order.
type Result struct {
	Concepts []*terminology.Concept
	Mappings []*terminology.Mapping
	Total    int
}

type Traverser struct {
	graph Graph
	log   zerolog.Logger
}

func NewTraverser(graph Graph, log zerolog.Logger) *Traverser {
	return &Traverser{
		graph: graph,
		log:   log.With().Str("component", "cascade").Logger(),
	}
}

// traversalState tracks what has been reached. Every concept identity enters
// the frontier at most once, which bounds the walk on cyclic hierarchies.
type traversalState struct {
	visitedConcepts map[int64]bool
	visitedMappings map[int64]bool
	concepts        []*terminology.Concept
	mappings        []*terminology.Mapping
}

func newTraversalState() *traversalState {
	return &traversalState{
		visitedConcepts: make(map[int64]bool),
		visitedMappings: make(map[int64]bool),
	}
}

func (s *traversalState) addMapping(mapping *terminology.Mapping) bool {
	if s.visitedMappings[mapping.VersionedObjectID] {
		return false
	}
	s.visitedMappings[mapping.VersionedObjectID] = true
	s.mappings = append(s.mappings, mapping)
	return true
}

// Cascade returns the seeds plus everything reachable from them under params.
func (t *Traverser) Cascade(ctx context.Context, seeds []*terminology.Concept, params Params) (*Result, error) {
	state := newTraversalState()

	var frontier []int64
	for _, seed := range seeds {
		if state.visitedConcepts[seed.VersionedObjectID] {
			continue
		}
		state.visitedConcepts[seed.VersionedObjectID] = true
		state.concepts = append(state.concepts, seed)
		frontier = append(frontier, seed.VersionedObjectID)
	}

	level := 0
	for len(frontier) > 0 && params.Levels.allows(level) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := t.expandLevel(ctx, state, frontier, params)
		if err != nil {
			return nil, err
		}

		frontier = next
		level++
	}

	result := &Result{Concepts: state.concepts}
	if params.IncludeMappings {
		result.Mappings = state.mappings
	}
	result.Total = len(result.Concepts) + len(result.Mappings)

	t.log.Debug().
		Int("seeds", len(seeds)).
		Int("levels_walked", level).
		Str("levels", params.Levels.String()).
		Str("method", string(params.Method)).
		Int("concepts", len(result.Concepts)).
		Int("mappings", len(state.mappings)).
		Msg("Cascade completed")
	return result, nil
}

// expandLevel collects the children and mappings of frontier and returns the
// concept identities first reached at this level.
func (t *Traverser) expandLevel(ctx context.Context, state *traversalState, frontier []int64, params Params) ([]int64, error) {
	var next []int64
	reach := func(identityID int64) {
		if !state.visitedConcepts[identityID] {
			state.visitedConcepts[identityID] = true
			next = append(next, identityID)
		}
	}

	if params.CascadeHierarchy {
		children, err := t.graph.ChildIDs(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to load child concepts: %w", err)
		}
		for _, parentID := range frontier {
			for _, childID := range children[parentID] {
				reach(childID)
			}
		}
	}

	if params.CascadeMappings {
		mappings, err := t.graph.MappingsFrom(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to load mappings: %w", err)
		}
		for _, mapping := range mappings {
			if !params.Criteria.Allows(mapping.MapType) {
				continue
			}
			state.addMapping(mapping)
			if params.Method == MethodSourceToConcepts && mapping.ToConceptID != nil {
				reach(*mapping.ToConceptID)
			}
		}
	}

	if len(next) == 0 {
		return nil, nil
	}

	concepts, err := t.graph.LatestConcepts(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("failed to load concepts: %w", err)
	}
	byIdentity := make(map[int64]*terminology.Concept, len(concepts))
	for _, concept := range concepts {
		byIdentity[concept.VersionedObjectID] = concept
	}
	for _, identityID := range next {
		if concept, ok := byIdentity[identityID]; ok {
			state.concepts = append(state.concepts, concept)
		}
	}
	return next, nil
}

// CascadeExpressions resolves each expression and cascades from the concepts
// they match. Mapping expressions contribute their mappings directly.
// An expression that fails or matches nothing is reported and skipped.
func (t *Traverser) CascadeExpressions(ctx context.Context, resolver Resolver, expressions []string, params Params, user *terminology.User) (*Result, terminology.Errors) {
	errs := terminology.Errors{}
	var seeds []*terminology.Concept
	var direct []*terminology.Mapping

	for _, raw := range expressions {
		res, err := resolver.Resolve(ctx, raw, user)
		if err != nil {
			errs.AddError(raw, terminology.NewReferenceError(terminology.ResolutionFailure, raw, err.Error()))
			continue
		}
		if !res.IsResolved() {
			msg := terminology.MsgExpressionNotResolved
			if res.LookupFailed {
				msg = fmt.Sprintf(terminology.MsgRemoteLookupUnavailableFormat, raw)
			}
			errs.Add(raw, msg)
			continue
		}
		seeds = append(seeds, res.Concepts...)
		direct = append(direct, res.Mappings...)
	}

	result, err := t.Cascade(ctx, seeds, params)
	if err != nil {
		for _, raw := range expressions {
			if !errs.Has(raw) {
				errs.Add(raw, err.Error())
			}
		}
		return &Result{}, errs
	}

	if params.IncludeMappings && len(direct) > 0 {
		seen := make(map[int64]bool, len(result.Mappings))
		for _, mapping := range result.Mappings {
			seen[mapping.VersionedObjectID] = true
		}
		for _, mapping := range direct {
			if !seen[mapping.VersionedObjectID] {
				seen[mapping.VersionedObjectID] = true
				result.Mappings = append(result.Mappings, mapping)
			}
		}
		result.Total = len(result.Concepts) + len(result.Mappings)
	}
	return result, errs
}
