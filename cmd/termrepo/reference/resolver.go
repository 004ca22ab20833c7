// Package reference resolves reference expressions to concrete concept and
// mapping versions. Resolution is read only.
package reference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expression"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// ContentReader is the subset of the store the resolver reads from.
type ContentReader interface {
	FindConcepts(ctx context.Context, query datasource.ContentQuery) ([]*terminology.Concept, error)
	FindMappings(ctx context.Context, query datasource.ContentQuery) ([]*terminology.Mapping, error)
	ConceptsByURI(ctx context.Context, uris []string) ([]*terminology.Concept, error)
	MappingsByURI(ctx context.Context, uris []string) ([]*terminology.Mapping, error)
}

// Lookup answers search expressions with the version URLs they currently match.
type Lookup interface {
	Fetch(ctx context.Context, expression string, user *terminology.User) ([]string, error)
}

// Resolution is the outcome of resolving one expression.
type Resolution struct {
	// Expression is pinned to the first match's URI for identity expressions.
	Expression   string
	Original     string
	Kind         expression.Kind
	Search       bool
	LookupFailed bool
	Concepts     []*terminology.Concept
	Mappings     []*terminology.Mapping
}

func (r *Resolution) IsResolved() bool {
	return len(r.Concepts) > 0 || len(r.Mappings) > 0
}

// Apply copies the resolution onto ref. Unresolved references are deferred.
func (r *Resolution) Apply(ref *terminology.Reference, at time.Time) {
	ref.OriginalExpression = r.Original
	ref.Expression = r.Expression
	ref.Concepts = r.Concepts
	ref.Mappings = r.Mappings
	if r.IsResolved() {
		ref.LastResolvedAt = &at
		ref.State = terminology.StateResolved
		return
	}
	ref.Defer()
}

type Resolver struct {
	store       ContentReader
	lookup      Lookup
	concurrency int
	log         zerolog.Logger
}

// NewResolver creates a resolver. lookup may be nil, in which case search
// expressions never match.
func NewResolver(store ContentReader, lookup Lookup, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:       store,
		lookup:      lookup,
		concurrency: defaultConcurrency,
		log:         log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve matches raw against local storage, or against the remote lookup
// when raw is a search expression. A failing lookup degrades to no matches.
func (r *Resolver) Resolve(ctx context.Context, raw string, user *terminology.User) (*Resolution, error) {
	expr := expression.Parse(raw)
	res := &Resolution{
		Expression: raw,
		Original:   raw,
		Kind:       expr.Kind,
		Search:     expr.IsSearch(),
	}
	if !expr.IsConcept() && !expr.IsMapping() {
		return res, nil
	}

	var err error
	if res.Search {
		err = r.resolveSearch(ctx, expr, user, res)
	} else {
		err = r.resolveIdentity(ctx, expr, res)
	}
	if err != nil {
		return nil, err
	}

	if !res.Search {
		if len(res.Concepts) > 0 {
			res.Expression = res.Concepts[0].URI
		} else if len(res.Mappings) > 0 {
			res.Expression = res.Mappings[0].URI
		}
	}

	r.log.Debug().
		Str("expression", raw).
		Str("resolved", res.Expression).
		Int("concepts", len(res.Concepts)).
		Int("mappings", len(res.Mappings)).
		Bool("search", res.Search).
		Msg("Resolved expression")
	return res, nil
}

func (r *Resolver) resolveIdentity(ctx context.Context, expr expression.Expression, res *Resolution) error {
	if expr.Mnemonic == "" || expr.ContainerType != terminology.KindSource {
		return nil
	}

	query := datasource.ContentQuery{
		OwnerType:     expr.OwnerType,
		Owner:         expr.Owner,
		Source:        expr.Container,
		SourceVersion: expr.ContainerVersion,
		Mnemonic:      expr.Mnemonic,
		Version:       expr.Version,
	}

	var err error
	if expr.IsConcept() {
		res.Concepts, err = r.store.FindConcepts(ctx, query)
	} else {
		res.Mappings, err = r.store.FindMappings(ctx, query)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", expr.Raw, err)
	}
	return nil
}

func (r *Resolver) resolveSearch(ctx context.Context, expr expression.Expression, user *terminology.User, res *Resolution) error {
	if r.lookup == nil {
		r.log.Warn().Str("expression", expr.Raw).Msg("No remote lookup configured, search expression has no matches")
		res.LookupFailed = true
		return nil
	}

	uris, err := r.lookup.Fetch(ctx, expr.Raw, user)
	if err != nil {
		r.log.Warn().Err(err).Str("expression", expr.Raw).Msg("Remote lookup failed, treating as no matches")
		res.LookupFailed = true
		return nil
	}
	if len(uris) == 0 {
		return nil
	}

	if expr.IsConcept() {
		res.Concepts, err = r.store.ConceptsByURI(ctx, uris)
	} else {
		res.Mappings, err = r.store.MappingsByURI(ctx, uris)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve lookup matches for %s: %w", expr.Raw, err)
	}
	return nil
}

// ResolveAll resolves expressions concurrently. Results keep the input order;
// an expression whose resolution failed has a nil result and an entry in errs.
func (r *Resolver) ResolveAll(ctx context.Context, expressions []string, user *terminology.User) ([]*Resolution, terminology.Errors) {
	results := make([]*Resolution, len(expressions))
	errs := terminology.Errors{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, raw := range expressions {
		i, raw := i, raw
		g.Go(func() error {
			res, err := r.Resolve(gctx, raw, user)
			if err != nil {
				mu.Lock()
				errs.Add(raw, err.Error())
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}
