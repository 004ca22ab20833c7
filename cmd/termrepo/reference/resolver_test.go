package reference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource/dstest"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expression"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	uris  []string
	err   error
	calls int
}

func (f *fakeLookup) Fetch(_ context.Context, _ string, _ *terminology.User) ([]string, error) {
	f.calls++
	return f.uris, f.err
}

func TestResolveIdentity(t *testing.T) {
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a1 := b.Concept(source, "A")
	a2 := b.ConceptVersion(a1, "2")
	resolver := NewResolver(b.Store, nil, zerolog.Nop())

	res, err := resolver.Resolve(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/A/", nil)
	require.NoError(t, err)
	require.Len(t, res.Concepts, 1)
	assert.Equal(t, a2.ID, res.Concepts[0].ID, "unversioned expression resolves to the latest version")
	assert.Equal(t, a2.URI, res.Expression, "identity expression is pinned to the matched version")
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/concepts/A/", res.Original)

	res, err = resolver.Resolve(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/A/1/", nil)
	require.NoError(t, err)
	require.Len(t, res.Concepts, 1)
	assert.Equal(t, a1.ID, res.Concepts[0].ID)
	assert.Equal(t, expression.KindConcept, res.Kind)
}

func TestResolveMapping(t *testing.T) {
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a := b.Concept(source, "A")
	c := b.Concept(source, "C")
	mapping := b.Mapping(source, "M1", "SAME-AS", a, c)
	resolver := NewResolver(b.Store, nil, zerolog.Nop())

	res, err := resolver.Resolve(context.Background(), "/orgs/CIEL/sources/CIEL/mappings/M1/", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Concepts)
	require.Len(t, res.Mappings, 1)
	assert.Equal(t, mapping.URI, res.Expression)
}

func TestResolveNoMatch(t *testing.T) {
	b := dstest.New(t)
	b.Source("CIEL", "CIEL")
	resolver := NewResolver(b.Store, nil, zerolog.Nop())

	for _, raw := range []string{
		"/orgs/CIEL/sources/CIEL/concepts/missing/",
		"/orgs/CIEL/sources/CIEL/",
		"not an expression",
		"/orgs/CIEL/sources/CIEL/concepts/",
	} {
		res, err := resolver.Resolve(context.Background(), raw, nil)
		require.NoError(t, err, raw)
		assert.False(t, res.IsResolved(), raw)
		assert.Equal(t, raw, res.Expression, raw)
	}
}

func TestResolveSearch(t *testing.T) {
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a := b.Concept(source, "A")
	c := b.Concept(source, "C")
	lookup := &fakeLookup{uris: []string{c.URI, a.URI}}
	resolver := NewResolver(b.Store, lookup, zerolog.Nop())

	raw := "/orgs/CIEL/sources/CIEL/concepts/?q=malaria"
	res, err := resolver.Resolve(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.True(t, res.Search)
	assert.Len(t, res.Concepts, 2)
	assert.Equal(t, raw, res.Expression, "search expressions are never pinned")

	_, err = resolver.Resolve(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.calls, "search expressions are re-resolved on every call")
}

func TestResolveSearchDegradesOnLookupFailure(t *testing.T) {
	b := dstest.New(t)
	b.Source("CIEL", "CIEL")
	resolver := NewResolver(b.Store, &fakeLookup{err: errors.New("timeout")}, zerolog.Nop())

	res, err := resolver.Resolve(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=malaria", nil)
	require.NoError(t, err)
	assert.False(t, res.IsResolved())
	assert.True(t, res.LookupFailed)

	withoutLookup := NewResolver(b.Store, nil, zerolog.Nop())
	res, err = withoutLookup.Resolve(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=malaria", nil)
	require.NoError(t, err)
	assert.True(t, res.LookupFailed)
}

func TestResolutionApply(t *testing.T) {
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a := b.Concept(source, "A")
	resolver := NewResolver(b.Store, nil, zerolog.Nop())
	now := time.Now()

	res, err := resolver.Resolve(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/A/", nil)
	require.NoError(t, err)
	ref := &terminology.Reference{Expression: "/orgs/CIEL/sources/CIEL/concepts/A/"}
	res.Apply(ref, now)
	assert.Equal(t, a.URI, ref.Expression)
	assert.Equal(t, terminology.StateResolved, ref.State)
	require.NotNil(t, ref.LastResolvedAt)

	res, err = resolver.Resolve(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/missing/", nil)
	require.NoError(t, err)
	missing := &terminology.Reference{Expression: res.Original}
	res.Apply(missing, now)
	assert.Nil(t, missing.LastResolvedAt)
	assert.Equal(t, terminology.StateDeferred, missing.State)
}

func TestResolveAllKeepsOrder(t *testing.T) {
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	var expressions []string
	for _, mnemonic := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		expressions = append(expressions, b.Concept(source, mnemonic).URI)
	}
	resolver := NewResolver(b.Store, nil, zerolog.Nop())

	results, errs := resolver.ResolveAll(context.Background(), expressions, nil)
	assert.Empty(t, errs)
	require.Len(t, results, len(expressions))
	for i, res := range results {
		assert.Equal(t, expressions[i], res.Expression)
	}
}
