package datasource_test

import (
	"context"
	"testing"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource/dstest"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFindConcepts(t *testing.T) {
	ctx := context.Background()
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a1 := b.Concept(source, "A", dstest.InSourceVersions("v1"))
	a2 := b.ConceptVersion(a1, "2", dstest.InSourceVersions("v2"))
	private := b.Concept(source, "P", dstest.Private)

	latest, err := b.Store.FindConcepts(ctx, datasource.ContentQuery{OwnerType: "orgs", Owner: "CIEL", Source: "CIEL", Mnemonic: "A"})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, a2.ID, latest[0].ID)
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/concepts/A/2/", latest[0].URI)
	assert.Equal(t, a1.VersionedObjectID, latest[0].VersionedObjectID)

	pinned, err := b.Store.FindConcepts(ctx, datasource.ContentQuery{Source: "CIEL", Mnemonic: "A", Version: "1"})
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, a1.ID, pinned[0].ID)

	inRelease, err := b.Store.FindConcepts(ctx, datasource.ContentQuery{Source: "CIEL", SourceVersion: "v1"})
	require.NoError(t, err)
	require.Len(t, inRelease, 1)
	assert.Equal(t, a1.ID, inRelease[0].ID)

	all, err := b.Store.FindConcepts(ctx, datasource.ContentQuery{Source: "CIEL"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	public, err := b.Store.FindConcepts(ctx, datasource.ContentQuery{Source: "CIEL", PublicOnly: true})
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.NotEqual(t, private.ID, public[0].ID)
}

func TestMemoryStoreGraphQueries(t *testing.T) {
	ctx := context.Background()
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a := b.Concept(source, "A")
	c := b.Concept(source, "C")
	child := b.Concept(source, "B")
	b.Child(a, child)
	b.Child(a, child)
	mapping := b.Mapping(source, "M1", "SAME-AS", a, c)

	children, err := b.Store.ChildIDs(ctx, []int64{a.VersionedObjectID, c.VersionedObjectID})
	require.NoError(t, err)
	assert.Equal(t, map[int64][]int64{a.VersionedObjectID: {child.VersionedObjectID}}, children)

	mappings, err := b.Store.MappingsFrom(ctx, []int64{a.VersionedObjectID})
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, mapping.ID, mappings[0].ID)

	latest, err := b.Store.LatestConcepts(ctx, []int64{c.VersionedObjectID})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, c.ID, latest[0].ID)

	byURI, err := b.Store.MappingsByURI(ctx, []string{mapping.URI, "/missing/"})
	require.NoError(t, err)
	assert.Len(t, byURI, 1)
}

func TestMemoryStoreExpansionMembership(t *testing.T) {
	ctx := context.Background()
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a := b.Concept(source, "A")
	c := b.Concept(source, "C")
	cv := b.Collection("MOH", "malaria")

	expansion := &terminology.Expansion{Mnemonic: "e1", URI: cv.ExpansionsURI() + "e1/", CollectionVersionID: cv.ID}
	require.NoError(t, b.Store.SaveExpansion(ctx, expansion))

	added, err := b.Store.AddExpansionConcepts(ctx, expansion.ID, []int64{a.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = b.Store.AddExpansionConcepts(ctx, expansion.ID, []int64{a.ID})
	require.NoError(t, err)
	assert.Zero(t, added, "adding an existing member is a no-op")

	removed, err := b.Store.RemoveExpansionConcepts(ctx, expansion.ID, []int64{a.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	members, err := b.Store.ExpansionConcepts(ctx, expansion.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, c.ID, members[0].ID)

	_, err = b.Store.AddExpansionConcepts(ctx, 12345, []int64{a.ID})
	assert.ErrorIs(t, err, terminology.ErrNotFound)

	duplicate := &terminology.Expansion{Mnemonic: "e1", URI: expansion.URI, CollectionVersionID: cv.ID}
	assert.Error(t, b.Store.SaveExpansion(ctx, duplicate))

	require.NoError(t, b.Store.DeleteExpansion(ctx, expansion.ID))
	_, err = b.Store.GetExpansion(ctx, expansion.URI)
	assert.ErrorIs(t, err, terminology.ErrNotFound)
}

func TestMemoryStoreReferences(t *testing.T) {
	ctx := context.Background()
	b := dstest.New(t)
	cv := b.Collection("MOH", "malaria")

	first := &terminology.Reference{CollectionVersionID: cv.ID, Expression: "/orgs/CIEL/sources/CIEL/concepts/A/"}
	second := &terminology.Reference{CollectionVersionID: cv.ID, Expression: "/orgs/CIEL/sources/CIEL/concepts/B/"}
	require.NoError(t, b.Store.SaveReference(ctx, first))
	require.NoError(t, b.Store.SaveReference(ctx, second))
	assert.NotZero(t, first.ID)

	first.State = terminology.StateAdmitted
	require.NoError(t, b.Store.SaveReference(ctx, first))

	refs, err := b.Store.ListReferences(ctx, cv.ID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, terminology.StateAdmitted, refs[0].State)

	deleted, err := b.Store.DeleteReferences(ctx, cv.ID, []string{second.Expression})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	err = b.Store.SaveReference(ctx, &terminology.Reference{CollectionVersionID: 4242, Expression: "/x/"})
	assert.ErrorIs(t, err, terminology.ErrNotFound)

	_, err = b.Store.GetCollectionVersion(ctx, "orgs", "MOH", "missing", "")
	assert.ErrorIs(t, err, terminology.ErrNotFound)
}

func TestMemoryStoreReadersReturnCopies(t *testing.T) {
	ctx := context.Background()
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL")
	a1 := b.Concept(source, "A")

	before, err := b.Store.LatestConcepts(ctx, []int64{a1.VersionedObjectID})
	require.NoError(t, err)
	require.Len(t, before, 1)

	a2 := b.ConceptVersion(a1, "2")
	assert.True(t, before[0].IsLatestVersion, "a read result is not changed by later writes")

	after, err := b.Store.LatestConcepts(ctx, []int64{a1.VersionedObjectID})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, a2.ID, after[0].ID)

	after[0].Retired = true
	again, err := b.Store.ConceptsByURI(ctx, []string{a2.URI})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.False(t, again[0].Retired, "callers cannot modify stored concepts")
}
