package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedJSON = `{
  "sources": [{"id": 1, "owner_type": "orgs", "owner": "CIEL", "short_code": "CIEL", "public_access": "View"}],
  "concepts": [
    {"id": 10, "owner_type": "orgs", "owner": "CIEL", "source": "CIEL", "id_mnemonic": "A", "version": "1",
     "is_active": true, "is_latest_version": true, "public_access": "View",
     "names": [{"name": "Malaria", "locale": "en", "type": "FULLY_SPECIFIED", "locale_preferred": true}]},
    {"id": 11, "owner_type": "orgs", "owner": "CIEL", "source": "CIEL", "id_mnemonic": "B", "version": "1",
     "is_active": true, "is_latest_version": true, "public_access": "View"}
  ],
  "mappings": [
    {"id": 20, "owner_type": "orgs", "owner": "CIEL", "source": "CIEL", "id_mnemonic": "M1", "version": "1",
     "map_type": "SAME-AS", "from_concept_id": 10, "to_concept_id": 11, "is_active": true, "is_latest_version": true}
  ],
  "hierarchy": [{"parent_id": 10, "child_id": 11}],
  "collections": [{"owner_type": "orgs", "owner": "MOH", "short_code": "malaria", "autoexpand_head": true}]
}`

func TestLoaderLoadDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ciel.json"), []byte(seedJSON), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	store := NewMemoryStore(zerolog.Nop())
	require.NoError(t, NewLoader(store, zerolog.Nop()).LoadDirectory(ctx, dir))

	source, err := store.GetSource(ctx, "orgs", "CIEL", "CIEL", "")
	require.NoError(t, err)
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/", source.URI)

	concepts, err := store.FindConcepts(ctx, ContentQuery{Source: "CIEL"})
	require.NoError(t, err)
	require.Len(t, concepts, 2)
	assert.Equal(t, "Malaria", concepts[0].DisplayName())

	children, err := store.ChildIDs(ctx, []int64{10})
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, children[10])

	cv, err := store.GetCollectionVersion(ctx, "orgs", "MOH", "malaria", "HEAD")
	require.NoError(t, err)
	assert.True(t, cv.ShouldAutoExpand())
}

func TestLoaderSkipsBrokenFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ciel.json"), []byte(seedJSON), 0644))

	store := NewMemoryStore(zerolog.Nop())
	err := NewLoader(store, zerolog.Nop()).LoadDirectory(ctx, dir)
	assert.Error(t, err)

	concepts, findErr := store.FindConcepts(ctx, ContentQuery{Source: "CIEL"})
	require.NoError(t, findErr)
	assert.Len(t, concepts, 2)
}

func TestLoaderMissingDirectory(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	err := NewLoader(store, zerolog.Nop()).LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
