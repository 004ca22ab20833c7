// Package dstest builds terminology content in a MemoryStore for tests.
package dstest

import (
	"context"
	"testing"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type Builder struct {
	t     testing.TB
	ctx   context.Context
	Store *datasource.MemoryStore
}

func New(t testing.TB) *Builder {
	return &Builder{
		t:     t,
		ctx:   context.Background(),
		Store: datasource.NewMemoryStore(zerolog.Nop()),
	}
}

func (b *Builder) Source(owner, mnemonic string, opts ...func(*terminology.Source)) *terminology.Source {
	source := &terminology.Source{
		OwnerType:    terminology.OwnerTypeOrgs,
		Owner:        owner,
		Mnemonic:     mnemonic,
		Version:      terminology.HEAD,
		PublicAccess: terminology.AccessView,
	}
	for _, opt := range opts {
		opt(source)
	}
	require.NoError(b.t, b.Store.PutSource(b.ctx, source))
	return source
}

// Concept creates version "1" of a new concept identity with an English preferred name.
func (b *Builder) Concept(source *terminology.Source, mnemonic string, opts ...func(*terminology.Concept)) *terminology.Concept {
	concept := &terminology.Concept{
		OwnerType:       source.OwnerType,
		Owner:           source.Owner,
		Source:          source.Mnemonic,
		Mnemonic:        mnemonic,
		Version:         "1",
		ConceptClass:    "Diagnosis",
		Datatype:        "N/A",
		IsActive:        true,
		IsLatestVersion: true,
		PublicAccess:    source.PublicAccess,
		Names: []terminology.LocalizedText{
			{Name: "Concept " + mnemonic, Locale: "en", Type: terminology.NameTypeFullySpecified, LocalePreferred: true},
		},
	}
	for _, opt := range opts {
		opt(concept)
	}
	require.NoError(b.t, b.Store.PutConcept(b.ctx, concept))
	return concept
}

// ConceptVersion creates a newer version of prev and makes it the latest.
func (b *Builder) ConceptVersion(prev *terminology.Concept, version string, opts ...func(*terminology.Concept)) *terminology.Concept {
	concept := *prev
	concept.ID = 0
	concept.URI = ""
	concept.Version = version
	concept.IsLatestVersion = true
	for _, opt := range opts {
		opt(&concept)
	}
	require.NoError(b.t, b.Store.PutConcept(b.ctx, &concept))
	prev.IsLatestVersion = false
	return &concept
}

func (b *Builder) Mapping(source *terminology.Source, mnemonic, mapType string, from, to *terminology.Concept, opts ...func(*terminology.Mapping)) *terminology.Mapping {
	mapping := &terminology.Mapping{
		OwnerType:       source.OwnerType,
		Owner:           source.Owner,
		Source:          source.Mnemonic,
		Mnemonic:        mnemonic,
		Version:         "1",
		MapType:         mapType,
		FromConceptID:   from.VersionedObjectID,
		FromConceptURI:  from.VersionlessURI(),
		IsActive:        true,
		IsLatestVersion: true,
		PublicAccess:    source.PublicAccess,
	}
	if to != nil {
		toID := to.VersionedObjectID
		mapping.ToConceptID = &toID
		mapping.ToConceptURI = to.VersionlessURI()
		mapping.ToConceptCode = to.Mnemonic
	}
	for _, opt := range opts {
		opt(mapping)
	}
	require.NoError(b.t, b.Store.PutMapping(b.ctx, mapping))
	return mapping
}

func (b *Builder) Child(parent, child *terminology.Concept) {
	require.NoError(b.t, b.Store.PutHierarchyEdge(b.ctx, terminology.HierarchyEdge{
		ParentID: parent.VersionedObjectID,
		ChildID:  child.VersionedObjectID,
	}))
}

// Collection creates the HEAD version of a collection with auto-expansion enabled.
func (b *Builder) Collection(owner, mnemonic string, opts ...func(*terminology.CollectionVersion)) *terminology.CollectionVersion {
	cv := &terminology.CollectionVersion{
		OwnerType:      terminology.OwnerTypeOrgs,
		Owner:          owner,
		Mnemonic:       mnemonic,
		Name:           mnemonic,
		Version:        terminology.HEAD,
		AutoexpandHead: true,
	}
	for _, opt := range opts {
		opt(cv)
	}
	require.NoError(b.t, b.Store.SaveCollectionVersion(b.ctx, cv))
	return cv
}

func Retired(c *terminology.Concept) {
	c.Retired = true
	c.IsActive = false
}

func Private(c *terminology.Concept) {
	c.PublicAccess = terminology.AccessNone
}

func OpenMRS(cv *terminology.CollectionVersion) {
	cv.CustomValidationSchema = terminology.SchemaOpenMRS
}

func NoAutoexpand(cv *terminology.CollectionVersion) {
	cv.AutoexpandHead = false
}

func Names(names ...terminology.LocalizedText) func(*terminology.Concept) {
	return func(c *terminology.Concept) {
		c.Names = names
	}
}

func InSourceVersions(versions ...string) func(*terminology.Concept) {
	return func(c *terminology.Concept) {
		c.SourceVersions = versions
	}
}
