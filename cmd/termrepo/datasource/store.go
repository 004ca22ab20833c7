package datasource

import (
	"context"

	"github.com/SanteonNL/termrepo/models/terminology"
)

// ContentQuery selects concepts or mappings owned by a source.
// An empty Mnemonic selects every entity of the source.
// Version HEAD (or empty) selects latest versions, unless SourceVersion
// names a released source version, in which case its members are selected.
type ContentQuery struct {
	OwnerType     string
	Owner         string
	Source        string
	SourceVersion string
	Mnemonic      string
	Version       string
	PublicOnly    bool
}

// ContentReader reads sources, concepts, mappings and hierarchy edges.
// Hierarchy and mapping adjacency is keyed by concept identity (versioned object id).
type ContentReader interface {
	GetSource(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.Source, error)
	GetSourceByURI(ctx context.Context, uri string) (*terminology.Source, error)
	FindConcepts(ctx context.Context, query ContentQuery) ([]*terminology.Concept, error)
	FindMappings(ctx context.Context, query ContentQuery) ([]*terminology.Mapping, error)
	ConceptsByURI(ctx context.Context, uris []string) ([]*terminology.Concept, error)
	MappingsByURI(ctx context.Context, uris []string) ([]*terminology.Mapping, error)
	LatestConcepts(ctx context.Context, identityIDs []int64) ([]*terminology.Concept, error)
	ChildIDs(ctx context.Context, parentIDs []int64) (map[int64][]int64, error)
	MappingsFrom(ctx context.Context, fromConceptIDs []int64) ([]*terminology.Mapping, error)
}

// ContentWriter persists content. Entities are fully written before they become visible.
type ContentWriter interface {
	PutSource(ctx context.Context, source *terminology.Source) error
	PutConcept(ctx context.Context, concept *terminology.Concept) error
	PutMapping(ctx context.Context, mapping *terminology.Mapping) error
	PutHierarchyEdge(ctx context.Context, edge terminology.HierarchyEdge) error
}

// CollectionStore persists collection versions and their references.
type CollectionStore interface {
	GetCollectionVersion(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.CollectionVersion, error)
	SaveCollectionVersion(ctx context.Context, cv *terminology.CollectionVersion) error
	ListReferences(ctx context.Context, collectionVersionID int64) ([]*terminology.Reference, error)
	SaveReference(ctx context.Context, ref *terminology.Reference) error
	DeleteReferences(ctx context.Context, collectionVersionID int64, expressions []string) (int, error)
	DeleteAllReferences(ctx context.Context, collectionVersionID int64) (int, error)
}

// ExpansionStore persists expansions and their membership sets.
// Membership additions are idempotent and report how many members were new.
type ExpansionStore interface {
	GetExpansion(ctx context.Context, uri string) (*terminology.Expansion, error)
	GetExpansionByID(ctx context.Context, id int64) (*terminology.Expansion, error)
	ListExpansions(ctx context.Context, collectionVersionID int64) ([]*terminology.Expansion, error)
	SaveExpansion(ctx context.Context, expansion *terminology.Expansion) error
	DeleteExpansion(ctx context.Context, id int64) error
	AddExpansionConcepts(ctx context.Context, expansionID int64, conceptIDs []int64) (int, error)
	AddExpansionMappings(ctx context.Context, expansionID int64, mappingIDs []int64) (int, error)
	RemoveExpansionConcepts(ctx context.Context, expansionID int64, conceptIDs []int64) (int, error)
	RemoveExpansionMappings(ctx context.Context, expansionID int64, mappingIDs []int64) (int, error)
	ExpansionConcepts(ctx context.Context, expansionID int64) ([]*terminology.Concept, error)
	ExpansionMappings(ctx context.Context, expansionID int64) ([]*terminology.Mapping, error)
}

// Store is implemented by MemoryStore and PostgresStore.
type Store interface {
	ContentReader
	ContentWriter
	CollectionStore
	ExpansionStore
}
