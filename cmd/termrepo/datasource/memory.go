package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// MemoryStore keeps all content in process. It backs tests and the
// development server when no database is configured.
type MemoryStore struct {
	mu  sync.RWMutex
	log zerolog.Logger

	nextID int64

	sources            map[int64]*terminology.Source
	concepts           map[int64]*terminology.Concept
	mappings           map[int64]*terminology.Mapping
	children           map[int64][]int64
	collectionVersions map[int64]*terminology.CollectionVersion
	references         map[int64][]*terminology.Reference
	expansions         map[int64]*terminology.Expansion
	expansionConcepts  map[int64]map[int64]struct{}
	expansionMappings  map[int64]map[int64]struct{}
}

func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		log:                log.With().Str("component", "memory_store").Logger(),
		sources:            make(map[int64]*terminology.Source),
		concepts:           make(map[int64]*terminology.Concept),
		mappings:           make(map[int64]*terminology.Mapping),
		children:           make(map[int64][]int64),
		collectionVersions: make(map[int64]*terminology.CollectionVersion),
		references:         make(map[int64][]*terminology.Reference),
		expansions:         make(map[int64]*terminology.Expansion),
		expansionConcepts:  make(map[int64]map[int64]struct{}),
		expansionMappings:  make(map[int64]map[int64]struct{}),
	}
}

// assignID must be called with the write lock held.
func (s *MemoryStore) assignID(id *int64) {
	if *id == 0 {
		s.nextID++
		*id = s.nextID
		return
	}
	if *id > s.nextID {
		s.nextID = *id
	}
}

func (s *MemoryStore) PutSource(_ context.Context, source *terminology.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignID(&source.ID)
	if source.Version == "" {
		source.Version = terminology.HEAD
	}
	if source.URI == "" {
		source.URI = fmt.Sprintf("/%s/%s/sources/%s/", source.OwnerType, source.Owner, source.Mnemonic)
		if !source.IsHead() {
			source.URI += source.Version + "/"
		}
	}
	stored := *source
	s.sources[source.ID] = &stored
	return nil
}

func (s *MemoryStore) PutConcept(_ context.Context, concept *terminology.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignID(&concept.ID)
	if concept.VersionedObjectID == 0 {
		concept.VersionedObjectID = concept.ID
	}
	if concept.URI == "" {
		concept.URI = fmt.Sprintf("%s%s/", concept.VersionlessURI(), concept.Version)
	}
	if concept.UpdatedAt.IsZero() {
		concept.UpdatedAt = time.Now()
	}
	if concept.IsLatestVersion {
		for _, other := range s.concepts {
			if other.VersionedObjectID == concept.VersionedObjectID && other.ID != concept.ID {
				other.IsLatestVersion = false
			}
		}
	}
	stored := *concept
	s.concepts[concept.ID] = &stored
	return nil
}

func (s *MemoryStore) PutMapping(_ context.Context, mapping *terminology.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignID(&mapping.ID)
	if mapping.VersionedObjectID == 0 {
		mapping.VersionedObjectID = mapping.ID
	}
	if mapping.URI == "" {
		mapping.URI = fmt.Sprintf("%s%s/", mapping.VersionlessURI(), mapping.Version)
	}
	if mapping.UpdatedAt.IsZero() {
		mapping.UpdatedAt = time.Now()
	}
	if mapping.IsLatestVersion {
		for _, other := range s.mappings {
			if other.VersionedObjectID == mapping.VersionedObjectID && other.ID != mapping.ID {
				other.IsLatestVersion = false
			}
		}
	}
	stored := *mapping
	s.mappings[mapping.ID] = &stored
	return nil
}

func (s *MemoryStore) PutHierarchyEdge(_ context.Context, edge terminology.HierarchyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.children[edge.ParentID], edge.ChildID) {
		s.children[edge.ParentID] = append(s.children[edge.ParentID], edge.ChildID)
	}
	return nil
}

func (s *MemoryStore) GetSource(_ context.Context, ownerType, owner, mnemonic, version string) (*terminology.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == "" {
		version = terminology.HEAD
	}
	for _, source := range s.sources {
		if source.OwnerType == ownerType && source.Owner == owner && source.Mnemonic == mnemonic && source.Version == version {
			found := *source
			return &found, nil
		}
	}
	return nil, fmt.Errorf("source %s/%s/%s@%s: %w", ownerType, owner, mnemonic, version, terminology.ErrNotFound)
}

func (s *MemoryStore) GetSourceByURI(_ context.Context, uri string) (*terminology.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, source := range s.sources {
		if source.URI == uri {
			found := *source
			return &found, nil
		}
	}
	return nil, fmt.Errorf("source %s: %w", uri, terminology.ErrNotFound)
}

func matchesConcept(c *terminology.Concept, q ContentQuery) bool {
	if (q.OwnerType != "" && c.OwnerType != q.OwnerType) || (q.Owner != "" && c.Owner != q.Owner) || (q.Source != "" && c.Source != q.Source) {
		return false
	}
	if q.Mnemonic != "" && c.Mnemonic != q.Mnemonic {
		return false
	}
	if q.PublicOnly && c.PublicAccess == terminology.AccessNone {
		return false
	}
	return matchesVersion(c.Version, c.IsLatestVersion, c.InSourceVersion, q)
}

func matchesMapping(m *terminology.Mapping, q ContentQuery) bool {
	if (q.OwnerType != "" && m.OwnerType != q.OwnerType) || (q.Owner != "" && m.Owner != q.Owner) || (q.Source != "" && m.Source != q.Source) {
		return false
	}
	if q.Mnemonic != "" && m.Mnemonic != q.Mnemonic {
		return false
	}
	if q.PublicOnly && m.PublicAccess == terminology.AccessNone {
		return false
	}
	return matchesVersion(m.Version, m.IsLatestVersion, m.InSourceVersion, q)
}

func matchesVersion(version string, latest bool, inSourceVersion func(string) bool, q ContentQuery) bool {
	if q.Version != "" && q.Version != terminology.HEAD {
		return version == q.Version
	}
	if q.SourceVersion != "" && q.SourceVersion != terminology.HEAD {
		return inSourceVersion(q.SourceVersion)
	}
	return latest
}

func (s *MemoryStore) FindConcepts(_ context.Context, query ContentQuery) ([]*terminology.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Concept
	for _, concept := range s.concepts {
		if matchesConcept(concept, query) {
			out = append(out, copyConcept(concept))
		}
	}
	sortConcepts(out)
	return out, nil
}

func (s *MemoryStore) FindMappings(_ context.Context, query ContentQuery) ([]*terminology.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Mapping
	for _, mapping := range s.mappings {
		if matchesMapping(mapping, query) {
			out = append(out, copyMapping(mapping))
		}
	}
	sortMappings(out)
	return out, nil
}

func (s *MemoryStore) ConceptsByURI(_ context.Context, uris []string) ([]*terminology.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Concept
	for _, concept := range s.concepts {
		if slices.Contains(uris, concept.URI) {
			out = append(out, copyConcept(concept))
		}
	}
	sortConcepts(out)
	return out, nil
}

func (s *MemoryStore) MappingsByURI(_ context.Context, uris []string) ([]*terminology.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Mapping
	for _, mapping := range s.mappings {
		if slices.Contains(uris, mapping.URI) {
			out = append(out, copyMapping(mapping))
		}
	}
	sortMappings(out)
	return out, nil
}

func (s *MemoryStore) LatestConcepts(_ context.Context, identityIDs []int64) ([]*terminology.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Concept
	for _, concept := range s.concepts {
		if concept.IsLatestVersion && slices.Contains(identityIDs, concept.VersionedObjectID) {
			out = append(out, copyConcept(concept))
		}
	}
	sortConcepts(out)
	return out, nil
}

func (s *MemoryStore) ChildIDs(_ context.Context, parentIDs []int64) (map[int64][]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64][]int64, len(parentIDs))
	for _, parentID := range parentIDs {
		if children := s.children[parentID]; len(children) > 0 {
			out[parentID] = slices.Clone(children)
		}
	}
	return out, nil
}

func (s *MemoryStore) MappingsFrom(_ context.Context, fromConceptIDs []int64) ([]*terminology.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Mapping
	for _, mapping := range s.mappings {
		if mapping.IsLatestVersion && slices.Contains(fromConceptIDs, mapping.FromConceptID) {
			out = append(out, copyMapping(mapping))
		}
	}
	sortMappings(out)
	return out, nil
}

func (s *MemoryStore) GetCollectionVersion(_ context.Context, ownerType, owner, mnemonic, version string) (*terminology.CollectionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == "" {
		version = terminology.HEAD
	}
	for _, cv := range s.collectionVersions {
		if cv.OwnerType == ownerType && cv.Owner == owner && cv.Mnemonic == mnemonic && cv.Version == version {
			found := *cv
			return &found, nil
		}
	}
	return nil, fmt.Errorf("collection %s/%s/%s@%s: %w", ownerType, owner, mnemonic, version, terminology.ErrNotFound)
}

func (s *MemoryStore) SaveCollectionVersion(_ context.Context, cv *terminology.CollectionVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignID(&cv.ID)
	if cv.Version == "" {
		cv.Version = terminology.HEAD
	}
	if cv.URI == "" {
		cv.URI = cv.CollectionURI()
		if !cv.IsHead() {
			cv.URI += cv.Version + "/"
		}
	}
	cv.UpdatedAt = time.Now()
	stored := *cv
	s.collectionVersions[cv.ID] = &stored
	return nil
}

func (s *MemoryStore) ListReferences(_ context.Context, collectionVersionID int64) ([]*terminology.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.references[collectionVersionID]
	out := make([]*terminology.Reference, 0, len(refs))
	for _, ref := range refs {
		copied := *ref
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) SaveReference(_ context.Context, ref *terminology.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collectionVersions[ref.CollectionVersionID]; !ok {
		return fmt.Errorf("collection version %d: %w", ref.CollectionVersionID, terminology.ErrNotFound)
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}

	stored := *ref
	stored.Concepts, stored.Mappings = nil, nil
	refs := s.references[ref.CollectionVersionID]
	if ref.ID != 0 {
		for i, existing := range refs {
			if existing.ID == ref.ID {
				refs[i] = &stored
				return nil
			}
		}
	}
	s.assignID(&ref.ID)
	stored.ID = ref.ID
	s.references[ref.CollectionVersionID] = append(refs, &stored)
	return nil
}

func (s *MemoryStore) DeleteReferences(_ context.Context, collectionVersionID int64, expressions []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := s.references[collectionVersionID]
	kept := refs[:0]
	for _, ref := range refs {
		if !slices.Contains(expressions, ref.Expression) {
			kept = append(kept, ref)
		}
	}
	s.references[collectionVersionID] = kept
	return len(refs) - len(kept), nil
}

func (s *MemoryStore) DeleteAllReferences(_ context.Context, collectionVersionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := len(s.references[collectionVersionID])
	delete(s.references, collectionVersionID)
	return deleted, nil
}

func (s *MemoryStore) GetExpansion(_ context.Context, uri string) (*terminology.Expansion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, expansion := range s.expansions {
		if expansion.URI == uri {
			found := *expansion
			return &found, nil
		}
	}
	return nil, fmt.Errorf("expansion %s: %w", uri, terminology.ErrNotFound)
}

func (s *MemoryStore) GetExpansionByID(_ context.Context, id int64) (*terminology.Expansion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expansion, ok := s.expansions[id]
	if !ok {
		return nil, fmt.Errorf("expansion %d: %w", id, terminology.ErrNotFound)
	}
	found := *expansion
	return &found, nil
}

func (s *MemoryStore) ListExpansions(_ context.Context, collectionVersionID int64) ([]*terminology.Expansion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Expansion
	for _, expansion := range s.expansions {
		if expansion.CollectionVersionID == collectionVersionID {
			found := *expansion
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveExpansion(_ context.Context, expansion *terminology.Expansion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.expansions {
		if existing.URI == expansion.URI && existing.ID != expansion.ID {
			return fmt.Errorf("expansion %s already exists", expansion.URI)
		}
	}

	s.assignID(&expansion.ID)
	now := time.Now()
	if expansion.CreatedAt.IsZero() {
		expansion.CreatedAt = now
	}
	expansion.UpdatedAt = now
	stored := *expansion
	s.expansions[expansion.ID] = &stored
	return nil
}

func (s *MemoryStore) DeleteExpansion(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expansions[id]; !ok {
		return fmt.Errorf("expansion %d: %w", id, terminology.ErrNotFound)
	}
	delete(s.expansions, id)
	delete(s.expansionConcepts, id)
	delete(s.expansionMappings, id)
	return nil
}

func addMembers(members map[int64]map[int64]struct{}, expansionID int64, ids []int64) int {
	set, ok := members[expansionID]
	if !ok {
		set = make(map[int64]struct{})
		members[expansionID] = set
	}
	added := 0
	for _, id := range ids {
		if _, exists := set[id]; !exists {
			set[id] = struct{}{}
			added++
		}
	}
	return added
}

func removeMembers(members map[int64]map[int64]struct{}, expansionID int64, ids []int64) int {
	set := members[expansionID]
	removed := 0
	for _, id := range ids {
		if _, exists := set[id]; exists {
			delete(set, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) AddExpansionConcepts(_ context.Context, expansionID int64, conceptIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expansions[expansionID]; !ok {
		return 0, fmt.Errorf("expansion %d: %w", expansionID, terminology.ErrNotFound)
	}
	return addMembers(s.expansionConcepts, expansionID, conceptIDs), nil
}

func (s *MemoryStore) AddExpansionMappings(_ context.Context, expansionID int64, mappingIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expansions[expansionID]; !ok {
		return 0, fmt.Errorf("expansion %d: %w", expansionID, terminology.ErrNotFound)
	}
	return addMembers(s.expansionMappings, expansionID, mappingIDs), nil
}

func (s *MemoryStore) RemoveExpansionConcepts(_ context.Context, expansionID int64, conceptIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return removeMembers(s.expansionConcepts, expansionID, conceptIDs), nil
}

func (s *MemoryStore) RemoveExpansionMappings(_ context.Context, expansionID int64, mappingIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return removeMembers(s.expansionMappings, expansionID, mappingIDs), nil
}

func (s *MemoryStore) ExpansionConcepts(_ context.Context, expansionID int64) ([]*terminology.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Concept
	for id := range s.expansionConcepts[expansionID] {
		if concept, ok := s.concepts[id]; ok {
			out = append(out, copyConcept(concept))
		}
	}
	sortConcepts(out)
	return out, nil
}

func (s *MemoryStore) ExpansionMappings(_ context.Context, expansionID int64) ([]*terminology.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*terminology.Mapping
	for id := range s.expansionMappings[expansionID] {
		if mapping, ok := s.mappings[id]; ok {
			out = append(out, copyMapping(mapping))
		}
	}
	sortMappings(out)
	return out, nil
}

func sortConcepts(concepts []*terminology.Concept) {
	sort.Slice(concepts, func(i, j int) bool { return concepts[i].ID < concepts[j].ID })
}

func sortMappings(mappings []*terminology.Mapping) {
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ID < mappings[j].ID })
}

// Readers hand out copies; PutConcept and PutMapping update stored entities
// under the write lock.
func copyConcept(concept *terminology.Concept) *terminology.Concept {
	copied := *concept
	return &copied
}

func copyMapping(mapping *terminology.Mapping) *terminology.Mapping {
	copied := *mapping
	return &copied
}
