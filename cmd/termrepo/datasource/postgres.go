package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	sourceColumns     = "id, owner_type, owner, mnemonic, version, uri, public_access, canonical_url, updated_at"
	conceptColumns    = "id, versioned_object_id, owner_type, owner, source, mnemonic, version, uri, concept_class, datatype, retired, is_active, is_latest_version, public_access, updated_at"
	mappingColumns    = "id, versioned_object_id, owner_type, owner, source, mnemonic, version, uri, map_type, from_concept_id, from_concept_uri, to_concept_id, to_concept_uri, to_source_url, to_concept_code, retired, is_active, is_latest_version, public_access, updated_at"
	collectionColumns = "id, owner_type, owner, mnemonic, name, version, uri, autoexpand_head, autoexpand, expansion_uri, custom_validation_schema, canonical_url, updated_by, updated_at"
	referenceColumns  = "id, collection_version_id, expression, original_expression, state, created_at, last_resolved_at"
	expansionColumns  = "id, mnemonic, uri, collection_version_id, parameters, canonical_url, created_by, created_at, updated_at"
)

// PostgresStore implements Store on PostgreSQL through sqlx.
type PostgresStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(db *sqlx.DB, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: log.With().Str("component", "postgres_store").Logger(),
	}
}

// ConnectPostgres opens a connection and creates missing tables.
func ConnectPostgres(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	store := NewPostgresStore(db, log)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.log.Debug().Msg("Database schema is up to date")
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, terminology.ErrNotFound)...)
	}
	return fmt.Errorf("failed to query "+format+": %w", append(args, err)...)
}

// queryBuilder collects WHERE conditions with numbered placeholders.
type queryBuilder struct {
	conditions []string
	args       []any
}

func (b *queryBuilder) add(condition string, arg any) {
	b.args = append(b.args, arg)
	b.conditions = append(b.conditions, strings.ReplaceAll(condition, "?", fmt.Sprintf("$%d", len(b.args))))
}

func (b *queryBuilder) where() string {
	if len(b.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conditions, " AND ")
}

func contentConditions(query ContentQuery, versionsTable, idColumn string) *queryBuilder {
	b := &queryBuilder{}
	if query.OwnerType != "" {
		b.add("owner_type = ?", query.OwnerType)
	}
	if query.Owner != "" {
		b.add("owner = ?", query.Owner)
	}
	if query.Source != "" {
		b.add("source = ?", query.Source)
	}
	if query.Mnemonic != "" {
		b.add("mnemonic = ?", query.Mnemonic)
	}
	if query.PublicOnly {
		b.add("public_access <> ?", terminology.AccessNone)
	}
	switch {
	case query.Version != "" && query.Version != terminology.HEAD:
		b.add("version = ?", query.Version)
	case query.SourceVersion != "" && query.SourceVersion != terminology.HEAD:
		b.add(fmt.Sprintf("id IN (SELECT %s FROM %s WHERE source_version = ?)", idColumn, versionsTable), query.SourceVersion)
	default:
		b.conditions = append(b.conditions, "is_latest_version")
	}
	return b
}

func (s *PostgresStore) PutSource(ctx context.Context, source *terminology.Source) error {
	if source.Version == "" {
		source.Version = terminology.HEAD
	}
	if source.URI == "" {
		source.URI = fmt.Sprintf("/%s/%s/sources/%s/", source.OwnerType, source.Owner, source.Mnemonic)
		if !source.IsHead() {
			source.URI += source.Version + "/"
		}
	}
	if source.UpdatedAt.IsZero() {
		source.UpdatedAt = time.Now()
	}

	stmt, err := s.db.PrepareNamedContext(ctx, `
		INSERT INTO sources (id, owner_type, owner, mnemonic, version, uri, public_access, canonical_url, updated_at)
		VALUES (COALESCE(NULLIF(CAST(:id AS BIGINT), 0), nextval('sources_id_seq')), :owner_type, :owner, :mnemonic, :version, :uri, :public_access, :canonical_url, :updated_at)
		ON CONFLICT (uri) DO UPDATE SET public_access = EXCLUDED.public_access, canonical_url = EXCLUDED.canonical_url, updated_at = EXCLUDED.updated_at
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare source upsert: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &source.ID, source); err != nil {
		return fmt.Errorf("failed to save source %s: %w", source.URI, err)
	}
	return nil
}

func (s *PostgresStore) PutConcept(ctx context.Context, concept *terminology.Concept) error {
	if concept.URI == "" {
		concept.URI = fmt.Sprintf("%s%s/", concept.VersionlessURI(), concept.Version)
	}
	if concept.UpdatedAt.IsZero() {
		concept.UpdatedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO concepts (`+conceptColumns+`)
		VALUES (COALESCE(NULLIF(CAST(:id AS BIGINT), 0), nextval('concepts_id_seq')), :versioned_object_id, :owner_type, :owner, :source, :mnemonic, :version, :uri,
			:concept_class, :datatype, :retired, :is_active, :is_latest_version, :public_access, :updated_at)
		ON CONFLICT (id) DO UPDATE SET retired = EXCLUDED.retired, is_active = EXCLUDED.is_active,
			is_latest_version = EXCLUDED.is_latest_version, public_access = EXCLUDED.public_access, updated_at = EXCLUDED.updated_at
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare concept upsert: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &concept.ID, concept); err != nil {
		return fmt.Errorf("failed to save concept %s: %w", concept.URI, err)
	}
	if concept.VersionedObjectID == 0 {
		concept.VersionedObjectID = concept.ID
		if _, err := tx.ExecContext(ctx, `UPDATE concepts SET versioned_object_id = $1 WHERE id = $1`, concept.ID); err != nil {
			return fmt.Errorf("failed to link concept version: %w", err)
		}
	}
	if concept.IsLatestVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE concepts SET is_latest_version = false WHERE versioned_object_id = $1 AND id <> $2`,
			concept.VersionedObjectID, concept.ID); err != nil {
			return fmt.Errorf("failed to update latest concept version: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM concept_names WHERE concept_id = $1`, concept.ID); err != nil {
		return fmt.Errorf("failed to replace concept names: %w", err)
	}
	for _, texts := range []struct {
		items       []terminology.LocalizedText
		description bool
	}{{concept.Names, false}, {concept.Descriptions, true}} {
		for _, text := range texts.items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO concept_names (concept_id, name, locale, type, locale_preferred, is_description) VALUES ($1, $2, $3, $4, $5, $6)`,
				concept.ID, text.Name, text.Locale, text.Type, text.LocalePreferred, texts.description); err != nil {
				return fmt.Errorf("failed to save concept name: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO concept_source_versions (concept_id, source_version) SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
		concept.ID, pq.Array(concept.SourceVersions)); err != nil {
		return fmt.Errorf("failed to save concept source versions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit concept: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutMapping(ctx context.Context, mapping *terminology.Mapping) error {
	if mapping.URI == "" {
		mapping.URI = fmt.Sprintf("%s%s/", mapping.VersionlessURI(), mapping.Version)
	}
	if mapping.UpdatedAt.IsZero() {
		mapping.UpdatedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO mappings (`+mappingColumns+`)
		VALUES (COALESCE(NULLIF(CAST(:id AS BIGINT), 0), nextval('mappings_id_seq')), :versioned_object_id, :owner_type, :owner, :source, :mnemonic, :version, :uri,
			:map_type, :from_concept_id, :from_concept_uri, :to_concept_id, :to_concept_uri, :to_source_url, :to_concept_code,
			:retired, :is_active, :is_latest_version, :public_access, :updated_at)
		ON CONFLICT (id) DO UPDATE SET retired = EXCLUDED.retired, is_active = EXCLUDED.is_active,
			is_latest_version = EXCLUDED.is_latest_version, public_access = EXCLUDED.public_access, updated_at = EXCLUDED.updated_at
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare mapping upsert: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &mapping.ID, mapping); err != nil {
		return fmt.Errorf("failed to save mapping %s: %w", mapping.URI, err)
	}
	if mapping.VersionedObjectID == 0 {
		mapping.VersionedObjectID = mapping.ID
		if _, err := tx.ExecContext(ctx, `UPDATE mappings SET versioned_object_id = $1 WHERE id = $1`, mapping.ID); err != nil {
			return fmt.Errorf("failed to link mapping version: %w", err)
		}
	}
	if mapping.IsLatestVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE mappings SET is_latest_version = false WHERE versioned_object_id = $1 AND id <> $2`,
			mapping.VersionedObjectID, mapping.ID); err != nil {
			return fmt.Errorf("failed to update latest mapping version: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mapping_source_versions (mapping_id, source_version) SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
		mapping.ID, pq.Array(mapping.SourceVersions)); err != nil {
		return fmt.Errorf("failed to save mapping source versions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutHierarchyEdge(ctx context.Context, edge terminology.HierarchyEdge) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO concept_hierarchy (parent_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		edge.ParentID, edge.ChildID); err != nil {
		return fmt.Errorf("failed to save hierarchy edge %d->%d: %w", edge.ParentID, edge.ChildID, err)
	}
	return nil
}

func (s *PostgresStore) GetSource(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.Source, error) {
	if version == "" {
		version = terminology.HEAD
	}
	var source terminology.Source
	err := s.db.GetContext(ctx, &source,
		`SELECT `+sourceColumns+` FROM sources WHERE owner_type = $1 AND owner = $2 AND mnemonic = $3 AND version = $4`,
		ownerType, owner, mnemonic, version)
	if err != nil {
		return nil, notFound(err, "source %s/%s/%s@%s", ownerType, owner, mnemonic, version)
	}
	return &source, nil
}

func (s *PostgresStore) GetSourceByURI(ctx context.Context, uri string) (*terminology.Source, error) {
	var source terminology.Source
	if err := s.db.GetContext(ctx, &source, `SELECT `+sourceColumns+` FROM sources WHERE uri = $1`, uri); err != nil {
		return nil, notFound(err, "source %s", uri)
	}
	return &source, nil
}

func (s *PostgresStore) FindConcepts(ctx context.Context, query ContentQuery) ([]*terminology.Concept, error) {
	b := contentConditions(query, "concept_source_versions", "concept_id")
	return s.selectConcepts(ctx, `SELECT `+conceptColumns+` FROM concepts`+b.where()+` ORDER BY id`, b.args...)
}

func (s *PostgresStore) FindMappings(ctx context.Context, query ContentQuery) ([]*terminology.Mapping, error) {
	b := contentConditions(query, "mapping_source_versions", "mapping_id")
	return s.selectMappings(ctx, `SELECT `+mappingColumns+` FROM mappings`+b.where()+` ORDER BY id`, b.args...)
}

func (s *PostgresStore) ConceptsByURI(ctx context.Context, uris []string) ([]*terminology.Concept, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	return s.selectConcepts(ctx, `SELECT `+conceptColumns+` FROM concepts WHERE uri = ANY($1) ORDER BY id`, pq.Array(uris))
}

func (s *PostgresStore) MappingsByURI(ctx context.Context, uris []string) ([]*terminology.Mapping, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	return s.selectMappings(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE uri = ANY($1) ORDER BY id`, pq.Array(uris))
}

func (s *PostgresStore) LatestConcepts(ctx context.Context, identityIDs []int64) ([]*terminology.Concept, error) {
	if len(identityIDs) == 0 {
		return nil, nil
	}
	return s.selectConcepts(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE is_latest_version AND versioned_object_id = ANY($1) ORDER BY id`,
		pq.Array(identityIDs))
}

func (s *PostgresStore) ChildIDs(ctx context.Context, parentIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	if len(parentIDs) == 0 {
		return out, nil
	}

	var edges []terminology.HierarchyEdge
	if err := s.db.SelectContext(ctx, &edges,
		`SELECT parent_id, child_id FROM concept_hierarchy WHERE parent_id = ANY($1) ORDER BY parent_id, child_id`,
		pq.Array(parentIDs)); err != nil {
		return nil, fmt.Errorf("failed to query hierarchy: %w", err)
	}
	for _, edge := range edges {
		out[edge.ParentID] = append(out[edge.ParentID], edge.ChildID)
	}
	return out, nil
}

func (s *PostgresStore) MappingsFrom(ctx context.Context, fromConceptIDs []int64) ([]*terminology.Mapping, error) {
	if len(fromConceptIDs) == 0 {
		return nil, nil
	}
	return s.selectMappings(ctx,
		`SELECT `+mappingColumns+` FROM mappings WHERE is_latest_version AND from_concept_id = ANY($1) ORDER BY id`,
		pq.Array(fromConceptIDs))
}

type conceptTextRow struct {
	ConceptID     int64 `db:"concept_id"`
	IsDescription bool  `db:"is_description"`
	terminology.LocalizedText
}

type sourceVersionRow struct {
	OwnerID       int64  `db:"owner_id"`
	SourceVersion string `db:"source_version"`
}

func (s *PostgresStore) selectConcepts(ctx context.Context, query string, args ...any) ([]*terminology.Concept, error) {
	var concepts []*terminology.Concept
	if err := s.db.SelectContext(ctx, &concepts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query concepts: %w", err)
	}
	if len(concepts) == 0 {
		return concepts, nil
	}

	ids := make([]int64, 0, len(concepts))
	byID := make(map[int64]*terminology.Concept, len(concepts))
	for _, concept := range concepts {
		ids = append(ids, concept.ID)
		byID[concept.ID] = concept
	}

	var texts []conceptTextRow
	if err := s.db.SelectContext(ctx, &texts,
		`SELECT concept_id, is_description, name, locale, type, locale_preferred FROM concept_names WHERE concept_id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to query concept names: %w", err)
	}
	for _, text := range texts {
		concept := byID[text.ConceptID]
		if text.IsDescription {
			concept.Descriptions = append(concept.Descriptions, text.LocalizedText)
		} else {
			concept.Names = append(concept.Names, text.LocalizedText)
		}
	}

	var versions []sourceVersionRow
	if err := s.db.SelectContext(ctx, &versions,
		`SELECT concept_id AS owner_id, source_version FROM concept_source_versions WHERE concept_id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to query concept source versions: %w", err)
	}
	for _, version := range versions {
		concept := byID[version.OwnerID]
		concept.SourceVersions = append(concept.SourceVersions, version.SourceVersion)
	}
	return concepts, nil
}

func (s *PostgresStore) selectMappings(ctx context.Context, query string, args ...any) ([]*terminology.Mapping, error) {
	var mappings []*terminology.Mapping
	if err := s.db.SelectContext(ctx, &mappings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	if len(mappings) == 0 {
		return mappings, nil
	}

	ids := make([]int64, 0, len(mappings))
	byID := make(map[int64]*terminology.Mapping, len(mappings))
	for _, mapping := range mappings {
		ids = append(ids, mapping.ID)
		byID[mapping.ID] = mapping
	}

	var versions []sourceVersionRow
	if err := s.db.SelectContext(ctx, &versions,
		`SELECT mapping_id AS owner_id, source_version FROM mapping_source_versions WHERE mapping_id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to query mapping source versions: %w", err)
	}
	for _, version := range versions {
		mapping := byID[version.OwnerID]
		mapping.SourceVersions = append(mapping.SourceVersions, version.SourceVersion)
	}
	return mappings, nil
}

func (s *PostgresStore) GetCollectionVersion(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.CollectionVersion, error) {
	if version == "" {
		version = terminology.HEAD
	}
	var cv terminology.CollectionVersion
	err := s.db.GetContext(ctx, &cv,
		`SELECT `+collectionColumns+` FROM collection_versions WHERE owner_type = $1 AND owner = $2 AND mnemonic = $3 AND version = $4`,
		ownerType, owner, mnemonic, version)
	if err != nil {
		return nil, notFound(err, "collection %s/%s/%s@%s", ownerType, owner, mnemonic, version)
	}
	return &cv, nil
}

func (s *PostgresStore) SaveCollectionVersion(ctx context.Context, cv *terminology.CollectionVersion) error {
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

	stmt, err := s.db.PrepareNamedContext(ctx, `
		INSERT INTO collection_versions (`+collectionColumns+`)
		VALUES (COALESCE(NULLIF(CAST(:id AS BIGINT), 0), nextval('collection_versions_id_seq')), :owner_type, :owner, :mnemonic, :name, :version, :uri,
			:autoexpand_head, :autoexpand, :expansion_uri, :custom_validation_schema, :canonical_url, :updated_by, :updated_at)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, autoexpand_head = EXCLUDED.autoexpand_head, autoexpand = EXCLUDED.autoexpand,
			expansion_uri = EXCLUDED.expansion_uri, custom_validation_schema = EXCLUDED.custom_validation_schema,
			canonical_url = EXCLUDED.canonical_url, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare collection version upsert: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &cv.ID, cv); err != nil {
		return fmt.Errorf("failed to save collection version %s: %w", cv.URI, err)
	}
	return nil
}

func (s *PostgresStore) ListReferences(ctx context.Context, collectionVersionID int64) ([]*terminology.Reference, error) {
	var refs []*terminology.Reference
	if err := s.db.SelectContext(ctx, &refs,
		`SELECT `+referenceColumns+` FROM collection_references WHERE collection_version_id = $1 ORDER BY id`,
		collectionVersionID); err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	return refs, nil
}

func (s *PostgresStore) SaveReference(ctx context.Context, ref *terminology.Reference) error {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}

	stmt, err := s.db.PrepareNamedContext(ctx, `
		INSERT INTO collection_references (`+referenceColumns+`)
		VALUES (COALESCE(NULLIF(CAST(:id AS BIGINT), 0), nextval('collection_references_id_seq')), :collection_version_id, :expression,
			:original_expression, :state, :created_at, :last_resolved_at)
		ON CONFLICT (id) DO UPDATE SET expression = EXCLUDED.expression, state = EXCLUDED.state, last_resolved_at = EXCLUDED.last_resolved_at
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare reference upsert: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &ref.ID, ref); err != nil {
		return fmt.Errorf("failed to save reference %s: %w", ref.Expression, err)
	}
	return nil
}

func (s *PostgresStore) DeleteReferences(ctx context.Context, collectionVersionID int64, expressions []string) (int, error) {
	if len(expressions) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_references WHERE collection_version_id = $1 AND expression = ANY($2)`,
		collectionVersionID, pq.Array(expressions))
	if err != nil {
		return 0, fmt.Errorf("failed to delete references: %w", err)
	}
	return rowsAffected(result)
}

func (s *PostgresStore) DeleteAllReferences(ctx context.Context, collectionVersionID int64) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM collection_references WHERE collection_version_id = $1`, collectionVersionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete references: %w", err)
	}
	return rowsAffected(result)
}

func (s *PostgresStore) GetExpansion(ctx context.Context, uri string) (*terminology.Expansion, error) {
	var expansion terminology.Expansion
	if err := s.db.GetContext(ctx, &expansion, `SELECT `+expansionColumns+` FROM expansions WHERE uri = $1`, uri); err != nil {
		return nil, notFound(err, "expansion %s", uri)
	}
	return &expansion, nil
}

func (s *PostgresStore) GetExpansionByID(ctx context.Context, id int64) (*terminology.Expansion, error) {
	var expansion terminology.Expansion
	if err := s.db.GetContext(ctx, &expansion, `SELECT `+expansionColumns+` FROM expansions WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "expansion %d", id)
	}
	return &expansion, nil
}

func (s *PostgresStore) ListExpansions(ctx context.Context, collectionVersionID int64) ([]*terminology.Expansion, error) {
	var expansions []*terminology.Expansion
	if err := s.db.SelectContext(ctx, &expansions,
		`SELECT `+expansionColumns+` FROM expansions WHERE collection_version_id = $1 ORDER BY id`,
		collectionVersionID); err != nil {
		return nil, fmt.Errorf("failed to query expansions: %w", err)
	}
	return expansions, nil
}

func (s *PostgresStore) SaveExpansion(ctx context.Context, expansion *terminology.Expansion) error {
	now := time.Now()
	if expansion.CreatedAt.IsZero() {
		expansion.CreatedAt = now
	}
	expansion.UpdatedAt = now

	stmt, err := s.db.PrepareNamedContext(ctx, `
		INSERT INTO expansions (`+expansionColumns+`)
		VALUES (COALESCE(NULLIF(CAST(:id AS BIGINT), 0), nextval('expansions_id_seq')), :mnemonic, :uri, :collection_version_id, :parameters,
			:canonical_url, :created_by, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET mnemonic = EXCLUDED.mnemonic, uri = EXCLUDED.uri, parameters = EXCLUDED.parameters,
			canonical_url = EXCLUDED.canonical_url, updated_at = EXCLUDED.updated_at
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare expansion upsert: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &expansion.ID, expansion); err != nil {
		return fmt.Errorf("failed to save expansion %s: %w", expansion.URI, err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpansion(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM expansions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete expansion %d: %w", id, err)
	}
	deleted, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("expansion %d: %w", id, terminology.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AddExpansionConcepts(ctx context.Context, expansionID int64, conceptIDs []int64) (int, error) {
	return s.execMembers(ctx,
		`INSERT INTO expansion_concepts (expansion_id, concept_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`,
		expansionID, conceptIDs)
}

func (s *PostgresStore) AddExpansionMappings(ctx context.Context, expansionID int64, mappingIDs []int64) (int, error) {
	return s.execMembers(ctx,
		`INSERT INTO expansion_mappings (expansion_id, mapping_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`,
		expansionID, mappingIDs)
}

func (s *PostgresStore) RemoveExpansionConcepts(ctx context.Context, expansionID int64, conceptIDs []int64) (int, error) {
	return s.execMembers(ctx, `DELETE FROM expansion_concepts WHERE expansion_id = $1 AND concept_id = ANY($2)`, expansionID, conceptIDs)
}

func (s *PostgresStore) RemoveExpansionMappings(ctx context.Context, expansionID int64, mappingIDs []int64) (int, error) {
	return s.execMembers(ctx, `DELETE FROM expansion_mappings WHERE expansion_id = $1 AND mapping_id = ANY($2)`, expansionID, mappingIDs)
}

func (s *PostgresStore) execMembers(ctx context.Context, query string, expansionID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, query, expansionID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to update expansion %d members: %w", expansionID, err)
	}
	return rowsAffected(result)
}

func (s *PostgresStore) ExpansionConcepts(ctx context.Context, expansionID int64) ([]*terminology.Concept, error) {
	return s.selectConcepts(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE id IN (SELECT concept_id FROM expansion_concepts WHERE expansion_id = $1) ORDER BY id`,
		expansionID)
}

func (s *PostgresStore) ExpansionMappings(ctx context.Context, expansionID int64) ([]*terminology.Mapping, error) {
	return s.selectMappings(ctx,
		`SELECT `+mappingColumns+` FROM mappings WHERE id IN (SELECT mapping_id FROM expansion_mappings WHERE expansion_id = $1) ORDER BY id`,
		expansionID)
}

func rowsAffected(result sql.Result) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}
