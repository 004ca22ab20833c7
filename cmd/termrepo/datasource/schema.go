package datasource

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS sources (
	id            BIGSERIAL PRIMARY KEY,
	owner_type    TEXT NOT NULL,
	owner         TEXT NOT NULL,
	mnemonic      TEXT NOT NULL,
	version       TEXT NOT NULL DEFAULT 'HEAD',
	uri           TEXT NOT NULL UNIQUE,
	public_access TEXT NOT NULL DEFAULT 'View',
	canonical_url TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS concepts (
	id                  BIGSERIAL PRIMARY KEY,
	versioned_object_id BIGINT NOT NULL DEFAULT 0,
	owner_type          TEXT NOT NULL,
	owner               TEXT NOT NULL,
	source              TEXT NOT NULL,
	mnemonic            TEXT NOT NULL,
	version             TEXT NOT NULL,
	uri                 TEXT NOT NULL UNIQUE,
	concept_class       TEXT NOT NULL DEFAULT '',
	datatype            TEXT NOT NULL DEFAULT '',
	retired             BOOLEAN NOT NULL DEFAULT false,
	is_active           BOOLEAN NOT NULL DEFAULT true,
	is_latest_version   BOOLEAN NOT NULL DEFAULT true,
	public_access       TEXT NOT NULL DEFAULT 'View',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS concepts_versioned_object_idx ON concepts (versioned_object_id);

CREATE TABLE IF NOT EXISTS concept_names (
	concept_id       BIGINT NOT NULL REFERENCES concepts (id) ON DELETE CASCADE,
	name             TEXT NOT NULL,
	locale           TEXT NOT NULL,
	type             TEXT NOT NULL DEFAULT '',
	locale_preferred BOOLEAN NOT NULL DEFAULT false,
	is_description   BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS concept_source_versions (
	concept_id     BIGINT NOT NULL REFERENCES concepts (id) ON DELETE CASCADE,
	source_version TEXT NOT NULL,
	PRIMARY KEY (concept_id, source_version)
);

CREATE TABLE IF NOT EXISTS concept_hierarchy (
	parent_id BIGINT NOT NULL,
	child_id  BIGINT NOT NULL,
	PRIMARY KEY (parent_id, child_id)
);

CREATE TABLE IF NOT EXISTS mappings (
	id                  BIGSERIAL PRIMARY KEY,
	versioned_object_id BIGINT NOT NULL DEFAULT 0,
	owner_type          TEXT NOT NULL,
	owner               TEXT NOT NULL,
	source              TEXT NOT NULL,
	mnemonic            TEXT NOT NULL,
	version             TEXT NOT NULL,
	uri                 TEXT NOT NULL UNIQUE,
	map_type            TEXT NOT NULL,
	from_concept_id     BIGINT NOT NULL,
	from_concept_uri    TEXT NOT NULL DEFAULT '',
	to_concept_id       BIGINT,
	to_concept_uri      TEXT NOT NULL DEFAULT '',
	to_source_url       TEXT NOT NULL DEFAULT '',
	to_concept_code     TEXT NOT NULL DEFAULT '',
	retired             BOOLEAN NOT NULL DEFAULT false,
	is_active           BOOLEAN NOT NULL DEFAULT true,
	is_latest_version   BOOLEAN NOT NULL DEFAULT true,
	public_access       TEXT NOT NULL DEFAULT 'View',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS mappings_from_concept_idx ON mappings (from_concept_id);

CREATE TABLE IF NOT EXISTS mapping_source_versions (
	mapping_id     BIGINT NOT NULL REFERENCES mappings (id) ON DELETE CASCADE,
	source_version TEXT NOT NULL,
	PRIMARY KEY (mapping_id, source_version)
);

CREATE TABLE IF NOT EXISTS collection_versions (
	id                       BIGSERIAL PRIMARY KEY,
	owner_type               TEXT NOT NULL,
	owner                    TEXT NOT NULL,
	mnemonic                 TEXT NOT NULL,
	name                     TEXT NOT NULL DEFAULT '',
	version                  TEXT NOT NULL DEFAULT 'HEAD',
	uri                      TEXT NOT NULL UNIQUE,
	autoexpand_head          BOOLEAN NOT NULL DEFAULT true,
	autoexpand               BOOLEAN NOT NULL DEFAULT false,
	expansion_uri            TEXT NOT NULL DEFAULT '',
	custom_validation_schema TEXT NOT NULL DEFAULT '',
	canonical_url            TEXT NOT NULL DEFAULT '',
	updated_by               TEXT NOT NULL DEFAULT '',
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS collection_references (
	id                    BIGSERIAL PRIMARY KEY,
	collection_version_id BIGINT NOT NULL REFERENCES collection_versions (id) ON DELETE CASCADE,
	expression            TEXT NOT NULL,
	original_expression   TEXT NOT NULL DEFAULT '',
	state                 TEXT NOT NULL DEFAULT 'proposed',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_resolved_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS expansions (
	id                    BIGSERIAL PRIMARY KEY,
	mnemonic              TEXT NOT NULL,
	uri                   TEXT NOT NULL UNIQUE,
	collection_version_id BIGINT NOT NULL REFERENCES collection_versions (id) ON DELETE CASCADE,
	parameters            JSONB NOT NULL DEFAULT '{}',
	canonical_url         TEXT NOT NULL DEFAULT '',
	created_by            TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS expansion_concepts (
	expansion_id BIGINT NOT NULL REFERENCES expansions (id) ON DELETE CASCADE,
	concept_id   BIGINT NOT NULL REFERENCES concepts (id),
	PRIMARY KEY (expansion_id, concept_id)
);

CREATE TABLE IF NOT EXISTS expansion_mappings (
	expansion_id BIGINT NOT NULL REFERENCES expansions (id) ON DELETE CASCADE,
	mapping_id   BIGINT NOT NULL REFERENCES mappings (id),
	PRIMARY KEY (expansion_id, mapping_id)
);
`
