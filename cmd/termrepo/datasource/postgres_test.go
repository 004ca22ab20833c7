package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres"), zerolog.Nop()), mock
}

func TestPostgresGetCollectionVersion(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "owner_type", "owner", "mnemonic", "name", "version", "uri", "autoexpand_head",
		"autoexpand", "expansion_uri", "custom_validation_schema", "canonical_url", "updated_by", "updated_at"}).
		AddRow(3, "orgs", "MOH", "malaria", "Malaria", "HEAD", "/orgs/MOH/collections/malaria/", true,
			false, "/orgs/MOH/collections/malaria/HEAD/expansions/autoexpand-HEAD/", "OpenMRS", "", "admin", now)
	mock.ExpectQuery(`SELECT (.+) FROM collection_versions WHERE owner_type = \$1 AND owner = \$2 AND mnemonic = \$3 AND version = \$4`).
		WithArgs("orgs", "MOH", "malaria", "HEAD").
		WillReturnRows(rows)

	cv, err := store.GetCollectionVersion(context.Background(), "orgs", "MOH", "malaria", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cv.ID)
	assert.True(t, cv.ShouldAutoExpand())
	assert.True(t, cv.IsOpenMRSSchema())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetCollectionVersionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM collection_versions`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetCollectionVersion(context.Background(), "orgs", "MOH", "missing", "HEAD")
	assert.ErrorIs(t, err, terminology.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindConceptsLoadsNames(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM concepts WHERE source = \$1 AND mnemonic = \$2 AND is_latest_version ORDER BY id`).
		WithArgs("CIEL", "A").
		WillReturnRows(sqlmock.NewRows([]string{"id", "versioned_object_id", "owner_type", "owner", "source", "mnemonic", "version",
			"uri", "concept_class", "datatype", "retired", "is_active", "is_latest_version", "public_access", "updated_at"}).
			AddRow(10, 10, "orgs", "CIEL", "CIEL", "A", "1", "/orgs/CIEL/sources/CIEL/concepts/A/1/", "Diagnosis", "N/A",
				false, true, true, "View", now))
	mock.ExpectQuery(`FROM concept_names WHERE concept_id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"concept_id", "is_description", "name", "locale", "type", "locale_preferred"}).
			AddRow(10, false, "Malaria", "en", "FULLY_SPECIFIED", true).
			AddRow(10, true, "A mosquito borne disease", "en", "", false))
	mock.ExpectQuery(`FROM concept_source_versions WHERE concept_id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "source_version"}).AddRow(10, "v1"))

	concepts, err := store.FindConcepts(context.Background(), ContentQuery{Source: "CIEL", Mnemonic: "A"})
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "Malaria", concepts[0].DisplayName())
	assert.Len(t, concepts[0].Descriptions, 1)
	assert.Equal(t, []string{"v1"}, concepts[0].SourceVersions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAddExpansionConcepts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO expansion_concepts`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	added, err := store.AddExpansionConcepts(context.Background(), 7, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = store.AddExpansionConcepts(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContentConditions(t *testing.T) {
	b := contentConditions(ContentQuery{Owner: "CIEL", SourceVersion: "v1", PublicOnly: true}, "concept_source_versions", "concept_id")
	assert.Equal(t,
		" WHERE owner = $1 AND public_access <> $2 AND id IN (SELECT concept_id FROM concept_source_versions WHERE source_version = $3)",
		b.where())
	assert.Equal(t, []any{"CIEL", terminology.AccessNone, "v1"}, b.args)
}
