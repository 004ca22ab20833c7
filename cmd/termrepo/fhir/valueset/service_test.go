package valueset

import (
	"context"
	"testing"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource/dstest"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expansion"
	"github.com/SanteonNL/termrepo/cmd/termrepo/indexing"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/cmd/termrepo/reference"
	"github.com/SanteonNL/termrepo/models/fhir"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/SanteonNL/termrepo/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cielSystem = "https://CIELterminology.org"

type inlineRunner struct{}

func (inlineRunner) Enqueue(ctx context.Context, mode jobs.Mode, name string, fn jobs.Func) (*jobs.Task, error) {
	return &jobs.Task{Name: name, Mode: mode.String(), Status: jobs.StatusSucceeded}, fn(ctx)
}

func newService(t *testing.T) *ValueSetService {
	b := dstest.New(t)
	source := b.Source("CIEL", "CIEL", func(s *terminology.Source) { s.CanonicalURL = cielSystem })
	malaria := b.Concept(source, "116128", dstest.Names(terminology.LocalizedText{Name: "Malaria", Locale: "en", LocalePreferred: true}))
	fever := b.Concept(source, "140238", dstest.Names(terminology.LocalizedText{Name: "Fever", Locale: "en", LocalePreferred: true}))
	old := b.Concept(source, "999", dstest.Retired)
	cv := b.Collection("MyOrg", "Malaria", func(cv *terminology.CollectionVersion) { cv.CanonicalURL = "https://example.org/ValueSet/malaria" })

	resolver := reference.NewResolver(b.Store, nil, zerolog.Nop())
	expansions := expansion.NewService(b.Store, resolver, inlineRunner{}, indexing.NewLogIndexer(zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()
	exp, err := expansions.EnsureDefault(ctx, cv, nil, jobs.Synchronous)
	require.NoError(t, err)
	refs := []*terminology.Reference{{Expression: malaria.URI}, {Expression: fever.URI}, {Expression: old.URI}}
	_, err = expansions.AddReferences(ctx, exp, refs, nil, jobs.Synchronous)
	require.NoError(t, err)

	return NewValueSetService(b.Store, b.Store, expansions, zerolog.Nop())
}

func TestExpand(t *testing.T) {
	service := newService(t)

	vs, err := service.Expand(context.Background(), terminology.OwnerTypeOrgs, "MyOrg", "Malaria", "", ExpandRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ValueSet", vs.ResourceType)
	assert.Equal(t, "https://example.org/ValueSet/malaria", *vs.Url)
	assert.Equal(t, terminology.HEAD, *vs.Version)
	assert.Equal(t, 3, *vs.Expansion.Total)
	assert.Equal(t, "/orgs/MyOrg/collections/Malaria/HEAD/expansions/autoexpand-HEAD/", *vs.Expansion.Identifier)

	require.Len(t, vs.Expansion.Contains, 3)
	first := vs.Expansion.Contains[0]
	assert.Equal(t, cielSystem, *first.System)
	assert.Equal(t, "116128", *first.Code)
	assert.Equal(t, "Malaria", *first.Display)
	assert.Nil(t, first.Inactive)
	require.NotNil(t, vs.Expansion.Contains[2].Inactive)
	assert.True(t, *vs.Expansion.Contains[2].Inactive)

	var names []string
	for _, p := range vs.Expansion.Parameter {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, terminology.ParameterActiveOnly)
	assert.NotContains(t, names, "filter", "empty strings are left out")
}

func TestExpandFilterAndPaging(t *testing.T) {
	service := newService(t)
	ctx := context.Background()

	vs, err := service.Expand(ctx, terminology.OwnerTypeOrgs, "MyOrg", "Malaria", "", ExpandRequest{Filter: "FEV"})
	require.NoError(t, err)
	require.Len(t, vs.Expansion.Contains, 1)
	assert.Equal(t, "140238", *vs.Expansion.Contains[0].Code)

	vs, err = service.Expand(ctx, terminology.OwnerTypeOrgs, "MyOrg", "Malaria", "", ExpandRequest{Offset: 1, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, *vs.Expansion.Total)
	assert.Equal(t, 1, *vs.Expansion.Offset)
	require.Len(t, vs.Expansion.Contains, 1)
	assert.Equal(t, "140238", *vs.Expansion.Contains[0].Code)
}

func TestExpandUnknownCollection(t *testing.T) {
	service := newService(t)
	_, err := service.Expand(context.Background(), terminology.OwnerTypeOrgs, "MyOrg", "Nope", "", ExpandRequest{})
	assert.ErrorIs(t, err, terminology.ErrNotFound)
}

func TestValidateCode(t *testing.T) {
	service := newService(t)

	tests := []struct {
		name   string
		coding *fhir.Coding
		valid  bool
	}{
		{name: "code and system", coding: &fhir.Coding{Code: util.StringPtr("116128"), System: util.StringPtr(cielSystem)}, valid: true},
		{name: "code only", coding: &fhir.Coding{Code: util.StringPtr("140238")}, valid: true},
		{name: "source uri as system", coding: &fhir.Coding{Code: util.StringPtr("116128"), System: util.StringPtr("/orgs/CIEL/sources/CIEL/")}, valid: true},
		{name: "matching display", coding: &fhir.Coding{Code: util.StringPtr("116128"), Display: util.StringPtr("Malaria")}, valid: true},
		{name: "wrong display", coding: &fhir.Coding{Code: util.StringPtr("116128"), Display: util.StringPtr("Fever")}, valid: false},
		{name: "wrong system", coding: &fhir.Coding{Code: util.StringPtr("116128"), System: util.StringPtr("http://snomed.info/sct")}, valid: false},
		{name: "unknown code", coding: &fhir.Coding{Code: util.StringPtr("1")}, valid: false},
		{name: "no code", coding: &fhir.Coding{}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.ValidateCode(context.Background(), terminology.OwnerTypeOrgs, "MyOrg", "Malaria", "", tt.coding)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Valid)

			params := result.Parameters()
			assert.Equal(t, "result", params.Parameter[0].Name)
			assert.Equal(t, tt.valid, *params.Parameter[0].ValueBoolean)
			if !tt.valid {
				require.Len(t, params.Parameter, 2)
				assert.Equal(t, MsgCodeIncorrect, *params.Parameter[1].ValueString)
			}
		})
	}
}
