package expansion

import (
	"context"
	"strconv"
	"testing"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource/dstest"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/cmd/termrepo/reference"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inlineRunner struct {
	names []string
}

func (r *inlineRunner) Enqueue(ctx context.Context, mode jobs.Mode, name string, fn jobs.Func) (*jobs.Task, error) {
	r.names = append(r.names, name)
	task := &jobs.Task{ID: strconv.Itoa(len(r.names)), Name: name, Mode: mode.String(), Status: jobs.StatusSucceeded}
	if err := fn(ctx); err != nil {
		task.Status = jobs.StatusFailed
		task.Error = err.Error()
		return task, err
	}
	return task, nil
}

type recordingIndexer struct {
	concepts  [][]int64
	mappings  [][]int64
	retracted map[string][]string
}

func (i *recordingIndexer) IndexConcepts(_ context.Context, ids []int64) error {
	i.concepts = append(i.concepts, ids)
	return nil
}

func (i *recordingIndexer) IndexMappings(_ context.Context, ids []int64) error {
	i.mappings = append(i.mappings, ids)
	return nil
}

func (i *recordingIndexer) Retract(_ context.Context, kind string, uris []string) error {
	if i.retracted == nil {
		i.retracted = map[string][]string{}
	}
	i.retracted[kind] = append(i.retracted[kind], uris...)
	return nil
}

type fixture struct {
	b       *dstest.Builder
	source  *terminology.Source
	cv      *terminology.CollectionVersion
	runner  *inlineRunner
	indexer *recordingIndexer
	service *Service
}

func newFixture(t *testing.T, opts ...func(*terminology.CollectionVersion)) *fixture {
	b := dstest.New(t)
	f := &fixture{
		b:       b,
		source:  b.Source("CIEL", "CIEL"),
		cv:      b.Collection("MyOrg", "Malaria", opts...),
		runner:  &inlineRunner{},
		indexer: &recordingIndexer{},
	}
	resolver := reference.NewResolver(b.Store, nil, zerolog.Nop())
	f.service = NewService(b.Store, resolver, f.runner, f.indexer, zerolog.Nop())
	return f
}

func (f *fixture) expansion(t *testing.T, params terminology.Parameters) *terminology.Expansion {
	t.Helper()
	exp, _, err := f.service.Create(context.Background(), f.cv, CreateRequest{Mnemonic: "e1", Parameters: params}, nil, jobs.Synchronous)
	require.NoError(t, err)
	return exp
}

func refs(expressions ...string) []*terminology.Reference {
	out := make([]*terminology.Reference, len(expressions))
	for i, e := range expressions {
		out[i] = &terminology.Reference{Expression: e}
	}
	return out
}

func memberMnemonics(t *testing.T, f *fixture, exp *terminology.Expansion) []string {
	t.Helper()
	concepts, _, err := f.service.Concepts(context.Background(), exp, Page{})
	require.NoError(t, err)
	mappings, _, err := f.service.Mappings(context.Background(), exp, Page{})
	require.NoError(t, err)
	var out []string
	for _, c := range concepts {
		out = append(out, c.Mnemonic)
	}
	for _, m := range mappings {
		out = append(out, m.Mnemonic)
	}
	return out
}

type batchRecorder struct {
	*reference.Resolver
	batches [][]string
}

func (r *batchRecorder) ResolveAll(ctx context.Context, expressions []string, user *terminology.User) ([]*reference.Resolution, terminology.Errors) {
	r.batches = append(r.batches, append([]string(nil), expressions...))
	return r.Resolver.ResolveAll(ctx, expressions, user)
}

func TestAddReferencesResolvesPendingInOneBatch(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	c := f.b.Concept(f.source, "C")
	recorder := &batchRecorder{Resolver: reference.NewResolver(f.b.Store, nil, zerolog.Nop())}
	f.service = NewService(f.b.Store, recorder, f.runner, f.indexer, zerolog.Nop())
	exp := f.expansion(t, nil)
	recorder.batches = nil

	resolved := &terminology.Reference{Expression: c.URI, Concepts: []*terminology.Concept{c}}
	batch := append(refs(a.URI, "/orgs/CIEL/sources/CIEL/concepts/missing/"), resolved)
	result, err := f.service.AddReferences(context.Background(), exp, batch, nil, jobs.Synchronous)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{a.URI, "/orgs/CIEL/sources/CIEL/concepts/missing/"}}, recorder.batches, "references resolved by the caller are not resolved again")
	assert.Equal(t, 2, result.ConceptsAdded)
	assert.Equal(t, []string{"A", "C"}, memberMnemonics(t, f, exp))
}

func TestAddReferencesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	exp := f.expansion(t, nil)
	ctx := context.Background()

	first, err := f.service.AddReferences(ctx, exp, refs(a.VersionlessURI()), nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.True(t, first.IndexConcepts)
	assert.Equal(t, 1, first.ConceptsAdded)

	second, err := f.service.AddReferences(ctx, exp, refs(a.VersionlessURI()), nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.False(t, second.IndexConcepts)
	assert.Zero(t, second.ConceptsAdded)

	assert.Equal(t, []string{"A"}, memberMnemonics(t, f, exp))
	assert.Len(t, f.indexer.concepts, 1, "only new members trigger reindexing")
}

func TestAddReferencesCommute(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	c := f.b.Concept(f.source, "C")
	m := f.b.Mapping(f.source, "M1", "SAME-AS", a, c)
	ctx := context.Background()

	split, _, err := f.service.Create(ctx, f.cv, CreateRequest{Mnemonic: "split"}, nil, jobs.Synchronous)
	require.NoError(t, err)
	_, err = f.service.AddReferences(ctx, split, refs(a.URI, c.URI), nil, jobs.Synchronous)
	require.NoError(t, err)
	_, err = f.service.AddReferences(ctx, split, refs(m.URI), nil, jobs.Synchronous)
	require.NoError(t, err)

	single, _, err := f.service.Create(ctx, f.cv, CreateRequest{Mnemonic: "single"}, nil, jobs.Synchronous)
	require.NoError(t, err)
	_, err = f.service.AddReferences(ctx, single, refs(m.URI, a.URI, c.URI), nil, jobs.Synchronous)
	require.NoError(t, err)

	assert.Equal(t, memberMnemonics(t, f, split), memberMnemonics(t, f, single))
	assert.Equal(t, []string{"A", "C", "M1"}, memberMnemonics(t, f, single))
}

func TestAddReferencesActiveOnly(t *testing.T) {
	f := newFixture(t)
	retired := f.b.Concept(f.source, "OLD", dstest.Retired)
	exp := f.expansion(t, terminology.Parameters{terminology.ParameterActiveOnly: true})

	batch := refs(retired.URI)
	result, err := f.service.AddReferences(context.Background(), exp, batch, nil, jobs.Synchronous)
	require.NoError(t, err)

	assert.Empty(t, result.Errors)
	assert.False(t, result.IndexConcepts)
	assert.Equal(t, terminology.StateResolved, batch[0].State)
	assert.Empty(t, memberMnemonics(t, f, exp))
}

func TestAddReferencesUnresolved(t *testing.T) {
	f := newFixture(t)
	exp := f.expansion(t, nil)

	batch := refs("/orgs/CIEL/sources/CIEL/concepts/missing/")
	result, err := f.service.AddReferences(context.Background(), exp, batch, nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.False(t, result.IndexConcepts)
	assert.Empty(t, memberMnemonics(t, f, exp))
}

func TestAddReferencesIndexesInBackground(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	exp := f.expansion(t, nil)
	f.runner.names = nil

	result, err := f.service.AddReferences(context.Background(), exp, refs(a.URI), nil, jobs.Background)
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, []string{JobIndexConcepts}, f.runner.names)
	assert.Equal(t, [][]int64{{a.ID}}, f.indexer.concepts)
}

func TestRemoveExpressions(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	c := f.b.Concept(f.source, "C")
	m := f.b.Mapping(f.source, "M1", "SAME-AS", a, c)
	exp := f.expansion(t, nil)
	ctx := context.Background()

	_, err := f.service.AddReferences(ctx, exp, refs(a.URI, c.URI, m.URI), nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Len(t, f.indexer.concepts, 1, "synchronous mode indexes inline")
	assert.Len(t, f.indexer.mappings, 1)

	removed, err := f.service.RemoveExpressions(ctx, exp, []string{a.VersionlessURI(), m.URI}, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"C"}, memberMnemonics(t, f, exp))
	assert.Empty(t, f.indexer.retracted, "synchronous mode skips retraction")

	_, err = f.service.RemoveExpressions(ctx, exp, []string{c.URI, "/orgs/CIEL/sources/CIEL/concepts/gone/"}, jobs.Background)
	require.NoError(t, err)
	assert.Empty(t, memberMnemonics(t, f, exp))
	assert.Equal(t, []string{c.URI, "/orgs/CIEL/sources/CIEL/concepts/gone/"}, f.indexer.retracted[terminology.KindConcept],
		"every listed expression is retracted, matched or not")
	assert.Contains(t, f.runner.names, JobRetract)
}

func TestCreateAutoexpandBecomesDefault(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	ctx := context.Background()
	require.NoError(t, f.b.Store.SaveReference(ctx, &terminology.Reference{CollectionVersionID: f.cv.ID, Expression: a.URI}))

	exp, task, err := f.service.Create(ctx, f.cv, CreateRequest{Mnemonic: "ignored"}, nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, "autoexpand-HEAD", exp.Mnemonic)
	assert.Equal(t, "/orgs/MyOrg/collections/Malaria/HEAD/expansions/autoexpand-HEAD/", exp.URI)
	assert.Equal(t, exp.URI, f.cv.ExpansionURI)
	assert.Equal(t, jobs.StatusSucceeded, task.Status)
	assert.Equal(t, []string{"A"}, memberMnemonics(t, f, exp), "new expansions are seeded with existing references")
	assert.Equal(t, false, exp.Parameters[terminology.ParameterActiveOnly])

	second, _, err := f.service.Create(ctx, f.cv, CreateRequest{}, nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(second.ID, 10), second.Mnemonic, "generated mnemonics become the id")
	assert.Equal(t, exp.URI, f.cv.ExpansionURI, "default expansion is unchanged")
}

func TestCreateWithoutAutoexpand(t *testing.T) {
	f := newFixture(t, dstest.NoAutoexpand)

	exp, _, err := f.service.Create(context.Background(), f.cv, CreateRequest{Mnemonic: "manual"}, nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, "manual", exp.Mnemonic)
	assert.Empty(t, f.cv.ExpansionURI)
}

func TestDeleteDefaultExpansionIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def, _, err := f.service.Create(ctx, f.cv, CreateRequest{}, nil, jobs.Synchronous)
	require.NoError(t, err)
	other, _, err := f.service.Create(ctx, f.cv, CreateRequest{Mnemonic: "other"}, nil, jobs.Synchronous)
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.Delete(ctx, f.cv, def), terminology.ErrDefaultExpansion)
	require.NoError(t, f.service.Delete(ctx, f.cv, other))

	_, err = f.service.Get(ctx, other.URI)
	assert.ErrorIs(t, err, terminology.ErrNotFound)
}

func TestEnsureDefault(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	ctx := context.Background()
	require.NoError(t, f.b.Store.SaveReference(ctx, &terminology.Reference{CollectionVersionID: f.cv.ID, Expression: a.URI}))

	exp, err := f.service.EnsureDefault(ctx, f.cv, nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, exp.URI, f.cv.ExpansionURI)
	assert.Equal(t, []string{"A"}, memberMnemonics(t, f, exp))

	again, err := f.service.EnsureDefault(ctx, f.cv, nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, again.ID)
}

func TestConceptsPaging(t *testing.T) {
	f := newFixture(t)
	exp := f.expansion(t, nil)
	var batch []*terminology.Reference
	for _, mnemonic := range []string{"A", "B", "C", "D", "E"} {
		batch = append(batch, &terminology.Reference{Expression: f.b.Concept(f.source, mnemonic).URI})
	}
	_, err := f.service.AddReferences(context.Background(), exp, batch, nil, jobs.Synchronous)
	require.NoError(t, err)

	page, total, err := f.service.Concepts(context.Background(), exp, Page{Offset: 1, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "B", page[0].Mnemonic)

	page, _, err = f.service.Concepts(context.Background(), exp, Page{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestRebuild(t *testing.T) {
	f := newFixture(t)
	a := f.b.Concept(f.source, "A")
	stray := f.b.Concept(f.source, "STRAY")
	ctx := context.Background()
	require.NoError(t, f.b.Store.SaveReference(ctx, &terminology.Reference{CollectionVersionID: f.cv.ID, Expression: a.URI}))
	exp := f.expansion(t, nil)

	_, err := f.service.AddReferences(ctx, exp, refs(stray.URI), nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "STRAY"}, memberMnemonics(t, f, exp))

	task, err := f.service.Rebuild(ctx, f.cv, exp, nil, jobs.Synchronous)
	require.NoError(t, err)
	assert.Equal(t, JobRebuild, task.Name)
	assert.Equal(t, []string{"A"}, memberMnemonics(t, f, exp))
}
