package bundle

import (
	"net/url"
	"testing"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/cascade"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFromQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    func(p *cascade.Params)
		wantErr bool
	}{
		{name: "defaults", query: "", want: func(*cascade.Params) {}},
		{
			name:  "source mappings to depth one",
			query: "method=SourceMappings&cascadeLevels=1",
			want: func(p *cascade.Params) {
				p.Method = cascade.MethodSourceMappings
				p.Levels = cascade.Depth(1)
			},
		},
		{
			name:  "flags",
			query: "cascadeMappings=false&cascadeHierarchy=no&includeMappings=false",
			want: func(p *cascade.Params) {
				p.CascadeMappings = false
				p.CascadeHierarchy = false
				p.IncludeMappings = false
			},
		},
		{
			name:  "map types",
			query: "mapTypes=SAME-AS,,NARROWER-THAN&excludeMapTypes=Q-AND-A",
			want: func(p *cascade.Params) {
				p.Criteria.MapTypes = []string{"SAME-AS", "NARROWER-THAN"}
				p.Criteria.ExcludeMapTypes = []string{"Q-AND-A"}
			},
		},
		{name: "empty levels are unbounded", query: "cascadeLevels=", want: func(*cascade.Params) {}},
		{name: "bad levels", query: "cascadeLevels=two", wantErr: true},
		{name: "bad method", query: "method=everything", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := ParamsFromQuery(query)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := cascade.DefaultParams()
			tt.want(&want)
			assert.Equal(t, want, got)
		})
	}
}

func TestIsVerbose(t *testing.T) {
	assert.False(t, IsVerbose(url.Values{}))
	assert.True(t, IsVerbose(url.Values{ParamVerbose: {"true"}}))
	assert.False(t, IsVerbose(url.Values{ParamVerbose: {"true"}, ParamBrief: {"true"}}))
}

func TestPageFromQuery(t *testing.T) {
	count, offset, err := PageFromQuery(url.Values{ParamCount: {"10"}, ParamOffset: {"20"}})
	require.NoError(t, err)
	assert.Equal(t, 10, count)
	assert.Equal(t, 20, offset)

	_, _, err = PageFromQuery(url.Values{ParamCount: {"-1"}})
	assert.Error(t, err)
}

func TestCacheExpiry(t *testing.T) {
	cache := NewBundleCache(CacheConfig{Enabled: true, DefaultTTL: time.Minute, MaxSize: 1}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.StoreResultSet("/a/", "q", ResultSetCache{Total: 1})
	_, ok := cache.GetResultSet("/a/", "q")
	assert.True(t, ok)
	_, ok = cache.GetResultSet("/a/", "other")
	assert.False(t, ok)

	now = now.Add(time.Second)
	cache.StoreResultSet("/b/", "q", ResultSetCache{Total: 2})
	cache.cleanup()
	_, ok = cache.GetResultSet("/a/", "q")
	assert.False(t, ok, "oldest entry is evicted above max size")
	_, ok = cache.GetResultSet("/b/", "q")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.GetResultSet("/b/", "q")
	assert.False(t, ok, "expired")
	cache.Stop()
}
