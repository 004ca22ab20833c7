package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name             string
		raw              string
		kind             Kind
		owner            string
		container        string
		containerVersion string
		mnemonic         string
		version          string
	}{
		{
			name:      "unversioned concept",
			raw:       "/orgs/CIEL/sources/CIEL/concepts/1234/",
			kind:      KindConcept,
			owner:     "CIEL",
			container: "CIEL",
			mnemonic:  "1234",
			version:   "HEAD",
		},
		{
			name:      "versioned mapping without trailing slash",
			raw:       "/users/jdoe/sources/local/mappings/m1/7",
			kind:      KindMapping,
			owner:     "jdoe",
			container: "local",
			mnemonic:  "m1",
			version:   "7",
		},
		{
			name:             "concept inside a source version",
			raw:              "/orgs/CIEL/sources/CIEL/v2024/concepts/1234/",
			kind:             KindConcept,
			owner:            "CIEL",
			container:        "CIEL",
			containerVersion: "v2024",
			mnemonic:         "1234",
			version:          "HEAD",
		},
		{
			name:      "source",
			raw:       "/orgs/CIEL/sources/CIEL/",
			kind:      KindSource,
			owner:     "CIEL",
			container: "CIEL",
			version:   "HEAD",
		},
		{
			name:             "collection version",
			raw:              "/orgs/MOH/collections/malaria/v1/",
			kind:             KindCollection,
			owner:            "MOH",
			container:        "malaria",
			containerVersion: "v1",
			version:          "HEAD",
		},
		{name: "empty", raw: "", kind: KindUnknown, version: "HEAD"},
		{name: "relative", raw: "orgs/CIEL/sources/CIEL/concepts/1/", kind: KindUnknown, version: "HEAD"},
		{name: "bad owner type", raw: "/teams/CIEL/sources/CIEL/concepts/1/", kind: KindUnknown, version: "HEAD"},
		{name: "bad container type", raw: "/orgs/CIEL/folders/CIEL/concepts/1/", kind: KindUnknown, version: "HEAD"},
		{name: "too deep", raw: "/orgs/CIEL/sources/CIEL/concepts/1/2/3/", kind: KindUnknown, version: "HEAD"},
		{name: "unknown entity segment", raw: "/orgs/CIEL/sources/CIEL/v1/widgets/1/", kind: KindUnknown, version: "HEAD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr := Parse(tt.raw)
			assert.Equal(t, tt.kind, expr.Kind)
			assert.Equal(t, tt.owner, expr.Owner)
			assert.Equal(t, tt.container, expr.Container)
			assert.Equal(t, tt.containerVersion, expr.ContainerVersion)
			assert.Equal(t, tt.mnemonic, expr.Mnemonic)
			assert.Equal(t, tt.version, expr.Version)
			assert.Equal(t, tt.raw, expr.Raw)
		})
	}
}

func TestSearchExpression(t *testing.T) {
	expr := Parse("/orgs/CIEL/sources/CIEL/concepts/?q=malaria&conceptClass=Diagnosis")

	assert.Equal(t, KindConcept, expr.Kind)
	assert.True(t, expr.IsSearch())
	assert.Empty(t, expr.Mnemonic)
	assert.Equal(t, "Diagnosis", expr.Query.Get("conceptClass"))

	assert.False(t, Parse("/orgs/CIEL/sources/CIEL/concepts/?conceptClass=Diagnosis").IsSearch())
	assert.False(t, Parse("/orgs/CIEL/sources/CIEL/concepts/1/").IsSearch())
}

func TestDropVersion(t *testing.T) {
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/concepts/X/", DropVersion("/orgs/CIEL/sources/CIEL/concepts/X/1.0/"))
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/concepts/X/", DropVersion("/orgs/CIEL/sources/CIEL/concepts/X"))
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/v1/mappings/m/", DropVersion("/orgs/CIEL/sources/CIEL/v1/mappings/m/3/"))

	search := "/orgs/CIEL/sources/CIEL/concepts/?q=a"
	assert.Equal(t, search, DropVersion(search))
	assert.Equal(t, "not-an-expression", DropVersion("not-an-expression"))
}

func TestVersionHelpers(t *testing.T) {
	assert.True(t, IsVersionSpecified("/orgs/CIEL/sources/CIEL/concepts/X/1.0/"))
	assert.False(t, IsVersionSpecified("/orgs/CIEL/sources/CIEL/concepts/X/"))
	assert.True(t, IsConcept("/orgs/CIEL/sources/CIEL/concepts/X/"))
	assert.True(t, IsMapping("/orgs/CIEL/sources/CIEL/mappings/X/"))
	assert.False(t, IsMapping("/orgs/CIEL/sources/CIEL/"))
}

func TestURI(t *testing.T) {
	expr := Parse("/orgs/CIEL/sources/CIEL/v1/concepts/X/2/?q=ignored")
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/v1/", expr.ContainerURI())
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/v1/concepts/X/", expr.VersionlessURI())
	assert.Equal(t, "/orgs/CIEL/sources/CIEL/v1/concepts/X/2/", expr.URI())
	assert.Equal(t, "", Parse("garbage").ContainerURI())
}
