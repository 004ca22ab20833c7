// Package expression classifies reference expressions such as
// /orgs/CIEL/sources/CIEL/concepts/1234/5/ into their parts.
package expression

import (
	"net/url"
	"strings"

	"github.com/SanteonNL/termrepo/models/terminology"
)

type Kind string

const (
	KindConcept    Kind = "concept"
	KindMapping    Kind = "mapping"
	KindSource     Kind = "source"
	KindCollection Kind = "collection"
	KindUnknown    Kind = "unknown"
)

// SearchParam marks an expression whose matches are looked up remotely.
const SearchParam = "q"

// Expression is a classified reference expression.
type Expression struct {
	Raw              string
	Kind             Kind
	OwnerType        string
	Owner            string
	ContainerType    string
	Container        string
	ContainerVersion string
	Mnemonic         string
	Version          string
	Query            url.Values
}

// Parse classifies raw. It never fails: malformed input yields KindUnknown.
func Parse(raw string) Expression {
	expr := Expression{Raw: raw, Kind: KindUnknown, Version: terminology.HEAD}

	path, rawQuery, _ := strings.Cut(strings.TrimSpace(raw), "?")
	if rawQuery != "" {
		if query, err := url.ParseQuery(rawQuery); err == nil {
			expr.Query = query
		}
	}
	if !strings.HasPrefix(path, "/") {
		return expr
	}

	segments := splitPath(path)
	if len(segments) < 4 {
		return expr
	}
	if segments[0] != terminology.OwnerTypeOrgs && segments[0] != terminology.OwnerTypeUsers {
		return expr
	}
	if segments[2] != terminology.KindSource && segments[2] != terminology.KindCollection {
		return expr
	}

	expr.OwnerType = segments[0]
	expr.Owner = segments[1]
	expr.ContainerType = segments[2]
	expr.Container = segments[3]

	rest := segments[4:]
	if len(rest) > 0 && !isEntitySegment(rest[0]) {
		expr.ContainerVersion = rest[0]
		rest = rest[1:]
	}

	if len(rest) == 0 {
		if expr.ContainerType == terminology.KindSource {
			expr.Kind = KindSource
		} else {
			expr.Kind = KindCollection
		}
		return expr
	}

	if !isEntitySegment(rest[0]) || len(rest) > 3 {
		return Expression{Raw: raw, Kind: KindUnknown, Version: terminology.HEAD, Query: expr.Query}
	}

	if rest[0] == terminology.KindConcept {
		expr.Kind = KindConcept
	} else {
		expr.Kind = KindMapping
	}
	if len(rest) > 1 {
		expr.Mnemonic = rest[1]
	}
	if len(rest) > 2 {
		expr.Version = rest[2]
	}
	return expr
}

func splitPath(path string) []string {
	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func isEntitySegment(segment string) bool {
	return segment == terminology.KindConcept || segment == terminology.KindMapping
}

func (e Expression) IsConcept() bool { return e.Kind == KindConcept }

func (e Expression) IsMapping() bool { return e.Kind == KindMapping }

func (e Expression) IsUnknown() bool { return e.Kind == KindUnknown }

// IsVersioned reports whether the expression pins an entity version.
func (e Expression) IsVersioned() bool {
	return e.Version != "" && e.Version != terminology.HEAD
}

// IsSearch reports whether the expression carries the search marker.
func (e Expression) IsSearch() bool {
	return e.Query != nil && e.Query.Has(SearchParam)
}

// ContainerURI returns the URI of the owning source or collection, including its version when given.
func (e Expression) ContainerURI() string {
	if e.Kind == KindUnknown {
		return ""
	}
	uri := "/" + e.OwnerType + "/" + e.Owner + "/" + e.ContainerType + "/" + e.Container + "/"
	if e.ContainerVersion != "" {
		uri += e.ContainerVersion + "/"
	}
	return uri
}

// VersionlessURI returns the expression without its entity version and query.
func (e Expression) VersionlessURI() string {
	if e.Kind != KindConcept && e.Kind != KindMapping {
		return e.ContainerURI()
	}
	segment := terminology.KindConcept
	if e.Kind == KindMapping {
		segment = terminology.KindMapping
	}
	uri := e.ContainerURI() + segment + "/"
	if e.Mnemonic != "" {
		uri += e.Mnemonic + "/"
	}
	return uri
}

// URI rebuilds the canonical form of the expression without its query.
func (e Expression) URI() string {
	uri := e.VersionlessURI()
	if e.IsVersioned() && e.Mnemonic != "" {
		uri += e.Version + "/"
	}
	return uri
}

// WithoutVersion returns the expression with its entity version dropped.
func (e Expression) WithoutVersion() string {
	if e.IsSearch() || (e.Kind != KindConcept && e.Kind != KindMapping) {
		return e.Raw
	}
	return e.VersionlessURI()
}

// DropVersion is shorthand for Parse(raw).WithoutVersion().
func DropVersion(raw string) string {
	return Parse(raw).WithoutVersion()
}

func IsVersionSpecified(raw string) bool {
	return Parse(raw).IsVersioned()
}

func IsConcept(raw string) bool { return Parse(raw).IsConcept() }

func IsMapping(raw string) bool { return Parse(raw).IsMapping() }
