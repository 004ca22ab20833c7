package cascade

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Method decides whether mappings lead to further concepts.
type Method string

const (
	// MethodSourceToConcepts follows each collected mapping to its target concept.
	MethodSourceToConcepts Method = "sourcetoconcepts"
	// MethodSourceMappings collects mappings but never expands through them.
	MethodSourceMappings Method = "sourcemappings"
)

func ParseMethod(value string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(value))) {
	case "", MethodSourceToConcepts:
		return MethodSourceToConcepts, nil
	case MethodSourceMappings:
		return MethodSourceMappings, nil
	}
	return "", fmt.Errorf("unknown cascade method %q", value)
}

const unboundedLevels = "*"

// Levels bounds the traversal depth.
type Levels struct {
	Depth     int
	Unbounded bool
}

func Unbounded() Levels { return Levels{Unbounded: true} }

func Depth(n int) Levels { return Levels{Depth: n} }

// ParseLevels accepts an integer or "*".
func ParseLevels(value string) (Levels, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == unboundedLevels {
		return Unbounded(), nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return Levels{}, fmt.Errorf("invalid cascade levels %q", value)
	}
	return Depth(n), nil
}

func (l Levels) String() string {
	if l.Unbounded {
		return unboundedLevels
	}
	return strconv.Itoa(l.Depth)
}

func (l Levels) allows(level int) bool {
	return l.Unbounded || level < l.Depth
}

// MappingsCriteria filters mappings by map type. Map types match exactly.
type MappingsCriteria struct {
	MapTypes        []string
	ExcludeMapTypes []string
}

func (c MappingsCriteria) Allows(mapType string) bool {
	if len(c.MapTypes) > 0 && !slices.Contains(c.MapTypes, mapType) {
		return false
	}
	return !slices.Contains(c.ExcludeMapTypes, mapType)
}

// Params are the request scoped cascade options.
type Params struct {
	Method           Method
	Criteria         MappingsCriteria
	CascadeMappings  bool
	CascadeHierarchy bool
	Levels           Levels
	IncludeMappings  bool
}

// DefaultParams cascades hierarchy and mappings to unbounded depth.
func DefaultParams() Params {
	return Params{
		Method:           MethodSourceToConcepts,
		CascadeMappings:  true,
		CascadeHierarchy: true,
		Levels:           Unbounded(),
		IncludeMappings:  true,
	}
}
