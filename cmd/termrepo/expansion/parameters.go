package expansion

import (
	"sort"
	"sync"

	"github.com/SanteonNL/termrepo/models/terminology"
)

// Filter is the predicate a recognised expansion parameter contributes.
type Filter interface {
	AllowConcept(c *terminology.Concept) bool
	AllowMapping(m *terminology.Mapping) bool
}

// ParameterFactory builds the filter for a parameter value. It returns false
// when the value does not restrict anything.
type ParameterFactory func(value any) (Filter, bool)

var (
	registryMu sync.RWMutex
	registry   = map[string]ParameterFactory{
		terminology.ParameterActiveOnly: newActiveOnly,
	}
)

// RegisterParameter adds or replaces the factory for a parameter name.
func RegisterParameter(name string, factory ParameterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

type activeOnly struct{}

func newActiveOnly(value any) (Filter, bool) {
	if !(terminology.Parameters{terminology.ParameterActiveOnly: value}).Bool(terminology.ParameterActiveOnly) {
		return nil, false
	}
	return activeOnly{}, true
}

func (activeOnly) AllowConcept(c *terminology.Concept) bool { return c.IsActive && !c.Retired }

func (activeOnly) AllowMapping(m *terminology.Mapping) bool { return m.IsActive && !m.Retired }

// Filters returns the filters of the recognised parameters in params.
// Unknown keys are ignored.
func Filters(params terminology.Parameters) []Filter {
	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var filters []Filter
	for _, key := range keys {
		factory, ok := registry[key]
		if !ok {
			continue
		}
		if filter, ok := factory(params[key]); ok {
			filters = append(filters, filter)
		}
	}
	return filters
}

// Candidates is a set of entities considered for membership.
type Candidates struct {
	Concepts []*terminology.Concept
	Mappings []*terminology.Mapping
}

// ApplyParameters keeps the candidates every recognised parameter allows.
// It does not modify its input.
func ApplyParameters(candidates Candidates, params terminology.Parameters) Candidates {
	filters := Filters(params)
	if len(filters) == 0 {
		return candidates
	}

	var out Candidates
	for _, concept := range candidates.Concepts {
		if allowConcept(filters, concept) {
			out.Concepts = append(out.Concepts, concept)
		}
	}
	for _, mapping := range candidates.Mappings {
		if allowMapping(filters, mapping) {
			out.Mappings = append(out.Mappings, mapping)
		}
	}
	return out
}

func allowConcept(filters []Filter, concept *terminology.Concept) bool {
	for _, f := range filters {
		if !f.AllowConcept(concept) {
			return false
		}
	}
	return true
}

func allowMapping(filters []Filter, mapping *terminology.Mapping) bool {
	for _, f := range filters {
		if !f.AllowMapping(mapping) {
			return false
		}
	}
	return true
}
