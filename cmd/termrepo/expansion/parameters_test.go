package expansion

import (
	"testing"

	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/stretchr/testify/assert"
)

func candidates() Candidates {
	return Candidates{
		Concepts: []*terminology.Concept{
			{Mnemonic: "active", IsActive: true},
			{Mnemonic: "retired", IsActive: true, Retired: true},
			{Mnemonic: "inactive"},
		},
		Mappings: []*terminology.Mapping{
			{Mnemonic: "m-active", IsActive: true},
			{Mnemonic: "m-retired", Retired: true},
		},
	}
}

func TestApplyParametersActiveOnly(t *testing.T) {
	tests := []struct {
		name     string
		params   terminology.Parameters
		concepts int
		mappings int
	}{
		{name: "defaults keep everything", params: terminology.DefaultParameters(), concepts: 3, mappings: 2},
		{name: "nil parameters keep everything", params: nil, concepts: 3, mappings: 2},
		{name: "active only", params: terminology.Parameters{"activeOnly": true}, concepts: 1, mappings: 1},
		{name: "active only as string", params: terminology.Parameters{"activeOnly": "true"}, concepts: 1, mappings: 1},
		{name: "unknown keys are ignored", params: terminology.Parameters{"somethingNew": 42}, concepts: 3, mappings: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ApplyParameters(candidates(), tt.params)
			assert.Len(t, out.Concepts, tt.concepts)
			assert.Len(t, out.Mappings, tt.mappings)
		})
	}
}

type conceptClassFilter string

func (f conceptClassFilter) AllowConcept(c *terminology.Concept) bool { return c.ConceptClass == string(f) }

func (conceptClassFilter) AllowMapping(*terminology.Mapping) bool { return true }

func TestRegisterParameter(t *testing.T) {
	RegisterParameter("conceptClass", func(value any) (Filter, bool) {
		class, ok := value.(string)
		if !ok || class == "" {
			return nil, false
		}
		return conceptClassFilter(class), true
	})

	in := Candidates{Concepts: []*terminology.Concept{
		{Mnemonic: "a", ConceptClass: "Drug", IsActive: true},
		{Mnemonic: "b", ConceptClass: "Diagnosis", IsActive: true},
	}}
	out := ApplyParameters(in, terminology.Parameters{"conceptClass": "Drug", "activeOnly": true})
	assert.Len(t, out.Concepts, 1)
	assert.Equal(t, "a", out.Concepts[0].Mnemonic)
	assert.Len(t, in.Concepts, 2, "input is not modified")
}
