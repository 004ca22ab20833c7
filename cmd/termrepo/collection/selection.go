package collection

import (
	"encoding/json"
	"fmt"
)

// AllSymbol selects every concept or mapping of a source.
const AllSymbol = "*"

// Selection is either AllSymbol or a list of expressions.
type Selection struct {
	All         bool
	Expressions []string
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	var symbol string
	if err := json.Unmarshal(data, &symbol); err == nil {
		if symbol != AllSymbol {
			return fmt.Errorf("invalid selection %q", symbol)
		}
		s.All = true
		return nil
	}
	return json.Unmarshal(data, &s.Expressions)
}

func (s Selection) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal(AllSymbol)
	}
	if s.Expressions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Expressions)
}

// AddData is the payload of a reference addition. URI names the source that
// an AllSymbol selection expands against.
type AddData struct {
	Expressions []string  `json:"expressions,omitempty"`
	Concepts    Selection `json:"concepts"`
	Mappings    Selection `json:"mappings"`
	URI         string    `json:"uri,omitempty"`
}

// AddsAll reports whether the payload selects a whole source.
func (d AddData) AddsAll() bool {
	return d.Concepts.All || d.Mappings.All
}

// Explicit returns every expression listed by the payload in order.
func (d AddData) Explicit() []string {
	out := make([]string, 0, len(d.Expressions)+len(d.Concepts.Expressions)+len(d.Mappings.Expressions))
	out = append(out, d.Expressions...)
	out = append(out, d.Concepts.Expressions...)
	return append(out, d.Mappings.Expressions...)
}

// DeleteData is the payload of a reference removal.
type DeleteData struct {
	References  Selection `json:"references"`
	Expressions Selection `json:"expressions"`
}

// Selection returns references when given, otherwise expressions.
func (d DeleteData) Selection() Selection {
	if d.References.All || len(d.References.Expressions) > 0 {
		return d.References
	}
	return d.Expressions
}
