package terminology

import (
	"time"
)

// ReferenceState tracks a reference through resolution and admission.
type ReferenceState string

const (
	StateProposed  ReferenceState = "proposed"
	StateResolved  ReferenceState = "resolved"
	StateAdmitted  ReferenceState = "admitted"
	StateDeferred  ReferenceState = "deferred"
	StateRejected  ReferenceState = "rejected"
	StateRetracted ReferenceState = "retracted"
)

// Reference is an expression declared by a collection version.
type Reference struct {
	ID                  int64          `json:"id" db:"id"`
	CollectionVersionID int64          `json:"-" db:"collection_version_id"`
	Expression          string         `json:"expression" db:"expression"`
	OriginalExpression  string         `json:"original_expression,omitempty" db:"original_expression"`
	State               ReferenceState `json:"state" db:"state"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	LastResolvedAt      *time.Time     `json:"last_resolved_at" db:"last_resolved_at"`

	// Populated during resolution, never persisted.
	Concepts []*Concept `json:"-" db:"-"`
	Mappings []*Mapping `json:"-" db:"-"`
}

func (r *Reference) IsResolved() bool {
	return len(r.Concepts) > 0 || len(r.Mappings) > 0
}

// Defer marks the reference for later reconciliation.
func (r *Reference) Defer() {
	r.LastResolvedAt = nil
	r.State = StateDeferred
}

// Expansion is a materialized snapshot of a collection version's members.
type Expansion struct {
	ID                  int64      `json:"id" db:"id"`
	Mnemonic            string     `json:"mnemonic" db:"mnemonic"`
	URI                 string     `json:"url" db:"uri"`
	CollectionVersionID int64      `json:"-" db:"collection_version_id"`
	Parameters          Parameters `json:"parameters" db:"parameters"`
	CanonicalURL        string     `json:"canonical_url,omitempty" db:"canonical_url"`
	CreatedBy           string     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Parameters is the open parameter document of an expansion.
type Parameters map[string]any

const ParameterActiveOnly = "activeOnly"

// DefaultParameters returns the parameter document new expansions start from.
func DefaultParameters() Parameters {
	return Parameters{
		"filter":                 "",
		"date":                   "",
		"count":                  0,
		"offset":                 0,
		"includeDesignations":    true,
		ParameterActiveOnly:      false,
		"includeDefinition":      false,
		"excludeNested":          true,
		"excludeNotForUI":        true,
		"excludePostCoordinated": true,
		"exclude-system":         "",
		"system-version":         "",
		"check-system-version":   "",
		"force-system-version":   "",
	}
}

// Bool reads a boolean parameter, accepting "true"/"false" strings.
func (p Parameters) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True"
	}
	return false
}
