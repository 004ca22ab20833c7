package fhir

type Coding struct {
	System  *string `json:"system,omitempty"`
	Version *string `json:"version,omitempty"`
	Code    *string `json:"code,omitempty"`
	Display *string `json:"display,omitempty"`
}

type ValueSetExpansionParameter struct {
	Name         string  `json:"name"`
	ValueString  *string `json:"valueString,omitempty"`
	ValueBoolean *bool   `json:"valueBoolean,omitempty"`
	ValueInteger *int    `json:"valueInteger,omitempty"`
}

type ValueSetExpansionContains struct {
	System   *string `json:"system,omitempty"`
	Version  *string `json:"version,omitempty"`
	Code     *string `json:"code,omitempty"`
	Display  *string `json:"display,omitempty"`
	Inactive *bool   `json:"inactive,omitempty"`
}

type ValueSetExpansion struct {
	Identifier *string                      `json:"identifier,omitempty"`
	Timestamp  string                       `json:"timestamp"`
	Total      *int                         `json:"total,omitempty"`
	Offset     *int                         `json:"offset,omitempty"`
	Parameter  []ValueSetExpansionParameter `json:"parameter,omitempty"`
	Contains   []ValueSetExpansionContains  `json:"contains,omitempty"`
}

type ValueSet struct {
	ResourceType string             `json:"resourceType"`
	Id           *string            `json:"id,omitempty"`
	Url          *string            `json:"url,omitempty"`
	Version      *string            `json:"version,omitempty"`
	Name         *string            `json:"name,omitempty"`
	Expansion    *ValueSetExpansion `json:"expansion,omitempty"`
}

type ParametersParameter struct {
	Name         string  `json:"name"`
	ValueString  *string `json:"valueString,omitempty"`
	ValueBoolean *bool   `json:"valueBoolean,omitempty"`
	ValueCode    *string `json:"valueCode,omitempty"`
	ValueUri     *string `json:"valueUri,omitempty"`
}

// Parameters is the FHIR Parameters resource used for operation results.
type Parameters struct {
	ResourceType string                `json:"resourceType"`
	Parameter    []ParametersParameter `json:"parameter"`
}
