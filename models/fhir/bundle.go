package fhir

import "encoding/json"

type BundleType string

const (
	BundleTypeSearchset  BundleType = "searchset"
	BundleTypeCollection BundleType = "collection"
)

type Meta struct {
	LastUpdated *string `json:"lastUpdated,omitempty"`
}

type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Id           *string       `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         BundleType    `json:"type"`
	Timestamp    *string       `json:"timestamp,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	Url      string `json:"url"`
}

type BundleEntry struct {
	FullUrl  *string         `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

type IssueSeverity string

const (
	IssueSeverityFatal       IssueSeverity = "fatal"
	IssueSeverityError       IssueSeverity = "error"
	IssueSeverityWarning     IssueSeverity = "warning"
	IssueSeverityInformation IssueSeverity = "information"
)

type IssueType string

const (
	IssueTypeInvalid       IssueType = "invalid"
	IssueTypeProcessing    IssueType = "processing"
	IssueTypeNotFound      IssueType = "not-found"
	IssueTypeDuplicate     IssueType = "duplicate"
	IssueTypeBusinessRule  IssueType = "business-rule"
	IssueTypeTimeout       IssueType = "timeout"
	IssueTypeInformational IssueType = "informational"
)

type CodeableConcept struct {
	Text *string `json:"text,omitempty"`
}

type OperationOutcomeIssue struct {
	Severity    IssueSeverity    `json:"severity"`
	Code        IssueType        `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
	Diagnostics *string          `json:"diagnostics,omitempty"`
}

type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

func NewOperationOutcome(issues ...OperationOutcomeIssue) *OperationOutcome {
	return &OperationOutcome{ResourceType: "OperationOutcome", Issue: issues}
}
