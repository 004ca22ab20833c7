package terminology

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound is returned when a container or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDefaultExpansion is returned when deleting the default expansion of a collection version.
	ErrDefaultExpansion = errors.New("cannot delete default expansion")
)

const (
	MsgReferenceAlreadyExists        = "Concept or Mapping reference name must be unique in a collection."
	MsgFullySpecifiedNameUnique      = "Concept fully specified name must be unique for same collection and locale."
	MsgPreferredNameUnique           = "Concept preferred name must be unique for same collection and locale."
	MsgExpressionNotResolved         = "Expression specified is not valid."
	MsgHeadOfConceptAdded            = "Added the latest versions of concept to the collection. Future updates will not be added automatically."
	MsgHeadOfMappingAdded            = "Added the latest versions of mapping to the collection. Future updates will not be added automatically."
	MsgConceptVersionAddedFormat     = "Added concept %s to collection %s."
	MsgMappingVersionAddedFormat     = "Added mapping %s to collection %s."
	MsgUnknownReferenceAddedFormat   = "Added reference to collection %s."
	MsgRemoteLookupUnavailableFormat = "Remote lookup failed for %s."
)

// ErrorKind classifies item level failures.
type ErrorKind string

const (
	ResolutionFailure   ErrorKind = "ResolutionFailure"
	DuplicateReference  ErrorKind = "DuplicateReference"
	ValidationViolation ErrorKind = "ValidationViolation"
	RemoteLookupFailure ErrorKind = "RemoteLookupFailure"
)

// ReferenceError is a non-fatal failure of a single expression.
type ReferenceError struct {
	Kind       ErrorKind
	Expression string
	Message    string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Expression, e.Message)
}

func NewReferenceError(kind ErrorKind, expression, message string) *ReferenceError {
	return &ReferenceError{Kind: kind, Expression: expression, Message: message}
}

// KindOf returns the kind of a ReferenceError, or empty when err is something else.
func KindOf(err error) ErrorKind {
	var refErr *ReferenceError
	if errors.As(err, &refErr) {
		return refErr.Kind
	}
	return ""
}

// Errors accumulates item level messages keyed by expression.
type Errors map[string][]string

func (e Errors) Add(expression string, messages ...string) {
	e[expression] = append(e[expression], messages...)
}

func (e Errors) AddError(expression string, err error) {
	var refErr *ReferenceError
	if errors.As(err, &refErr) {
		e.Add(expression, refErr.Message)
		return
	}
	e.Add(expression, err.Error())
}

func (e Errors) Merge(other Errors) {
	for expression, messages := range other {
		e.Add(expression, messages...)
	}
}

func (e Errors) Has(expression string) bool {
	_, ok := e[expression]
	return ok
}

// Expressions returns the failed expressions in sorted order.
func (e Errors) Expressions() []string {
	out := make([]string, 0, len(e))
	for expression := range e {
		out = append(out, expression)
	}
	sort.Strings(out)
	return out
}
