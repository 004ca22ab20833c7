package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/SanteonNL/termrepo/cmd/termrepo/collection"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/models/fhir"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/SanteonNL/termrepo/util"
	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON     = "application/json"
	contentTypeFHIRJSON = "application/fhir+json"
)

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

func respondWithJSON(w http.ResponseWriter, status int, data any) {
	respond(w, status, contentTypeJSON, data)
}

func respondWithFHIR(w http.ResponseWriter, status int, data any) {
	respond(w, status, contentTypeFHIRJSON, data)
}

func respond(w http.ResponseWriter, status int, contentType string, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(data)
}

func statusOf(err error) (int, fhir.IssueType) {
	switch {
	case errors.Is(err, terminology.ErrNotFound), errors.Is(err, jobs.ErrTaskNotFound):
		return http.StatusNotFound, fhir.IssueTypeNotFound
	case errors.Is(err, collection.ErrVersionExists):
		return http.StatusConflict, fhir.IssueTypeDuplicate
	case errors.Is(err, terminology.ErrDefaultExpansion):
		return http.StatusBadRequest, fhir.IssueTypeBusinessRule
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, fhir.IssueTypeInvalid
	case errors.Is(err, jobs.ErrQueueFull):
		return http.StatusServiceUnavailable, fhir.IssueTypeTimeout
	}
	return http.StatusInternalServerError, fhir.IssueTypeProcessing
}

// respondWithError answers with an OperationOutcome whose status follows err.
func (rt *Router) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	severity := fhir.IssueSeverityError
	if status >= http.StatusInternalServerError {
		severity = fhir.IssueSeverityFatal
		rt.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		rt.log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}

	respondWithFHIR(w, status, fhir.NewOperationOutcome(fhir.OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: util.StringPtr(err.Error()),
	}))
}

// userFromRequest reads the acting user from the request headers. A request
// without a username is anonymous.
func userFromRequest(r *http.Request) *terminology.User {
	username := r.Header.Get(headerUsername)
	if username == "" {
		return nil
	}
	return &terminology.User{
		Username:      username,
		IsStaff:       strings.EqualFold(r.Header.Get(headerStaff), "true"),
		Organizations: util.SplitCSV(r.Header.Get(headerOrganizations)),
		Token:         strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Token")),
	}
}

// requestMode is Synchronous or Background per ?sync=, else the default.
func (rt *Router) requestMode(r *http.Request) jobs.Mode {
	if v := r.URL.Query().Get("sync"); v != "" {
		return jobs.ParseMode(v)
	}
	return rt.services.DefaultMode
}

func ownerType(r *http.Request) (string, error) {
	value := chi.URLParam(r, "ownerType")
	if value != terminology.OwnerTypeOrgs && value != terminology.OwnerTypeUsers {
		return "", errors.Join(errBadRequest, errors.New("owner type must be orgs or users"))
	}
	return value, nil
}
