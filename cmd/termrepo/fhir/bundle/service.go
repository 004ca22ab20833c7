// Package bundle renders cascade results as searchset bundles.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/cascade"
	"github.com/SanteonNL/termrepo/models/fhir"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/SanteonNL/termrepo/util"
	"github.com/rs/zerolog"
)

const resourceTypeBundle = "Bundle"

// Cascader walks the graph from a set of seed concepts.
type Cascader interface {
	Cascade(ctx context.Context, seeds []*terminology.Concept, params cascade.Params) (*cascade.Result, error)
}

type BundleService struct {
	log      zerolog.Logger
	cascader Cascader
	cache    *BundleCache
}

// SearchIssue is a problem reported alongside the bundle entries.
type SearchIssue struct {
	Severity fhir.IssueSeverity
	Code     fhir.IssueType
	Details  string
}

// Options control projection and paging of a bundle.
// Count zero returns every entry from Offset on, without links.
type Options struct {
	Verbose bool
	Count   int
	Offset  int
	BaseURL string
	Query   url.Values
}

func NewBundleService(cascader Cascader, cacheConfig *CacheConfig, log zerolog.Logger) *BundleService {
	service := &BundleService{
		log:      log.With().Str("component", "bundle").Logger(),
		cascader: cascader,
	}
	if cacheConfig != nil && cacheConfig.Enabled {
		service.cache = NewBundleCache(*cacheConfig, log)
	}
	return service
}

// Stop releases the result set cache.
func (s *BundleService) Stop() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

// Cascade cascades from root and returns the requested page of the result.
// A first page always cascades afresh and caches the result set; later pages
// of the same root and parameters are served from that result set.
func (s *BundleService) Cascade(ctx context.Context, root *terminology.Concept, params cascade.Params, opts Options) (*fhir.Bundle, error) {
	key := cacheKey(params, opts.Verbose)
	if s.cache != nil && opts.Offset > 0 {
		if cached, ok := s.cache.GetResultSet(root.URI, key); ok {
			return s.page(root.Mnemonic, cached.LastUpdated, cached.Entries, cached.Issues, cached.Total, opts)
		}
	}

	result, err := s.cascader.Cascade(ctx, []*terminology.Concept{root}, params)
	if err != nil {
		return nil, fmt.Errorf("failed to cascade %s: %w", root.URI, err)
	}

	items := entries(result.Concepts, result.Mappings, opts.Verbose)
	if s.cache != nil {
		s.cache.StoreResultSet(root.URI, key, ResultSetCache{
			Entries:     items,
			Total:       result.Total,
			LastUpdated: root.UpdatedAt,
		})
	}

	s.log.Debug().
		Str("root", root.URI).
		Int("total", result.Total).
		Bool("verbose", opts.Verbose).
		Msg("Built cascade bundle")
	return s.page(root.Mnemonic, root.UpdatedAt, items, nil, result.Total, opts)
}

// Build renders an already computed result, for example one cascaded from
// several expressions, with issues listed first as OperationOutcome entries.
func (s *BundleService) Build(id string, lastUpdated time.Time, result *cascade.Result, issues []SearchIssue, opts Options) (*fhir.Bundle, error) {
	return s.page(id, lastUpdated, entries(result.Concepts, result.Mappings, opts.Verbose), issues, result.Total, opts)
}

func (s *BundleService) page(id string, lastUpdated time.Time, items []any, issues []SearchIssue, total int, opts Options) (*fhir.Bundle, error) {
	updated := lastUpdated.UTC().Format(time.RFC3339)
	bundle := &fhir.Bundle{
		ResourceType: resourceTypeBundle,
		Id:           util.StringPtr(id),
		Meta:         &fhir.Meta{LastUpdated: &updated},
		Type:         fhir.BundleTypeSearchset,
		Timestamp:    &updated,
		Total:        &total,
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(items) {
		start = len(items)
	}
	end := len(items)
	if opts.Count > 0 {
		if start+opts.Count < end {
			end = start + opts.Count
		}
		bundle.Link = createPaginationLinks(opts, total)
	}

	bundle.Entry = make([]fhir.BundleEntry, 0, len(issues)+end-start)
	for _, issue := range issues {
		outcome := fhir.NewOperationOutcome(fhir.OperationOutcomeIssue{
			Severity: issue.Severity,
			Code:     issue.Code,
			Details:  &fhir.CodeableConcept{Text: util.StringPtr(issue.Details)},
		})
		raw, err := encode(outcome)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal operation outcome: %w", err)
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{Resource: raw})
	}

	for _, item := range items[start:end] {
		raw, err := encode(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entry: %w", err)
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{Resource: raw})
	}
	return bundle, nil
}

// encode marshals without HTML escaping so URLs stay readable.
func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSpace(buf.Bytes())), nil
}

func createPaginationLinks(opts Options, total int) []fhir.BundleLink {
	pageSize := opts.Count
	query := url.Values{}
	for k, v := range opts.Query {
		query[k] = v
	}

	createLink := func(offset int) string {
		query.Set(ParamCount, strconv.Itoa(pageSize))
		query.Set(ParamOffset, strconv.Itoa(offset))
		return opts.BaseURL + "?" + query.Encode()
	}

	links := []fhir.BundleLink{{Relation: "self", Url: createLink(opts.Offset)}}
	if opts.Offset > 0 {
		prev := opts.Offset - pageSize
		if prev < 0 {
			prev = 0
		}
		links = append(links,
			fhir.BundleLink{Relation: "first", Url: createLink(0)},
			fhir.BundleLink{Relation: "previous", Url: createLink(prev)},
		)
	}
	if opts.Offset+pageSize < total {
		links = append(links, fhir.BundleLink{Relation: "next", Url: createLink(opts.Offset + pageSize)})
	}
	if total > 0 {
		links = append(links, fhir.BundleLink{Relation: "last", Url: createLink(((total - 1) / pageSize) * pageSize)})
	}
	return links
}

// IssuesFromErrors turns item level failures into bundle issues, in
// expression order. Expressions that matched nothing are reported as not
// found, any other failure as a processing error.
func IssuesFromErrors(errs terminology.Errors) []SearchIssue {
	var issues []SearchIssue
	for _, expression := range errs.Expressions() {
		for _, message := range errs[expression] {
			details := expression + ": " + message
			if isUnmatched(expression, message) {
				issues = append(issues, NewNotFoundIssue(details))
			} else {
				issues = append(issues, NewProcessingError(details))
			}
		}
	}
	return issues
}

func isUnmatched(expression, message string) bool {
	return message == terminology.MsgExpressionNotResolved ||
		message == fmt.Sprintf(terminology.MsgRemoteLookupUnavailableFormat, expression)
}

func NewProcessingError(details string) SearchIssue {
	return SearchIssue{Severity: fhir.IssueSeverityError, Code: fhir.IssueTypeProcessing, Details: details}
}

func NewNotFoundIssue(details string) SearchIssue {
	return SearchIssue{Severity: fhir.IssueSeverityWarning, Code: fhir.IssueTypeNotFound, Details: details}
}
