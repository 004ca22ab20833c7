package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/fhir/bundle"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/go-chi/chi/v5"
)

// handleCascade answers $cascade on a single concept with a searchset bundle.
func (rt *Router) handleCascade(w http.ResponseWriter, r *http.Request) {
	ownerType, err := ownerType(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	query := r.URL.Query()
	params, err := bundle.ParamsFromQuery(query)
	if err != nil {
		rt.respondWithError(w, r, errors.Join(errBadRequest, err))
		return
	}
	count, offset, err := bundle.PageFromQuery(query)
	if err != nil {
		rt.respondWithError(w, r, errors.Join(errBadRequest, err))
		return
	}

	root, err := rt.findRoot(r, ownerType)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	result, err := rt.services.Bundles.Cascade(r.Context(), root, params, bundle.Options{
		Verbose: bundle.IsVerbose(query),
		Count:   count,
		Offset:  offset,
		BaseURL: r.URL.Path,
		Query:   query,
	})
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithFHIR(w, http.StatusOK, result)
}

// findRoot loads the concept named by the path. Private sources only show
// their content to users who may view it.
func (rt *Router) findRoot(r *http.Request, ownerType string) (*terminology.Concept, error) {
	owner := chi.URLParam(r, "owner")
	sourceMnemonic := chi.URLParam(r, "source")
	sourceVersion := chi.URLParam(r, "sourceVersion")
	if sourceVersion == "" {
		sourceVersion = terminology.HEAD
	}

	source, err := rt.services.Content.GetSource(r.Context(), ownerType, owner, sourceMnemonic, sourceVersion)
	if err != nil {
		return nil, err
	}

	concepts, err := rt.services.Content.FindConcepts(r.Context(), datasource.ContentQuery{
		OwnerType:     ownerType,
		Owner:         owner,
		Source:        sourceMnemonic,
		SourceVersion: sourceVersion,
		Mnemonic:      chi.URLParam(r, "concept"),
		Version:       chi.URLParam(r, "conceptVersion"),
		PublicOnly:    !source.CanViewAllContent(userFromRequest(r)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find concept: %w", err)
	}
	if len(concepts) == 0 {
		return nil, fmt.Errorf("concept %s in %s: %w", chi.URLParam(r, "concept"), source.URI, terminology.ErrNotFound)
	}
	return concepts[0], nil
}
