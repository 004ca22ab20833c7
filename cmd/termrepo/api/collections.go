package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/SanteonNL/termrepo/cmd/termrepo/cascade"
	"github.com/SanteonNL/termrepo/cmd/termrepo/collection"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expansion"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/go-chi/chi/v5"
)

const (
	paramCascade    = "cascade"
	paramQ          = "q"
	paramSearchSort = "search_sort"
)

type versionRequest struct {
	ID string `json:"id"`
}

type expansionRequest struct {
	Mnemonic     string                 `json:"mnemonic"`
	Parameters   terminology.Parameters `json:"parameters"`
	CanonicalURL string                 `json:"canonical_url"`
}

// listing is a page of expansion members.
type listing[T any] struct {
	Total   int `json:"total"`
	Results []T `json:"results"`
}

func (rt *Router) collectionVersion(r *http.Request) (*terminology.CollectionVersion, error) {
	ownerType, err := ownerType(r)
	if err != nil {
		return nil, err
	}
	return rt.services.Registry.Version(r.Context(), ownerType, chi.URLParam(r, "owner"), chi.URLParam(r, "collection"), chi.URLParam(r, "version"))
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, fmt.Errorf("failed to decode request body: %w", err))
	}
	return nil
}

func (rt *Router) handleListReferences(w http.ResponseWriter, r *http.Request) {
	cv, err := rt.collectionVersion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	query := r.URL.Query()
	refs, err := rt.services.Registry.References(r.Context(), cv, query.Get(paramQ), query.Get(paramSearchSort))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if refs == nil {
		refs = []*terminology.Reference{}
	}
	respondWithJSON(w, http.StatusOK, refs)
}

// handleAddReferences adds the payload as references. Selecting a whole
// source runs as a task unless the request is synchronous.
func (rt *Router) handleAddReferences(w http.ResponseWriter, r *http.Request) {
	cv, err := rt.collectionVersion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	var data collection.AddData
	if err := decodeBody(r, &data); err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if data.AddsAll() && data.URI == "" {
		rt.respondWithError(w, r, errors.Join(errBadRequest, errors.New("selecting all content requires a source uri")))
		return
	}

	var cascadeMappings, cascadeToConcepts bool
	switch method := strings.ToLower(r.URL.Query().Get(paramCascade)); method {
	case "":
	case string(cascade.MethodSourceMappings):
		cascadeMappings = true
	case string(cascade.MethodSourceToConcepts):
		cascadeToConcepts = true
	default:
		rt.respondWithError(w, r, errors.Join(errBadRequest, fmt.Errorf("unknown cascade method %q", method)))
		return
	}

	user := userFromRequest(r)
	mode := rt.requestMode(r)

	if data.AddsAll() && !mode.IsSynchronous() {
		task, err := rt.services.Runner.Enqueue(r.Context(), jobs.Background, JobAddReferences, func(ctx context.Context) error {
			_, err := rt.services.Registry.AddExpressions(ctx, cv, data, user, cascadeMappings, cascadeToConcepts, jobs.Synchronous)
			return err
		})
		if err != nil {
			rt.respondWithError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusAccepted, task)
		return
	}

	outcome, err := rt.services.Registry.AddExpressions(r.Context(), cv, data, user, cascadeMappings, cascadeToConcepts, mode)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	items := outcome.Items
	if items == nil {
		items = []collection.ResponseItem{}
	}
	respondWithJSON(w, http.StatusOK, items)
}

func (rt *Router) handleDeleteReferences(w http.ResponseWriter, r *http.Request) {
	cv, err := rt.collectionVersion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	var data collection.DeleteData
	if err := decodeBody(r, &data); err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	cascadeMappings := strings.EqualFold(r.URL.Query().Get(paramCascade), string(cascade.MethodSourceMappings))

	removed, err := rt.services.Registry.DeleteReferences(r.Context(), cv, data.Selection(), cascadeMappings, rt.requestMode(r))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	rt.log.Debug().Str("collection_version", cv.URI).Int("removed", removed).Msg("Deleted references")
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	head, err := rt.collectionVersion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	var req versionRequest
	if err := decodeBody(r, &req); err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if req.ID == "" || req.ID == terminology.HEAD {
		rt.respondWithError(w, r, errors.Join(errBadRequest, fmt.Errorf("invalid version id %q", req.ID)))
		return
	}

	cv, _, err := rt.services.Registry.CreateVersion(r.Context(), head, req.ID, userFromRequest(r), rt.requestMode(r))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, cv)
}

func (rt *Router) handleListExpansions(w http.ResponseWriter, r *http.Request) {
	cv, err := rt.collectionVersion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	expansions, err := rt.services.Expansions.List(r.Context(), cv)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if expansions == nil {
		expansions = []*terminology.Expansion{}
	}
	respondWithJSON(w, http.StatusOK, expansions)
}

func (rt *Router) handleCreateExpansion(w http.ResponseWriter, r *http.Request) {
	cv, err := rt.collectionVersion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	var req expansionRequest
	if err := decodeBody(r, &req); err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	user := userFromRequest(r)
	createReq := expansion.CreateRequest{
		Mnemonic:     req.Mnemonic,
		Parameters:   req.Parameters,
		CanonicalURL: req.CanonicalURL,
	}
	if user != nil {
		createReq.CreatedBy = user.Username
	}

	exp, _, err := rt.services.Expansions.Create(r.Context(), cv, createReq, user, rt.requestMode(r))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, exp)
}

// loadExpansion loads the expansion named by the path. It must belong to the
// collection version of the path.
func (rt *Router) loadExpansion(r *http.Request) (*terminology.CollectionVersion, *terminology.Expansion, error) {
	cv, err := rt.collectionVersion(r)
	if err != nil {
		return nil, nil, err
	}
	uri := cv.ExpansionsURI() + chi.URLParam(r, "expansion") + "/"
	exp, err := rt.services.Expansions.Get(r.Context(), uri)
	if err != nil {
		return nil, nil, err
	}
	if exp.CollectionVersionID != cv.ID {
		return nil, nil, fmt.Errorf("expansion %s: %w", uri, terminology.ErrNotFound)
	}
	return cv, exp, nil
}

func (rt *Router) handleGetExpansion(w http.ResponseWriter, r *http.Request) {
	_, exp, err := rt.loadExpansion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, exp)
}

func (rt *Router) handleDeleteExpansion(w http.ResponseWriter, r *http.Request) {
	cv, exp, err := rt.loadExpansion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if err := rt.services.Expansions.Delete(r.Context(), cv, exp); err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleExpansionConcepts(w http.ResponseWriter, r *http.Request) {
	_, exp, err := rt.loadExpansion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	page, err := expansionPage(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	concepts, total, err := rt.services.Expansions.Concepts(r.Context(), exp, page)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if concepts == nil {
		concepts = []*terminology.Concept{}
	}
	respondWithJSON(w, http.StatusOK, listing[*terminology.Concept]{Total: total, Results: concepts})
}

func (rt *Router) handleExpansionMappings(w http.ResponseWriter, r *http.Request) {
	_, exp, err := rt.loadExpansion(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	page, err := expansionPage(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	mappings, total, err := rt.services.Expansions.Mappings(r.Context(), exp, page)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if mappings == nil {
		mappings = []*terminology.Mapping{}
	}
	respondWithJSON(w, http.StatusOK, listing[*terminology.Mapping]{Total: total, Results: mappings})
}
