package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/SanteonNL/termrepo/cmd/termrepo/expansion"
	"github.com/SanteonNL/termrepo/cmd/termrepo/fhir/valueset"
	"github.com/SanteonNL/termrepo/models/fhir"
	"github.com/go-chi/chi/v5"
)

const (
	paramFilter  = "filter"
	paramOffset  = "offset"
	paramCount   = "count"
	paramVersion = "version"
	paramCode    = "code"
	paramSystem  = "system"
	paramDisplay = "display"

	pageCount  = "_count"
	pageOffset = "_offset"
)

func intParam(r *http.Request, name string) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.Join(errBadRequest, fmt.Errorf("invalid %s %q", name, value))
	}
	return n, nil
}

func expansionPage(r *http.Request) (expansion.Page, error) {
	count, err := intParam(r, pageCount)
	if err != nil {
		return expansion.Page{}, err
	}
	offset, err := intParam(r, pageOffset)
	if err != nil {
		return expansion.Page{}, err
	}
	return expansion.Page{Offset: offset, Count: count}, nil
}

func (rt *Router) handleExpand(w http.ResponseWriter, r *http.Request) {
	ownerType, err := ownerType(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	offset, err := intParam(r, paramOffset)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	count, err := intParam(r, paramCount)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	query := r.URL.Query()
	result, err := rt.services.ValueSets.Expand(r.Context(), ownerType, chi.URLParam(r, "owner"), chi.URLParam(r, "collection"), query.Get(paramVersion), valueset.ExpandRequest{
		Filter: query.Get(paramFilter),
		Offset: offset,
		Count:  count,
	})
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithFHIR(w, http.StatusOK, result)
}

// handleValidateCode reads the coding from the query, or from a Parameters
// body on POST.
func (rt *Router) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	ownerType, err := ownerType(r)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	query := r.URL.Query()
	version := query.Get(paramVersion)
	coding := &fhir.Coding{
		Code:    optional(query.Get(paramCode)),
		System:  optional(query.Get(paramSystem)),
		Display: optional(query.Get(paramDisplay)),
	}

	if r.Method == http.MethodPost {
		var params fhir.Parameters
		if err := decodeBody(r, &params); err != nil {
			rt.respondWithError(w, r, err)
			return
		}
		for _, p := range params.Parameter {
			value := parameterValue(p)
			switch p.Name {
			case paramCode:
				coding.Code = value
			case paramSystem:
				coding.System = value
			case paramDisplay:
				coding.Display = value
			case "valueSetVersion", paramVersion:
				if value != nil {
					version = *value
				}
			}
		}
	}

	result, err := rt.services.ValueSets.ValidateCode(r.Context(), ownerType, chi.URLParam(r, "owner"), chi.URLParam(r, "collection"), version, coding)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithFHIR(w, http.StatusOK, result.Parameters())
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func parameterValue(p fhir.ParametersParameter) *string {
	switch {
	case p.ValueCode != nil:
		return p.ValueCode
	case p.ValueUri != nil:
		return p.ValueUri
	}
	return p.ValueString
}
