// Package api exposes cascades, collection references, expansions and value
// sets over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/SanteonNL/termrepo/cmd/termrepo/collection"
	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expansion"
	"github.com/SanteonNL/termrepo/cmd/termrepo/fhir/bundle"
	"github.com/SanteonNL/termrepo/cmd/termrepo/fhir/valueset"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	JobAddReferences = "references.add"

	headerUsername      = "X-Username"
	headerOrganizations = "X-User-Organizations"
	headerStaff         = "X-User-Staff"
)

// Content finds the root concepts of cascades.
type Content interface {
	GetSource(ctx context.Context, ownerType, owner, mnemonic, version string) (*terminology.Source, error)
	FindConcepts(ctx context.Context, query datasource.ContentQuery) ([]*terminology.Concept, error)
}

type Runner interface {
	Enqueue(ctx context.Context, mode jobs.Mode, name string, fn jobs.Func) (*jobs.Task, error)
	Get(id string) (*jobs.Task, error)
}

// Services are the components the router serves.
type Services struct {
	Content    Content
	Registry   *collection.Registry
	Expansions *expansion.Service
	Bundles    *bundle.BundleService
	ValueSets  *valueset.ValueSetService
	Runner     Runner
	Metrics    http.Handler
	// DefaultMode applies when a request does not ask for one with ?sync=.
	DefaultMode jobs.Mode
}

type Router struct {
	services Services
	log      zerolog.Logger
}

func NewRouter(services Services, log zerolog.Logger) *Router {
	return &Router{
		services: services,
		log:      log.With().Str("component", "api").Logger(),
	}
}

func (rt *Router) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if rt.services.Metrics != nil {
		r.Handle("/metrics", rt.services.Metrics)
	}
	r.Get("/tasks/{id}/", rt.handleTask)
	r.Get("/tasks/{id}", rt.handleTask)

	r.Route("/{ownerType}/{owner}", func(r chi.Router) {
		r.Route("/sources/{source}", func(r chi.Router) {
			for _, op := range []string{"$cascade", "cascade"} {
				r.Get("/concepts/{concept}/"+op+"/", rt.handleCascade)
				r.Get("/concepts/{concept}/{conceptVersion}/"+op+"/", rt.handleCascade)
				r.Get("/{sourceVersion}/concepts/{concept}/"+op+"/", rt.handleCascade)
				r.Get("/{sourceVersion}/concepts/{concept}/{conceptVersion}/"+op+"/", rt.handleCascade)
			}
		})

		r.Route("/collections/{collection}", func(r chi.Router) {
			r.Get("/references/", rt.handleListReferences)
			r.Put("/references/", rt.handleAddReferences)
			r.Delete("/references/", rt.handleDeleteReferences)
			r.Post("/versions/", rt.handleCreateVersion)

			r.Route("/{version}", func(r chi.Router) {
				r.Get("/references/", rt.handleListReferences)
				r.Put("/references/", rt.handleAddReferences)
				r.Delete("/references/", rt.handleDeleteReferences)

				r.Get("/expansions/", rt.handleListExpansions)
				r.Post("/expansions/", rt.handleCreateExpansion)
				r.Get("/expansions/{expansion}/", rt.handleGetExpansion)
				r.Delete("/expansions/{expansion}/", rt.handleDeleteExpansion)
				r.Get("/expansions/{expansion}/concepts/", rt.handleExpansionConcepts)
				r.Get("/expansions/{expansion}/mappings/", rt.handleExpansionMappings)
			})
		})

		r.Route("/ValueSet/{collection}", func(r chi.Router) {
			r.Get("/$expand", rt.handleExpand)
			r.Get("/$validate-code", rt.handleValidateCode)
			r.Post("/$validate-code", rt.handleValidateCode)
		})
	})

	return r
}

func (rt *Router) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := rt.services.Runner.Get(chi.URLParam(r, "id"))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}
