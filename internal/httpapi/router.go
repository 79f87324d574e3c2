package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relecloud/internal/httpapi/handlers"
	"relecloud/internal/httpkit"
	"relecloud/internal/pkg/logger"
	"relecloud/internal/pkg/middleware"
)

type Deps struct {
	Handlers handlers.Deps

	// AllowedOrigin is WEBSITE_HOSTNAME; every /api request must carry it.
	AllowedOrigin string
	// RequireHTTPSOrigin restricts both origin checks to https origins on
	// the default port. Set in production.
	RequireHTTPSOrigin bool
	CORSAllowedOrigins []string

	// Blobs serves signed local objects under /blobs/. Nil unless the
	// backend is localfs.
	Blobs http.Handler
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Log      *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Logging(log), middleware.Recovery(log))
	r.MethodNotAllowed(httpkit.MethodNotAllowed)

	h := handlers.New(d.Handlers)

	// ---- OPS (outside the origin guard) ----
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if d.Blobs != nil {
		r.Handle("/blobs/*", http.StripPrefix("/blobs", d.Blobs))
	}

	// ---- API ----
	corsOrigins := d.CORSAllowedOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{d.AllowedOrigin}
	}
	r.Route("/api", func(api chi.Router) {
		api.Use(httpkit.CORS(httpkit.CORSOptions{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			MaxAgeSeconds:  600,
			HTTPSOnly:      d.RequireHTTPSOrigin,
		}))
		api.Use(httpkit.OriginGuard(d.AllowedOrigin, d.RequireHTTPSOrigin))
		api.MethodNotAllowed(httpkit.MethodNotAllowed)

		api.Get("/projects/", h.ListProjects)
		api.Post("/projects/", h.CreateProject)
		api.Delete("/projects/{id}/", h.DeleteProject)
		api.Post("/projects/{id}/domain/", h.AssignDomain)

		api.Get("/domains/{domain}/", h.ResolveDomain)
	})

	return r
}
