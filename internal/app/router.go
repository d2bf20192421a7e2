package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-hcm/atlas-authz/internal/batch"
	"github.com/atlas-hcm/atlas-authz/internal/catalog"
	"github.com/atlas-hcm/atlas-authz/internal/compliance"
	"github.com/atlas-hcm/atlas-authz/internal/engine"
	"github.com/atlas-hcm/atlas-authz/internal/history"
	"github.com/atlas-hcm/atlas-authz/internal/observability"
	"github.com/atlas-hcm/atlas-authz/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	CatalogHandler    *catalog.Handler
	EngineHandler     *engine.Handler
	BatchHandler      *batch.Handler
	HistoryHandler    *history.Handler
	ComplianceHandler *compliance.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router. All API routes live under /api/v1 and
// require bearer authentication; /healthz and /metrics stay open for probes
// and scrapers.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(params.Config, params.Logger))
		if params.CatalogHandler != nil {
			params.CatalogHandler.Routes(r)
		}
		if params.EngineHandler != nil {
			params.EngineHandler.Routes(r)
		}
		if params.BatchHandler != nil {
			params.BatchHandler.Routes(r)
		}
		if params.HistoryHandler != nil {
			params.HistoryHandler.Routes(r)
		}
		if params.ComplianceHandler != nil {
			params.ComplianceHandler.Routes(r)
		}
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
