package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pixie-engine/internal/handlers"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Query          *handlers.QueryHandler
	Ingest         *handlers.IngestHandler
	Reconcile      *handlers.ReconcileHandler
	Health         *handlers.HealthHandler
	InternalAPIKey string
}

// NewRouter creates the HTTP router. Query and health are public; document
// ingestion and reconciliation sit behind the internal API key.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/query", deps.Query)
		r.Method(http.MethodGet, "/health", deps.Health)

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(deps.InternalAPIKey))
			r.Post("/documents", deps.Ingest.Ingest)
			r.Delete("/documents/{id}", deps.Ingest.Delete)
			r.Post("/owners/{owner_id}/backfill", deps.Ingest.Backfill)
			r.Method(http.MethodPost, "/reconcile", deps.Reconcile)
		})
	})

	return r
}
