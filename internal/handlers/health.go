package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"pixie-engine/internal/contextutil"
)

// CollectionChecker reports whether the vector collection is reachable.
type CollectionChecker interface {
	CollectionExists(ctx context.Context) (bool, error)
}

// HealthHandler handles HTTP requests for health checks.
type HealthHandler struct {
	db                 *sql.DB
	vectorStore        CollectionChecker
	healthCheckTimeout time.Duration
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db *sql.DB, vectorStore CollectionChecker) *HealthHandler {
	return &HealthHandler{
		db:                 db,
		vectorStore:        vectorStore,
		healthCheckTimeout: 5 * time.Second,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Issues    []string          `json:"issues,omitempty"`
}

// ServeHTTP handles health checks. Returns 200 when all dependencies answer,
// 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string)
	var issues []string

	if err := h.db.PingContext(checkCtx); err != nil {
		logger.WarnContext(ctx, "document store health check failed", "error", err)
		checks["document_store"] = "error"
		issues = append(issues, "document_store_unavailable")
	} else {
		checks["document_store"] = "ok"
	}

	exists, err := h.vectorStore.CollectionExists(checkCtx)
	switch {
	case err != nil:
		logger.WarnContext(ctx, "vector store health check failed", "error", err)
		checks["vector_store"] = "error"
		issues = append(issues, "vector_store_unavailable")
	case !exists:
		logger.WarnContext(ctx, "vector collection does not exist")
		checks["vector_store"] = "error"
		issues = append(issues, "vector_collection_missing")
	default:
		checks["vector_store"] = "ok"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if len(issues) > 0 {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Issues:    issues,
	}
	if err := writeJSON(w, httpStatus, resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode health response", "error", err)
	}
}
