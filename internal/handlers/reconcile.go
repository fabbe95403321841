package handlers

import (
	"encoding/json"
	"net/http"

	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/ingest"
)

// ReconcileHandler triggers a reconciliation pass on demand, outside the
// background schedule.
type ReconcileHandler struct {
	reconciler *ingest.Reconciler
}

// NewReconcileHandler creates a new ReconcileHandler.
func NewReconcileHandler(reconciler *ingest.Reconciler) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

// ReconcileRequest represents the HTTP request payload for reconciliation.
// An empty owner_id reconciles every owner.
type ReconcileRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
}

// ServeHTTP handles POST /api/v1/reconcile.
func (h *ReconcileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "Method not allowed")
		return
	}

	var req ReconcileRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.WarnContext(ctx, "invalid request body", "error", err)
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
			return
		}
	}

	var (
		rec ingest.Record
		err error
	)
	if req.OwnerID == "" {
		rec, err = h.reconciler.RunAll(ctx)
	} else {
		rec, err = h.reconciler.Run(ctx, req.OwnerID)
	}
	if err != nil {
		logger.ErrorContext(ctx, "reconciliation failed", "owner_id", req.OwnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Reconciliation failed")
		return
	}

	if err := writeJSON(w, http.StatusOK, rec); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
