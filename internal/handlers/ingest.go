package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/docstore"
	"pixie-engine/internal/ingest"
)

// IngestHandler handles document ingestion and deletion.
type IngestHandler struct {
	pipeline *ingest.Pipeline
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(pipeline *ingest.Pipeline) *IngestHandler {
	return &IngestHandler{pipeline: pipeline}
}

// IngestRequest represents the HTTP request payload for document ingestion.
type IngestRequest struct {
	OwnerID    string            `json:"owner_id"`
	DocumentID string            `json:"document_id"`
	Kind       string            `json:"kind"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IngestResponse represents the HTTP response payload for document ingestion.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Version    int64  `json:"version"`
}

// Ingest handles POST /api/v1/documents.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if req.OwnerID == "" || req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "owner_id and document_id are required")
		return
	}
	if !docstore.ValidKind(req.Kind) {
		writeError(w, http.StatusBadRequest, "bad_request", "kind must be task, event or note")
		return
	}

	stored, err := h.pipeline.IngestDocument(ctx, &docstore.Document{
		ID:       req.DocumentID,
		OwnerID:  req.OwnerID,
		Kind:     req.Kind,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrOwnerImmutable) {
			writeError(w, http.StatusConflict, "conflict", "Document belongs to a different owner")
			return
		}
		logger.ErrorContext(ctx, "ingestion failed", "document_id", req.DocumentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to ingest document")
		return
	}

	if err := writeJSON(w, http.StatusOK, IngestResponse{
		DocumentID: stored.ID,
		Version:    stored.Version,
	}); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Delete handles DELETE /api/v1/documents/{id}.
func (h *IngestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "document id is required")
		return
	}

	if err := h.pipeline.DeleteDocument(ctx, id); err != nil {
		logger.ErrorContext(ctx, "deletion failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backfill handles POST /api/v1/owners/{owner_id}/backfill.
func (h *IngestHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	ownerID := chi.URLParam(r, "owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "owner_id is required")
		return
	}

	indexed, err := h.pipeline.Backfill(ctx, ownerID)
	if err != nil {
		logger.ErrorContext(ctx, "backfill failed", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to backfill owner")
		return
	}

	if err := writeJSON(w, http.StatusOK, map[string]int{"indexed": indexed}); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
