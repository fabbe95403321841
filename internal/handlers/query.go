package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/engine"
	"pixie-engine/internal/llm"
)

// QueryEngine is the orchestrator boundary the handler depends on.
type QueryEngine interface {
	Query(ctx context.Context, req engine.QueryRequest) (engine.QueryResponse, error)
	StreamQuery(ctx context.Context, req engine.QueryRequest, callback func(chunk string) error) (engine.QueryResponse, error)
}

// QueryHandler handles HTTP requests for retrieval-augmented queries.
type QueryHandler struct {
	engine QueryEngine
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(eng QueryEngine) *QueryHandler {
	return &QueryHandler{engine: eng}
}

// QueryRequest represents the HTTP request payload for queries.
type QueryRequest struct {
	OwnerID       string        `json:"owner_id"`
	QueryText     string        `json:"query_text"`
	History       []llm.Message `json:"conversation_history,omitempty"`
	QueryTypeHint string        `json:"query_type_hint,omitempty"`
}

// ServeHTTP handles HTTP requests for queries. With ?stream=true the
// response is delivered as Server-Sent Events.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "Method not allowed")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "owner_id is required")
		return
	}
	if strings.TrimSpace(req.QueryText) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "query_text is required")
		return
	}

	engineReq := engine.QueryRequest{
		OwnerID:       req.OwnerID,
		QueryText:     req.QueryText,
		History:       req.History,
		QueryTypeHint: req.QueryTypeHint,
	}

	if r.URL.Query().Get("stream") == "true" {
		h.handleStream(w, r, engineReq)
		return
	}

	resp, err := h.engine.Query(ctx, engineReq)
	if err != nil {
		logger.ErrorContext(ctx, "query failed", "owner_id", req.OwnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to process query")
		return
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// handleStream delivers the answer as Server-Sent Events, one chunk per
// data line, terminated by [DONE].
func (h *QueryHandler) handleStream(w http.ResponseWriter, r *http.Request, req engine.QueryRequest) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "internal", "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	resp, err := h.engine.StreamQuery(ctx, req, func(chunk string) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "streaming query failed", "owner_id", req.OwnerID, "error", err)
		_, _ = fmt.Fprintf(w, "data: {\"error\":\"stream interrupted\"}\n\n")
		flusher.Flush()
		return
	}

	meta, _ := json.Marshal(map[string]any{
		"source":    resp.Source,
		"truncated": resp.Truncated,
		"tier_used": resp.TierUsed,
	})
	_, _ = fmt.Fprintf(w, "event: meta\ndata: %s\n\n", meta)
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
