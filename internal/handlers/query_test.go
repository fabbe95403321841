package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pixie-engine/internal/engine"
)

type fakeEngine struct {
	lastReq  engine.QueryRequest
	response engine.QueryResponse
	chunks   []string
	err      error
}

func (f *fakeEngine) Query(ctx context.Context, req engine.QueryRequest) (engine.QueryResponse, error) {
	f.lastReq = req
	return f.response, f.err
}

func (f *fakeEngine) StreamQuery(ctx context.Context, req engine.QueryRequest, callback func(chunk string) error) (engine.QueryResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return engine.QueryResponse{}, f.err
	}
	for _, chunk := range f.chunks {
		if err := callback(chunk); err != nil {
			return engine.QueryResponse{}, err
		}
	}
	return f.response, nil
}

func TestQueryHandler_Success(t *testing.T) {
	eng := &fakeEngine{response: engine.QueryResponse{
		ResponseText: "the auth bug is still open",
		Source:       engine.SourceGenerated,
		TierUsed:     "cheap",
	}}
	h := NewQueryHandler(eng)

	body := `{"owner_id":"u1","query_text":"auth bug status","query_type_hint":"detail"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var resp engine.QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.ResponseText != "the auth bug is still open" || resp.Source != engine.SourceGenerated {
		t.Errorf("response = %+v", resp)
	}
	if eng.lastReq.OwnerID != "u1" || eng.lastReq.QueryTypeHint != "detail" {
		t.Errorf("engine request = %+v", eng.lastReq)
	}
}

func TestQueryHandler_Validation(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing owner", http.MethodPost, `{"query_text":"hi"}`, http.StatusBadRequest},
		{"blank query", http.MethodPost, `{"owner_id":"u1","query_text":" "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewQueryHandler(&fakeEngine{})
			req := httptest.NewRequest(tt.method, "/api/v1/query", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestQueryHandler_Stream(t *testing.T) {
	eng := &fakeEngine{
		chunks:   []string{"Hel", "lo"},
		response: engine.QueryResponse{ResponseText: "Hello", Source: engine.SourceGenerated, TierUsed: "cheap"},
	}
	h := NewQueryHandler(eng)

	body := `{"owner_id":"u1","query_text":"say hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query?stream=true", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	out := rec.Body.String()
	for _, want := range []string{"data: Hel\n\n", "data: lo\n\n", "data: [DONE]\n\n", `"source":"generated"`} {
		if !strings.Contains(out, want) {
			t.Errorf("stream output missing %q:\n%s", want, out)
		}
	}
}
