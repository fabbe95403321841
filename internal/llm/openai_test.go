package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "the answer",
					"tool_calls": [{"id": "call_1", "function": {"name": "create_task", "arguments": "{\"title\":\"x\"}"}}]
				},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5}
		}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("cheap", server.URL, "test-key", "test-model", 5*time.Second)

	resp, err := p.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "the answer" {
		t.Errorf("Text = %q, want %q", resp.Text, "the answer")
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "create_task" {
		t.Errorf("ToolCalls = %+v, want one create_task call", resp.ToolCalls)
	}
	if resp.PromptTokens != 10 || resp.CompletionTokens != 5 {
		t.Errorf("usage = (%d, %d), want (10, 5)", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestHTTPProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		headers       map[string]string
		wantKind      ErrorKind
		wantRetryable bool
		wantRetryHint time.Duration
	}{
		{
			name:          "rate limited with retry-after",
			status:        http.StatusTooManyRequests,
			headers:       map[string]string{"Retry-After": "7"},
			wantKind:      KindRateLimited,
			wantRetryable: true,
			wantRetryHint: 7 * time.Second,
		},
		{
			name:          "rate limited without retry-after",
			status:        http.StatusTooManyRequests,
			wantKind:      KindRateLimited,
			wantRetryable: true,
		},
		{
			name:          "server error",
			status:        http.StatusServiceUnavailable,
			wantKind:      KindUnavailable,
			wantRetryable: true,
		},
		{
			name:          "unauthorized is terminal",
			status:        http.StatusUnauthorized,
			wantKind:      KindUnauthorized,
			wantRetryable: false,
		},
		{
			name:          "bad request is terminal",
			status:        http.StatusBadRequest,
			wantKind:      KindBadRequest,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`))
			}))
			defer server.Close()

			p := NewHTTPProvider("cheap", server.URL, "k", "m", 5*time.Second)
			_, err := p.Generate(context.Background(), GenerateRequest{
				Messages: []Message{{Role: "user", Content: "hi"}},
			})
			if err == nil {
				t.Fatal("Generate() expected error")
			}

			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a ProviderError", err)
			}
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", pe.Kind, tt.wantKind)
			}
			if got := Retryable(err); got != tt.wantRetryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.wantRetryable)
			}
			hint, ok := RetryAfterHint(err)
			if tt.wantRetryHint > 0 {
				if !ok || hint != tt.wantRetryHint {
					t.Errorf("RetryAfterHint() = (%v, %v), want (%v, true)", hint, ok, tt.wantRetryHint)
				}
			} else if ok {
				t.Errorf("RetryAfterHint() = (%v, true), want no hint", hint)
			}
		})
	}
}

func TestHTTPProvider_StreamGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n\n"))
		}
	}))
	defer server.Close()

	p := NewHTTPProvider("cheap", server.URL, "k", "m", 5*time.Second)

	var got strings.Builder
	err := p.StreamGenerate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamGenerate() error = %v", err)
	}
	if got.String() != "Hello" {
		t.Errorf("streamed = %q, want %q", got.String(), "Hello")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("12"); d != 12*time.Second {
		t.Errorf("parseRetryAfter(12) = %v, want 12s", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("parseRetryAfter(empty) = %v, want 0", d)
	}
	if d := parseRetryAfter("garbage"); d != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v, want 0", d)
	}
}
