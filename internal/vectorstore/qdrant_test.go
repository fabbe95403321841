package vectorstore

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
)

// TestSearch_FailsClosedWithoutOwner verifies the isolation invariant: a
// search without a tenant filter is rejected before any index call.
func TestSearch_FailsClosedWithoutOwner(t *testing.T) {
	store, err := NewQdrantStore("http://localhost:6333", "documents")
	if err != nil {
		t.Fatalf("NewQdrantStore() error = %v", err)
	}

	_, err = store.Search(context.Background(), SearchParams{
		Vector: []float32{0.1, 0.2},
		K:      5,
	})
	if !errors.Is(err, ErrMissingOwnerFilter) {
		t.Errorf("Search() error = %v, want ErrMissingOwnerFilter", err)
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("t1")
	b := PointID("t1")
	if a != b {
		t.Errorf("PointID(t1) not stable: %s vs %s", a, b)
	}
	if PointID("t1") == PointID("t2") {
		t.Error("distinct document ids map to the same point id")
	}
}

// TestNewQdrantStore_URLParsing tests URL parsing logic without creating a
// real client, to keep unit tests free of connection warnings.
func TestNewQdrantStore_URLParsing(t *testing.T) {
	tests := []struct {
		name     string
		urlStr   string
		wantErr  bool
		wantHost string
		wantPort int
	}{
		{
			name:     "valid URL",
			urlStr:   "http://localhost:6333",
			wantHost: "localhost",
			wantPort: 6334, // gRPC port is HTTP port + 1
		},
		{
			name:     "URL with custom port",
			urlStr:   "http://qdrant.internal:9000",
			wantHost: "qdrant.internal",
			wantPort: 9001,
		},
		{
			name:    "invalid URL",
			urlStr:  "://invalid",
			wantErr: true,
		},
		{
			name:     "URL without port",
			urlStr:   "http://localhost",
			wantHost: "localhost",
			wantPort: 6334,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsedURL, err := url.Parse(tt.urlStr)
			if tt.wantErr {
				if err == nil {
					t.Error("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("url.Parse() error = %v", err)
			}

			host := parsedURL.Hostname()
			if host == "" {
				host = "localhost"
			}
			port := 6334
			if parsedURL.Port() != "" {
				if httpPort, err := strconv.Atoi(parsedURL.Port()); err == nil {
					port = httpPort + 1
				}
			}

			if host != tt.wantHost {
				t.Errorf("host = %s, want %s", host, tt.wantHost)
			}
			if port != tt.wantPort {
				t.Errorf("port = %d, want %d", port, tt.wantPort)
			}
		})
	}
}
