package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks pixie-engine/internal/vectorstore VectorStore

import (
	"context"
	"errors"
)

// ErrMissingOwnerFilter is returned when a search is attempted without an
// owner scope. Owner isolation is the primary data-isolation invariant of
// the engine: a search without a tenant filter is a programming error and
// fails closed instead of returning unfiltered results.
var ErrMissingOwnerFilter = errors.New("vector search requires an owner filter")

// Point is one indexed document vector with its payload.
type Point struct {
	DocumentID string
	OwnerID    string
	Kind       string
	Version    int64
	Vector     []float32
	Meta       map[string]string
}

// SearchParams scopes a similarity search. OwnerID is mandatory.
type SearchParams struct {
	OwnerID string
	Vector  []float32
	K       int
	// Kind optionally narrows results to one document kind (task|event|note).
	Kind string
}

// SearchResult is a ranked hit from a similarity search. Score is cosine
// similarity in [-1, 1], higher is more similar.
type SearchResult struct {
	DocumentID string
	OwnerID    string
	Kind       string
	Version    int64
	Score      float64
	Meta       map[string]any
}

// VectorStore is the vector index behind retrieval. Upsert is idempotent by
// document id: re-upserting replaces the stored vector and payload.
type VectorStore interface {
	// Upsert inserts or replaces points keyed by document id.
	Upsert(ctx context.Context, points []Point) error

	// Delete removes points by their document ids.
	Delete(ctx context.Context, documentIDs []string) error

	// Search performs an owner-scoped approximate nearest-neighbor search.
	Search(ctx context.Context, params SearchParams) ([]SearchResult, error)

	// ListDocumentIDs returns the ids of all indexed documents, scoped to an
	// owner when ownerID is non-empty. Used by reconciliation.
	ListDocumentIDs(ctx context.Context, ownerID string) ([]string, error)

	// SetBulkLoad toggles bulk-load mode: while enabled, expensive graph
	// linking is deferred so large backfills avoid per-point index cost.
	SetBulkLoad(ctx context.Context, enabled bool) error
}
