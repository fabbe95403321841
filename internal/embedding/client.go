package embedding

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks pixie-engine/internal/embedding Embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pixie-engine/internal/contextutil"
)

// ErrInvalidEmbedding is returned when the provider yields a vector
// containing NaN or Inf components. Such results are never cached.
var ErrInvalidEmbedding = errors.New("invalid embedding")

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderClient is the raw embeddings backend behind the caching layer.
type ProviderClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is a caching Embedder. Input text is normalized and hashed; known
// hashes are served from the vector cache without touching the provider,
// keeping repeat embeds well under the provider round-trip cost.
type Client struct {
	provider     ProviderClient
	cache        VectorCache
	cacheTTL     time.Duration
	expectedSize int
	batchSize    int
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewClient creates a caching embedding client.
// expectedSize is the embedding model's output dimension; every vector is
// validated against it. batchSize bounds a single provider call.
func NewClient(provider ProviderClient, cache VectorCache, expectedSize, batchSize int, cacheTTL time.Duration, requestsPerSecond float64) *Client {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Client{
		provider:     provider,
		cache:        cache,
		cacheTTL:     cacheTTL,
		expectedSize: expectedSize,
		batchSize:    batchSize,
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:       slog.Default(),
	}
}

// NormalizeText canonicalizes text before hashing so trivially different
// inputs (case, whitespace) share a cache entry.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentHash returns the content-addressed cache key for a text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text. Cache hits are served
// directly; misses are sent to the provider in bounded batches and written
// back to the cache on success.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := ContentHash(text)
		vec, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			// A broken cache degrades to a provider call, it never fails the embed.
			logger.WarnContext(ctx, "embedding cache read failed", "error", err)
		}
		if ok {
			result[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, NormalizeText(texts[i]))
	}

	logger.DebugContext(ctx, "embedding batch partitioned",
		"total", len(texts), "hits", len(texts)-len(missTexts), "misses", len(missTexts))

	for start := 0; start < len(missTexts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		vecs, err := c.provider.EmbedBatch(ctx, missTexts[start:end])
		if err != nil {
			logger.ErrorContext(ctx, "embedding provider call failed", "count", end-start, "error", err)
			return nil, fmt.Errorf("failed to embed texts: %w", err)
		}

		for j, vec := range vecs {
			if err := c.validate(vec); err != nil {
				return nil, err
			}
			idx := missIdx[start+j]
			result[idx] = vec
			key := ContentHash(texts[idx])
			if err := c.cache.Set(ctx, key, vec, c.cacheTTL); err != nil {
				logger.WarnContext(ctx, "embedding cache write failed", "error", err)
			}
		}
	}

	return result, nil
}

// validate rejects vectors of the wrong dimension or with non-finite
// components. Bad vectors must never reach the cache or the index.
func (c *Client) validate(vec []float32) error {
	if c.expectedSize > 0 && len(vec) != c.expectedSize {
		return fmt.Errorf("%w: size %d, expected %d", ErrInvalidEmbedding, len(vec), c.expectedSize)
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidEmbedding)
		}
	}
	return nil
}
