package embedding

import (
	"context"
	"sync"
	"time"
)

// VectorCache is a content-addressed cache mapping a text hash to its
// embedding vector. Entries are never tenant-scoped: for a fixed provider
// and model, identical text always embeds to the same vector, so the
// mapping is safe to share across owners.
type VectorCache interface {
	// Get returns the cached vector for the key, and whether it was found.
	Get(ctx context.Context, key string) ([]float32, bool, error)
	// Set stores a vector under the key with the given TTL.
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error
}

// MemoryCache is an in-process VectorCache used in tests and single-node
// development setups. Production deployments use the Redis backend.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	vec       []float32
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory vector cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get returns the cached vector for the key, and whether it was found.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.vec, true, nil
}

// Set stores a vector under the key with the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, vec []float32, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{vec: vec, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
