package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed VectorCache. Vectors are stored as JSON
// arrays under a prefixed content-hash key with a per-entry TTL, so the
// cache survives restarts and is shared across engine instances.
type RedisCache struct {
	client *goredis.Client
	prefix string
}

// NewRedisCache creates a Redis vector cache from a redis:// URL.
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return &RedisCache{
		client: goredis.NewClient(opts),
		prefix: "embed:",
	}, nil
}

// Get returns the cached vector for the key, and whether it was found.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		// A corrupt entry is dropped rather than surfaced.
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return nil, false, nil
	}
	return vec, true, nil
}

// Set stores a vector under the key with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal vector: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
