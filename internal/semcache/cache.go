package semcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"pixie-engine/internal/llm"
)

// Response is the cached generation result for a query.
type Response struct {
	Text      string
	ToolCalls []llm.ToolCall
	TierUsed  string
}

type entry struct {
	ownerID   string
	queryHash string
	embedding []float32
	response  Response
	createdAt time.Time
	expiresAt time.Time
	sizeBytes int64
	element   *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is an in-memory semantic response cache. Entries are bucketed per
// owner and are never served across owners. A lookup succeeds when the best
// cosine similarity within the owner's bucket meets the threshold; ties go
// to the most recently created entry. Entries expire by TTL and the cache
// evicts least-recently-used entries once the byte ceiling is reached.
type Cache struct {
	mu        sync.Mutex
	byOwner   map[string]map[string]*entry // owner -> queryHash -> entry
	lruList   *list.List                   // of *entry, front = most recent
	curBytes  int64
	maxBytes  int64
	threshold float64
	now       func() time.Time
}

// New creates a semantic cache with the given similarity threshold and
// approximate memory ceiling in bytes.
func New(threshold float64, maxBytes int64) *Cache {
	return &Cache{
		byOwner:   make(map[string]map[string]*entry),
		lruList:   list.New(),
		maxBytes:  maxBytes,
		threshold: threshold,
		now:       time.Now,
	}
}

// Lookup returns the cached response best matching the query embedding for
// this owner, using the cache's configured threshold.
func (c *Cache) Lookup(ownerID string, queryEmbedding []float32) (Response, bool) {
	return c.LookupWithThreshold(ownerID, queryEmbedding, c.threshold)
}

// LookupWithThreshold is Lookup with an explicit similarity threshold. The
// degraded-mode path uses this with a relaxed threshold during provider
// outages.
func (c *Cache) LookupWithThreshold(ownerID string, queryEmbedding []float32, threshold float64) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := c.byOwner[ownerID]
	if len(bucket) == 0 {
		return Response{}, false
	}

	now := c.now()
	var best *entry
	var bestScore float64

	for _, e := range bucket {
		if e.expired(now) {
			c.removeLocked(e)
			continue
		}
		score := Cosine(queryEmbedding, e.embedding)
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && e.createdAt.After(best.createdAt)) {
			best = e
			bestScore = score
		}
	}

	if best == nil {
		return Response{}, false
	}
	c.lruList.MoveToFront(best.element)
	return best.response, true
}

// Store caches a response for the owner's query. Callers must not store
// responses for write-intent queries; that classification happens upstream.
func (c *Cache) Store(ownerID, queryText string, queryEmbedding []float32, resp Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	hash := queryHash(queryText)

	if bucket := c.byOwner[ownerID]; bucket != nil {
		if old, ok := bucket[hash]; ok {
			c.removeLocked(old)
		}
	}

	e := &entry{
		ownerID:   ownerID,
		queryHash: hash,
		embedding: queryEmbedding,
		response:  resp,
		createdAt: now,
		expiresAt: now.Add(ttl),
		sizeBytes: entrySize(queryEmbedding, resp),
	}

	// An entry that cannot fit even in an empty cache is not worth
	// flushing everything else for.
	if e.sizeBytes > c.maxBytes {
		return
	}

	// Evict oldest entries until the new one fits.
	for c.curBytes+e.sizeBytes > c.maxBytes {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}

	e.element = c.lruList.PushFront(e)
	bucket := c.byOwner[ownerID]
	if bucket == nil {
		bucket = make(map[string]*entry)
		c.byOwner[ownerID] = bucket
	}
	bucket[hash] = e
	c.curBytes += e.sizeBytes
}

// InvalidateOwner drops all cached responses for an owner.
func (c *Cache) InvalidateOwner(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.byOwner[ownerID] {
		c.removeLocked(e)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

func (c *Cache) removeLocked(e *entry) {
	if e.element != nil {
		c.lruList.Remove(e.element)
		e.element = nil
	}
	if bucket := c.byOwner[e.ownerID]; bucket != nil {
		delete(bucket, e.queryHash)
		if len(bucket) == 0 {
			delete(c.byOwner, e.ownerID)
		}
	}
	c.curBytes -= e.sizeBytes
}

func queryHash(queryText string) string {
	sum := sha256.Sum256([]byte(queryText))
	return hex.EncodeToString(sum[:])
}

// entrySize approximates an entry's memory footprint for the eviction
// ceiling. Exactness is not required, only monotonicity.
func entrySize(embedding []float32, resp Response) int64 {
	size := int64(4*len(embedding) + len(resp.Text) + 128)
	for _, tc := range resp.ToolCalls {
		size += int64(len(tc.Name) + len(tc.Arguments) + len(tc.ID))
	}
	return size
}
