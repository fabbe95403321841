package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pixie-engine/internal/assembler"
	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/docstore"
	"pixie-engine/internal/embedding"
	"pixie-engine/internal/llm"
	"pixie-engine/internal/router"
	"pixie-engine/internal/semcache"
	"pixie-engine/internal/vectorstore"
)

// Response sources.
const (
	SourceCache     = "cache"
	SourceGenerated = "generated"
	SourceFallback  = "fallback"
)

// StaticFallback is the offline answer of last resort, served when every
// model tier and the relaxed cache both come up empty.
const StaticFallback = "I can't reach the language model right now. Please try again in a few minutes."

const systemPrompt = "You are a personal assistant with access to the user's tasks, events and notes. " +
	"Answer using the provided context when it is relevant. If the context does not cover the question, say so."

// QueryRequest is a single retrieval-augmented query.
type QueryRequest struct {
	OwnerID       string
	QueryText     string
	History       []llm.Message
	QueryTypeHint string
}

// QueryResponse is the engine's answer, annotated with how it was produced.
type QueryResponse struct {
	ResponseText string         `json:"response_text"`
	ToolCalls    []llm.ToolCall `json:"tool_calls,omitempty"`
	Source       string         `json:"source"`
	Truncated    bool           `json:"truncated"`
	TierUsed     string         `json:"tier_used,omitempty"`
}

// Options carries the engine tunables.
type Options struct {
	TopK             int
	TokenBudget      int
	QueryDeadline    time.Duration
	CacheTTL         time.Duration
	CacheShortTTL    time.Duration
	RelaxedThreshold float64
}

// Engine orchestrates a query end to end: semantic cache, embedding, vector
// search, hydration, context assembly and routed generation. Queries share
// no per-request state, so the engine is safe for concurrent use.
type Engine struct {
	embedder  embedding.Embedder
	vectors   vectorstore.VectorStore
	docs      docstore.DocumentStore
	cache     *semcache.Cache
	assembler *assembler.Assembler
	router    *router.Router
	opts      Options

	orphanQueue chan orphanReport
}

type orphanReport struct {
	ownerID     string
	documentIDs []string
}

func New(embedder embedding.Embedder, vectors vectorstore.VectorStore, docs docstore.DocumentStore, cache *semcache.Cache, asm *assembler.Assembler, rt *router.Router, opts Options) *Engine {
	if opts.TopK < 1 {
		opts.TopK = 5
	}
	if opts.TokenBudget < 1 {
		opts.TokenBudget = 2000
	}
	return &Engine{
		embedder:    embedder,
		vectors:     vectors,
		docs:        docs,
		cache:       cache,
		assembler:   asm,
		router:      rt,
		opts:        opts,
		orphanQueue: make(chan orphanReport, 64),
	}
}

// Start runs the background anomaly worker until the context is canceled.
// Orphaned vectors found during queries are removed here so repairs never
// sit on the request path.
func (e *Engine) Start(ctx context.Context) {
	logger := contextutil.LoggerFromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case report := <-e.orphanQueue:
			if err := e.vectors.Delete(ctx, report.documentIDs); err != nil {
				logger.Error("failed to remove orphaned vectors",
					"owner_id", report.ownerID, "count", len(report.documentIDs), "error", err)
				continue
			}
			logger.Info("removed orphaned vectors",
				"owner_id", report.ownerID, "count", len(report.documentIDs))
		}
	}
}

// Query answers a single query. A provider outage degrades through the
// relaxed-threshold cache and then a static response; it never surfaces a
// raw provider error to the caller.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	if req.OwnerID == "" {
		return QueryResponse{}, fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(req.QueryText) == "" {
		return QueryResponse{}, fmt.Errorf("query_text is required")
	}

	// A caller that disconnects mid-request does not cancel the work; the
	// answer still lands in the semantic cache. The deadline still bounds it.
	ctx = context.WithoutCancel(ctx)
	if e.opts.QueryDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.QueryDeadline)
		defer cancel()
	}
	logger := contextutil.LoggerFromContext(ctx)

	cacheable := !writeIntent(req.QueryText)
	queryVec, embedErr := e.embedder.Embed(ctx, req.QueryText)

	if embedErr == nil && cacheable {
		if hit, ok := e.cache.Lookup(req.OwnerID, queryVec); ok {
			logger.Debug("semantic cache hit", "owner_id", req.OwnerID)
			return QueryResponse{
				ResponseText: hit.Text,
				ToolCalls:    hit.ToolCalls,
				Source:       SourceCache,
				TierUsed:     hit.TierUsed,
			}, nil
		}
	}

	payload := e.retrieveContext(ctx, req, queryVec, embedErr)

	messages := make([]llm.Message, 0, len(req.History)+3)
	messages = append(messages,
		llm.Message{Role: "system", Content: systemPrompt},
		llm.Message{Role: "system", Content: payload.Text},
	)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.QueryText})

	dec := e.router.Decide(req.QueryText, len(req.History))
	resp, res, err := e.router.Generate(ctx, dec, llm.GenerateRequest{Messages: messages})
	if err != nil {
		return e.degrade(ctx, req, queryVec, embedErr, payload, err)
	}

	out := QueryResponse{
		ResponseText: resp.Text,
		ToolCalls:    resp.ToolCalls,
		Source:       SourceGenerated,
		Truncated:    payload.Truncated,
		TierUsed:     string(res.TierUsed),
	}
	e.storeInCache(req, queryVec, embedErr, cacheable, payload, out)
	return out, nil
}

// StreamQuery is Query with chunked delivery. Cache hits are delivered as a
// single chunk. The complete streamed text is cached on completion.
func (e *Engine) StreamQuery(ctx context.Context, req QueryRequest, callback func(chunk string) error) (QueryResponse, error) {
	if req.OwnerID == "" {
		return QueryResponse{}, fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(req.QueryText) == "" {
		return QueryResponse{}, fmt.Errorf("query_text is required")
	}

	if e.opts.QueryDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.QueryDeadline)
		defer cancel()
	}

	cacheable := !writeIntent(req.QueryText)
	queryVec, embedErr := e.embedder.Embed(ctx, req.QueryText)

	if embedErr == nil && cacheable {
		if hit, ok := e.cache.Lookup(req.OwnerID, queryVec); ok {
			if err := callback(hit.Text); err != nil {
				return QueryResponse{}, err
			}
			return QueryResponse{
				ResponseText: hit.Text,
				ToolCalls:    hit.ToolCalls,
				Source:       SourceCache,
				TierUsed:     hit.TierUsed,
			}, nil
		}
	}

	payload := e.retrieveContext(ctx, req, queryVec, embedErr)

	messages := make([]llm.Message, 0, len(req.History)+3)
	messages = append(messages,
		llm.Message{Role: "system", Content: systemPrompt},
		llm.Message{Role: "system", Content: payload.Text},
	)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.QueryText})

	var full strings.Builder
	dec := e.router.Decide(req.QueryText, len(req.History))
	res, err := e.router.Stream(ctx, dec, llm.GenerateRequest{Messages: messages}, func(chunk string) error {
		full.WriteString(chunk)
		return callback(chunk)
	})
	if err != nil {
		if full.Len() > 0 {
			// The stream broke mid-response. Nothing to fall back to
			// without duplicating delivered text.
			return QueryResponse{}, err
		}
		out, derr := e.degrade(ctx, req, queryVec, embedErr, payload, err)
		if derr != nil {
			return QueryResponse{}, derr
		}
		if err := callback(out.ResponseText); err != nil {
			return QueryResponse{}, err
		}
		return out, nil
	}

	out := QueryResponse{
		ResponseText: full.String(),
		Source:       SourceGenerated,
		Truncated:    payload.Truncated,
		TierUsed:     string(res.TierUsed),
	}
	e.storeInCache(req, queryVec, embedErr, cacheable, payload, out)
	return out, nil
}

// retrieveContext runs vector search and hydration, degrading to the
// no-context payload on any failure. Retrieval problems reduce answer
// quality; they must not fail the query.
func (e *Engine) retrieveContext(ctx context.Context, req QueryRequest, queryVec []float32, embedErr error) assembler.Payload {
	logger := contextutil.LoggerFromContext(ctx)
	queryType := assembler.ClassifyQuery(req.QueryText, req.QueryTypeHint)

	if embedErr != nil {
		logger.Warn("query embedding failed, continuing without context",
			"owner_id", req.OwnerID, "error", embedErr)
		return e.assembler.Assemble(nil, queryType, e.opts.TokenBudget)
	}

	results, err := e.vectors.Search(ctx, vectorstore.SearchParams{
		OwnerID: req.OwnerID,
		Vector:  queryVec,
		K:       e.opts.TopK,
	})
	if err != nil {
		logger.Warn("vector search failed, continuing without context",
			"owner_id", req.OwnerID, "error", err)
		return e.assembler.Assemble(nil, queryType, e.opts.TokenBudget)
	}
	if len(results) == 0 {
		return e.assembler.Assemble(nil, queryType, e.opts.TokenBudget)
	}

	ids := make([]string, len(results))
	scores := make(map[string]float64, len(results))
	for i, r := range results {
		ids[i] = r.DocumentID
		scores[r.DocumentID] = r.Score
	}
	docs, err := e.docs.GetBatch(ctx, ids)
	if err != nil {
		logger.Warn("document hydration failed, continuing without context",
			"owner_id", req.OwnerID, "error", err)
		return e.assembler.Assemble(nil, queryType, e.opts.TokenBudget)
	}

	found := make(map[string]bool, len(docs))
	scored := make([]assembler.ScoredDocument, 0, len(docs))
	for _, doc := range docs {
		found[doc.ID] = true
		scored = append(scored, assembler.ScoredDocument{Doc: *doc, Score: scores[doc.ID]})
	}

	// Index hits with no backing document are orphans. Queue them for
	// asynchronous cleanup and answer from what hydrated.
	var orphans []string
	for _, id := range ids {
		if !found[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		logger.Warn("orphaned vectors detected", "owner_id", req.OwnerID, "count", len(orphans))
		select {
		case e.orphanQueue <- orphanReport{ownerID: req.OwnerID, documentIDs: orphans}:
		default:
			logger.Warn("orphan queue full, dropping report", "owner_id", req.OwnerID)
		}
	}

	return e.assembler.Assemble(scored, queryType, e.opts.TokenBudget)
}

// degrade handles a total generation failure: first the semantic cache with
// the relaxed threshold, then the static response.
func (e *Engine) degrade(ctx context.Context, req QueryRequest, queryVec []float32, embedErr error, payload assembler.Payload, genErr error) (QueryResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)
	logger.Error("generation failed on every tier, degrading",
		"owner_id", req.OwnerID, "error", genErr)

	if embedErr == nil {
		if hit, ok := e.cache.LookupWithThreshold(req.OwnerID, queryVec, e.opts.RelaxedThreshold); ok {
			logger.Info("served relaxed-threshold cache entry during outage", "owner_id", req.OwnerID)
			return QueryResponse{
				ResponseText: hit.Text,
				ToolCalls:    hit.ToolCalls,
				Source:       SourceCache,
				Truncated:    payload.Truncated,
				TierUsed:     hit.TierUsed,
			}, nil
		}
	}
	return QueryResponse{
		ResponseText: StaticFallback,
		Source:       SourceFallback,
		Truncated:    payload.Truncated,
	}, nil
}

// storeInCache writes a generated answer to the semantic cache.
func (e *Engine) storeInCache(req QueryRequest, queryVec []float32, embedErr error, cacheable bool, payload assembler.Payload, out QueryResponse) {
	if !cacheable || embedErr != nil {
		return
	}
	ttl := e.cacheTTL(req.QueryText, payload)
	e.cache.Store(req.OwnerID, req.QueryText, queryVec, semcache.Response{
		Text:      out.ResponseText,
		ToolCalls: out.ToolCalls,
		TierUsed:  out.TierUsed,
	}, ttl)
}

// cacheTTL picks the retention for a cached answer. Truncated payloads
// should regenerate once budget allows, and time-sensitive answers go stale
// quickly; both get the short TTL.
func (e *Engine) cacheTTL(queryText string, payload assembler.Payload) time.Duration {
	if payload.Truncated || timeSensitive(queryText) {
		return e.opts.CacheShortTTL
	}
	return e.opts.CacheTTL
}

// timeSensitive reports whether a query's answer depends on the current
// date or time.
func timeSensitive(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range []string{
		"today", "tonight", "tomorrow", "yesterday", "right now",
		"this morning", "this afternoon", "this evening",
		"this week", "next week", "upcoming",
	} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// writeIntent reports whether the query looks like a mutating command.
// Responses to such queries are confirmations of an action and must not be
// replayed from cache.
func writeIntent(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	for _, prefix := range []string{
		"add ", "create ", "delete ", "remove ", "cancel ", "mark ",
		"update ", "change ", "schedule ", "reschedule ", "remind me",
	} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
