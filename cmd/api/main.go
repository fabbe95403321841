package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixie-engine/internal/assembler"
	"pixie-engine/internal/config"
	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/docstore"
	"pixie-engine/internal/embedding"
	"pixie-engine/internal/engine"
	"pixie-engine/internal/handlers"
	"pixie-engine/internal/http"
	"pixie-engine/internal/ingest"
	"pixie-engine/internal/llm"
	"pixie-engine/internal/router"
	"pixie-engine/internal/semcache"
	"pixie-engine/internal/telemetry"
	"pixie-engine/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = contextutil.WithLogger(ctx, logger)

	// Document store (system of record).
	db, err := docstore.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := docstore.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	docs := docstore.NewDocumentRepo(db)
	slog.Info("Document store initialized", "path", cfg.DBPath)

	// Vector index.
	vectorStore, err := vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		log.Fatalf("Failed to create Qdrant client: %v", err)
	}
	if err := vectorStore.EnsureCollection(ctx, cfg.EmbeddingSize, cfg.HNSWM, cfg.HNSWEfConstruct); err != nil {
		log.Fatalf("Failed to ensure Qdrant collection: %v", err)
	}
	slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.EmbeddingSize)

	// Embedding client with content-addressed cache. Redis when configured,
	// in-process otherwise.
	var vectorCache embedding.VectorCache
	if cfg.RedisURL != "" {
		redisCache, err := embedding.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		vectorCache = redisCache
		slog.Info("Embedding cache backed by Redis")
	} else {
		vectorCache = embedding.NewMemoryCache()
		slog.Info("Embedding cache is in-process")
	}
	embedProvider := embedding.NewHTTPClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.ProviderTimeout)
	embedder := embedding.NewClient(embedProvider, vectorCache, cfg.EmbeddingSize, cfg.EmbeddingBatchSize, cfg.EmbeddingCacheTTL, cfg.EmbeddingRate)

	// Model router over the three tiers.
	sink := telemetry.NewLogSink(logger)
	cost := router.NewCostTracker(cfg.BudgetCeilingUSD, cfg.BudgetWindow)
	modelRouter, err := router.New(map[router.Tier]llm.Provider{
		router.TierCheap:   llm.NewHTTPProvider("openai-cheap", cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.CheapModel, cfg.ProviderTimeout),
		router.TierMedium:  llm.NewHTTPProvider("openai-medium", cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.MediumModel, cfg.ProviderTimeout),
		router.TierPremium: llm.NewHTTPProvider("openai-premium", cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.PremiumModel, cfg.ProviderTimeout),
	}, cost, router.Config{
		CheapMaxScore:     cfg.CheapMaxScore,
		PremiumMinScore:   cfg.PremiumMinScore,
		MaxRetriesPerTier: cfg.MaxRetriesPerTier,
		BreakerWindowSize: cfg.BreakerWindowSize,
		BreakerCooldown:   cfg.BreakerCooldown,
		BreakerTrialCalls: cfg.BreakerTrialCalls,
	}, sink)
	if err != nil {
		log.Fatalf("Failed to create model router: %v", err)
	}

	// Ingestion, reconciliation and the retrieval engine.
	pipeline := ingest.NewPipeline(docs, embedder, vectorStore)
	reconciler := ingest.NewReconciler(docs, vectorStore, pipeline, sink, 4)
	scheduler := ingest.NewScheduler(reconciler, cfg.ReconcileInterval)

	responseCache := semcache.New(cfg.SemCacheThreshold, cfg.SemCacheMaxBytes)
	eng := engine.New(embedder, vectorStore, docs, responseCache, assembler.New(cfg.ContextMaxItems), modelRouter, engine.Options{
		TopK:             cfg.SearchTopK,
		TokenBudget:      cfg.ContextTokenBudget,
		QueryDeadline:    cfg.QueryDeadline,
		CacheTTL:         cfg.SemCacheTTL,
		CacheShortTTL:    cfg.SemCacheShortTTL,
		RelaxedThreshold: cfg.SemCacheRelaxedThreshold,
	})
	slog.Info("Retrieval engine initialized")

	go eng.Start(ctx)
	go scheduler.Start(ctx)

	deps := &http.Deps{
		Query:          handlers.NewQueryHandler(eng),
		Ingest:         handlers.NewIngestHandler(pipeline),
		Reconcile:      handlers.NewReconcileHandler(reconciler),
		Health:         handlers.NewHealthHandler(db, vectorStore),
		InternalAPIKey: cfg.InternalAPIKey,
	}

	server := &nethttp.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: http.NewRouter(deps),
	}

	go func() {
		slog.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown incomplete", "error", err)
	}
}
