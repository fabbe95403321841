package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the engine.
type Config struct {
	Environment string
	LogLevel    slog.Level
	LogFormat   string

	APIPort        string
	InternalAPIKey string

	// LLM provider tiers. All tiers speak the OpenAI-compatible
	// chat-completions protocol; they differ by base URL and model.
	LLMBaseURL      string
	LLMAPIKey       string
	CheapModel      string
	MediumModel     string
	PremiumModel    string
	ProviderTimeout time.Duration

	// Router tuning.
	CheapMaxScore     int
	PremiumMinScore   int
	MaxRetriesPerTier int
	BudgetCeilingUSD  float64
	BudgetWindow      time.Duration
	BreakerWindowSize int
	BreakerCooldown   time.Duration
	BreakerTrialCalls int

	// Embeddings.
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingModel     string
	EmbeddingSize      int
	EmbeddingBatchSize int
	EmbeddingCacheTTL  time.Duration
	EmbeddingRate      float64 // provider requests per second

	// Vector index (Qdrant).
	QdrantURL        string
	QdrantCollection string
	HNSWM            int
	HNSWEfConstruct  int

	// Embedding cache backend.
	RedisURL string

	// Authoritative document store.
	DBPath string

	// Semantic response cache.
	SemCacheThreshold        float64
	SemCacheRelaxedThreshold float64
	SemCacheTTL              time.Duration
	SemCacheShortTTL         time.Duration
	SemCacheMaxBytes         int64

	// Query pipeline.
	SearchTopK         int
	ContextTokenBudget int
	ContextMaxItems    int
	QueryDeadline      time.Duration

	// Reconciliation.
	ReconcileInterval time.Duration
}

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it is
// loaded automatically; variables already set take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// Walk up to find a project-root .env (where go.mod lives).
	if wd, err := os.Getwd(); err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		APIPort:        getEnv("API_PORT", "8000"),
		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),

		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		CheapModel:   getEnv("LLM_CHEAP_MODEL", "gpt-4o-mini"),
		MediumModel:  getEnv("LLM_MEDIUM_MODEL", "gpt-4o"),
		PremiumModel: getEnv("LLM_PREMIUM_MODEL", "gpt-4.1"),

		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "https://api.openai.com"),
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "documents"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		DBPath: getEnv("DB_PATH", "./data/pixie.db"),
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	var errs []error
	cfg.ProviderTimeout = getEnvDuration("LLM_PROVIDER_TIMEOUT", 30*time.Second, &errs)
	cfg.CheapMaxScore = getEnvInt("ROUTER_CHEAP_MAX_SCORE", 3, &errs)
	cfg.PremiumMinScore = getEnvInt("ROUTER_PREMIUM_MIN_SCORE", 8, &errs)
	cfg.MaxRetriesPerTier = getEnvInt("ROUTER_MAX_RETRIES", 2, &errs)
	cfg.BudgetCeilingUSD = getEnvFloat("ROUTER_BUDGET_CEILING_USD", 10.0, &errs)
	cfg.BudgetWindow = getEnvDuration("ROUTER_BUDGET_WINDOW", time.Hour, &errs)
	cfg.BreakerWindowSize = getEnvInt("ROUTER_BREAKER_WINDOW", 20, &errs)
	cfg.BreakerCooldown = getEnvDuration("ROUTER_BREAKER_COOLDOWN", 30*time.Second, &errs)
	cfg.BreakerTrialCalls = getEnvInt("ROUTER_BREAKER_TRIALS", 3, &errs)

	cfg.EmbeddingSize = getEnvInt("EMBEDDING_VECTOR_SIZE", 0, &errs)
	cfg.EmbeddingBatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", 100, &errs)
	cfg.EmbeddingCacheTTL = getEnvDuration("EMBEDDING_CACHE_TTL", 30*24*time.Hour, &errs)
	cfg.EmbeddingRate = getEnvFloat("EMBEDDING_RATE_LIMIT", 10.0, &errs)

	cfg.HNSWM = getEnvInt("QDRANT_HNSW_M", 16, &errs)
	cfg.HNSWEfConstruct = getEnvInt("QDRANT_HNSW_EF_CONSTRUCT", 100, &errs)

	cfg.SemCacheThreshold = getEnvFloat("SEMCACHE_THRESHOLD", 0.95, &errs)
	cfg.SemCacheRelaxedThreshold = getEnvFloat("SEMCACHE_RELAXED_THRESHOLD", 0.80, &errs)
	cfg.SemCacheTTL = getEnvDuration("SEMCACHE_TTL", time.Hour, &errs)
	cfg.SemCacheShortTTL = getEnvDuration("SEMCACHE_SHORT_TTL", 5*time.Minute, &errs)
	cfg.SemCacheMaxBytes = int64(getEnvInt("SEMCACHE_MAX_BYTES", 64<<20, &errs))

	cfg.SearchTopK = getEnvInt("SEARCH_TOP_K", 5, &errs)
	cfg.ContextTokenBudget = getEnvInt("CONTEXT_TOKEN_BUDGET", 2000, &errs)
	cfg.ContextMaxItems = getEnvInt("CONTEXT_MAX_ITEMS", 10, &errs)
	cfg.QueryDeadline = getEnvDuration("QUERY_DEADLINE", 10*time.Second, &errs)

	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 24*time.Hour, &errs)

	if len(errs) > 0 {
		return nil, errs[0]
	}

	// EMBEDDING_VECTOR_SIZE must match the output dimension of the embedding
	// model; the Qdrant collection is created with this size and has to be
	// recreated if it changes.
	if cfg.EmbeddingSize <= 0 {
		return nil, fmt.Errorf("EMBEDDING_VECTOR_SIZE is required and must be greater than 0")
	}
	if cfg.SemCacheThreshold <= 0 || cfg.SemCacheThreshold > 1 {
		return nil, fmt.Errorf("SEMCACHE_THRESHOLD must be in (0, 1]")
	}
	if cfg.SemCacheRelaxedThreshold > cfg.SemCacheThreshold {
		return nil, fmt.Errorf("SEMCACHE_RELAXED_THRESHOLD must not exceed SEMCACHE_THRESHOLD")
	}

	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the engine runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid integer: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid number: %w", key, err))
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid duration: %w", key, err))
		return defaultValue
	}
	return d
}
