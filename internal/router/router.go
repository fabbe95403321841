package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/llm"
)

// Tier identifies a model tier.
type Tier string

const (
	TierCheap   Tier = "cheap"
	TierMedium  Tier = "medium"
	TierPremium Tier = "premium"
)

// ErrAllTiersFailed is returned when every tier in the fallback chain was
// exhausted without a successful generation.
var ErrAllTiersFailed = errors.New("all model tiers failed")

// fallbackChains maps a chosen tier to the full ordered chain attempted for
// it, starting with the tier itself.
var fallbackChains = map[Tier][]Tier{
	TierCheap:   {TierCheap, TierMedium, TierPremium},
	TierMedium:  {TierMedium, TierPremium, TierCheap},
	TierPremium: {TierPremium, TierMedium, TierCheap},
}

// tierPricing holds per-1K-token prices in USD used for budget accounting.
// These are estimates for spend tracking, not billing.
type tierPricing struct {
	inputPer1K  float64
	outputPer1K float64
}

var pricing = map[Tier]tierPricing{
	TierCheap:   {inputPer1K: 0.00015, outputPer1K: 0.0006},
	TierMedium:  {inputPer1K: 0.002, outputPer1K: 0.008},
	TierPremium: {inputPer1K: 0.0025, outputPer1K: 0.01},
}

// Decision is the routing choice made before any provider call.
type Decision struct {
	ComplexityScore int
	ChosenTier      Tier
	BudgetState     string // "normal" or "constrained"
}

// Result describes how a generation was actually served.
type Result struct {
	TierUsed     Tier
	RetryCount   int
	FallbackUsed bool
	LatencyMS    int64
}

// Metrics receives routing telemetry. Implementations must be cheap and
// non-blocking.
type Metrics interface {
	RecordRouting(ctx context.Context, dec Decision, res Result, err error)
}

// Config carries router tunables.
type Config struct {
	CheapMaxScore     int
	PremiumMinScore   int
	MaxRetriesPerTier int
	BreakerWindowSize int
	BreakerCooldown   time.Duration
	BreakerTrialCalls int
}

// Router selects a model tier per request, enforces the budget ceiling and
// walks the fallback chain on transient failures. One circuit breaker per
// tier gates calls to unhealthy providers.
type Router struct {
	providers map[Tier]llm.Provider
	breakers  map[Tier]*CircuitBreaker
	cost      *CostTracker
	cfg       Config
	metrics   Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds a Router over one provider per tier. All three tiers must be
// present.
func New(providers map[Tier]llm.Provider, cost *CostTracker, cfg Config, metrics Metrics) (*Router, error) {
	for _, tier := range []Tier{TierCheap, TierMedium, TierPremium} {
		if providers[tier] == nil {
			return nil, fmt.Errorf("router: missing provider for tier %q", tier)
		}
	}
	breakers := make(map[Tier]*CircuitBreaker, len(providers))
	for tier := range providers {
		breakers[tier] = NewCircuitBreaker(cfg.BreakerWindowSize, cfg.BreakerCooldown, cfg.BreakerTrialCalls)
	}
	return &Router{
		providers: providers,
		breakers:  breakers,
		cost:      cost,
		cfg:       cfg,
		metrics:   metrics,
		sleep:     sleepCtx,
	}, nil
}

// Decide scores the query and picks a tier. When the budget window is
// constrained the cheap tier is forced regardless of score.
func (r *Router) Decide(query string, historyLen int) Decision {
	score := ScoreComplexity(query, historyLen)
	tier := TierMedium
	switch {
	case score <= r.cfg.CheapMaxScore:
		tier = TierCheap
	case score >= r.cfg.PremiumMinScore:
		tier = TierPremium
	}
	state := "normal"
	if r.cost.Constrained() {
		tier = TierCheap
		state = "constrained"
	}
	return Decision{ComplexityScore: score, ChosenTier: tier, BudgetState: state}
}

// Generate runs the request against the decided tier, retrying transient
// failures per tier and falling through the chain when a tier is exhausted
// or its breaker is open. Non-retryable errors propagate immediately.
func (r *Router) Generate(ctx context.Context, dec Decision, req llm.GenerateRequest) (llm.GenerateResponse, Result, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()
	res := Result{}
	var lastErr error

	for _, tier := range fallbackChains[dec.ChosenTier] {
		breaker := r.breakers[tier]
		provider := r.providers[tier]

		for attempt := 0; attempt <= r.cfg.MaxRetriesPerTier; attempt++ {
			if !breaker.Allow() {
				logger.Debug("tier breaker open, skipping", "tier", tier)
				break
			}
			if attempt > 0 {
				res.RetryCount++
			}

			resp, err := provider.Generate(ctx, req)
			if err == nil {
				breaker.Record(true)
				res.TierUsed = tier
				res.FallbackUsed = tier != dec.ChosenTier
				res.LatencyMS = time.Since(start).Milliseconds()
				r.cost.Add(estimateCost(tier, resp))
				r.record(ctx, dec, res, nil)
				return resp, res, nil
			}

			if !llm.Retryable(err) {
				res.LatencyMS = time.Since(start).Milliseconds()
				r.record(ctx, dec, res, err)
				return llm.GenerateResponse{}, res, err
			}
			breaker.Record(false)
			lastErr = err
			logger.Warn("tier generation failed",
				"tier", tier, "attempt", attempt, "error", err)

			if attempt == r.cfg.MaxRetriesPerTier {
				break
			}
			if err := r.sleep(ctx, retryDelay(err, attempt)); err != nil {
				res.LatencyMS = time.Since(start).Milliseconds()
				r.record(ctx, dec, res, err)
				return llm.GenerateResponse{}, res, err
			}
		}
	}

	res.LatencyMS = time.Since(start).Milliseconds()
	err := fmt.Errorf("%w: %w", ErrAllTiersFailed, lastErr)
	if lastErr == nil {
		err = fmt.Errorf("%w: all breakers open", ErrAllTiersFailed)
	}
	r.record(ctx, dec, res, err)
	return llm.GenerateResponse{}, res, err
}

// Stream behaves like Generate but streams chunks through the callback.
// Fallback applies only while nothing has been delivered yet; once a chunk
// reached the caller a failure terminates the stream.
func (r *Router) Stream(ctx context.Context, dec Decision, req llm.GenerateRequest, callback func(chunk string) error) (Result, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()
	res := Result{}
	var lastErr error

	for _, tier := range fallbackChains[dec.ChosenTier] {
		breaker := r.breakers[tier]
		if !breaker.Allow() {
			logger.Debug("tier breaker open, skipping", "tier", tier)
			continue
		}

		delivered := false
		wrapped := func(chunk string) error {
			delivered = true
			return callback(chunk)
		}

		err := r.providers[tier].StreamGenerate(ctx, req, wrapped)
		if err == nil {
			breaker.Record(true)
			res.TierUsed = tier
			res.FallbackUsed = tier != dec.ChosenTier
			res.LatencyMS = time.Since(start).Milliseconds()
			r.record(ctx, dec, res, nil)
			return res, nil
		}

		if delivered || !llm.Retryable(err) {
			if llm.Retryable(err) {
				breaker.Record(false)
			}
			res.LatencyMS = time.Since(start).Milliseconds()
			r.record(ctx, dec, res, err)
			return res, err
		}
		breaker.Record(false)
		lastErr = err
		logger.Warn("tier stream failed", "tier", tier, "error", err)
	}

	res.LatencyMS = time.Since(start).Milliseconds()
	err := fmt.Errorf("%w: %w", ErrAllTiersFailed, lastErr)
	if lastErr == nil {
		err = fmt.Errorf("%w: all breakers open", ErrAllTiersFailed)
	}
	r.record(ctx, dec, res, err)
	return res, err
}

func (r *Router) record(ctx context.Context, dec Decision, res Result, err error) {
	if r.metrics != nil {
		r.metrics.RecordRouting(ctx, dec, res, err)
	}
}

// retryDelay prefers the provider's retry-after hint, falling back to
// jittered exponential backoff derived from the attempt number.
func retryDelay(err error, attempt int) time.Duration {
	if hint, ok := llm.RetryAfterHint(err); ok && hint > 0 {
		return hint
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	d := bo.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}

func estimateCost(tier Tier, resp llm.GenerateResponse) float64 {
	p := pricing[tier]
	return float64(resp.PromptTokens)/1000*p.inputPer1K +
		float64(resp.CompletionTokens)/1000*p.outputPer1K
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
