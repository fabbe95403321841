package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"pixie-engine/internal/llm"
)

type fakeProvider struct {
	name     string
	calls    int
	errs     []error // consumed per call; nil entry means success
	response llm.GenerateResponse
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		if err := f.errs[f.calls-1]; err != nil {
			return llm.GenerateResponse{}, err
		}
	}
	return f.response, nil
}

func (f *fakeProvider) StreamGenerate(ctx context.Context, req llm.GenerateRequest, callback func(chunk string) error) error {
	f.calls++
	if f.calls <= len(f.errs) {
		if err := f.errs[f.calls-1]; err != nil {
			return err
		}
	}
	return callback(f.response.Text)
}

func rateLimited() error {
	return &llm.ProviderError{Provider: "fake", Kind: llm.KindRateLimited, Status: 429, Message: "slow down"}
}

func unavailable() error {
	return &llm.ProviderError{Provider: "fake", Kind: llm.KindUnavailable, Status: 503, Message: "down"}
}

func badRequest() error {
	return &llm.ProviderError{Provider: "fake", Kind: llm.KindBadRequest, Status: 400, Message: "bad prompt"}
}

func testConfig() Config {
	return Config{
		CheapMaxScore:     3,
		PremiumMinScore:   8,
		MaxRetriesPerTier: 2,
		BreakerWindowSize: 4,
		BreakerCooldown:   30 * time.Second,
		BreakerTrialCalls: 2,
	}
}

func newTestRouter(t *testing.T, cheap, medium, premium *fakeProvider, cost *CostTracker) *Router {
	t.Helper()
	if cost == nil {
		cost = NewCostTracker(100, time.Hour)
	}
	r, err := New(map[Tier]llm.Provider{
		TierCheap:   cheap,
		TierMedium:  medium,
		TierPremium: premium,
	}, cost, testConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestScoreComplexity(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		historyLen int
		want       int
	}{
		{
			name:  "short lookup scores zero",
			query: "list my tasks",
			want:  0,
		},
		{
			name:  "heavy intent scores high",
			query: "analyze my week and recommend what to prioritize?",
			want:  4,
		},
		{
			name:       "long history adds weight",
			query:      "summarize everything we discussed",
			historyLen: 12,
			want:       5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreComplexity(tt.query, tt.historyLen); got != tt.want {
				t.Errorf("ScoreComplexity() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecide_TierThresholds(t *testing.T) {
	r := newTestRouter(t, &fakeProvider{name: "cheap"}, &fakeProvider{name: "medium"}, &fakeProvider{name: "premium"}, nil)

	tests := []struct {
		name       string
		query      string
		historyLen int
		wantTier   Tier
	}{
		{"simple query routes cheap", "show status", 0, TierCheap},
		{"heavy query routes medium", "analyze this long request about my schedule and what changed since last week please", 0, TierMedium},
		{"complex query routes premium", "analyze and compare my commitments, then draft a plan? why did it slip? what should change?", 12, TierPremium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := r.Decide(tt.query, tt.historyLen)
			if dec.ChosenTier != tt.wantTier {
				t.Errorf("Decide() tier = %q (score %d), want %q", dec.ChosenTier, dec.ComplexityScore, tt.wantTier)
			}
			if dec.BudgetState != "normal" {
				t.Errorf("Decide() budget state = %q, want normal", dec.BudgetState)
			}
		})
	}
}

func TestDecide_BudgetConstrainedForcesCheap(t *testing.T) {
	cost := NewCostTracker(1, time.Hour)
	cost.Add(2)
	r := newTestRouter(t, &fakeProvider{name: "cheap"}, &fakeProvider{name: "medium"}, &fakeProvider{name: "premium"}, cost)

	dec := r.Decide("analyze and compare everything, draft a full plan? why? how?", 12)
	if dec.ChosenTier != TierCheap {
		t.Errorf("Decide() tier = %q, want cheap under constrained budget", dec.ChosenTier)
	}
	if dec.BudgetState != "constrained" {
		t.Errorf("Decide() budget state = %q, want constrained", dec.BudgetState)
	}
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", errs: []error{rateLimited(), nil}, response: llm.GenerateResponse{Text: "ok"}}
	r := newTestRouter(t, cheap, &fakeProvider{name: "medium"}, &fakeProvider{name: "premium"}, nil)

	resp, res, err := r.Generate(context.Background(), Decision{ChosenTier: TierCheap}, llm.GenerateRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Generate() text = %q, want ok", resp.Text)
	}
	if res.TierUsed != TierCheap || res.FallbackUsed {
		t.Errorf("Generate() result = %+v, want cheap without fallback", res)
	}
	if res.RetryCount != 1 {
		t.Errorf("Generate() retries = %d, want 1", res.RetryCount)
	}
}

func TestGenerate_FallsBackToNextTier(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", errs: []error{unavailable(), unavailable(), unavailable()}}
	medium := &fakeProvider{name: "medium", response: llm.GenerateResponse{Text: "from medium"}}
	r := newTestRouter(t, cheap, medium, &fakeProvider{name: "premium"}, nil)

	resp, res, err := r.Generate(context.Background(), Decision{ChosenTier: TierCheap}, llm.GenerateRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "from medium" {
		t.Errorf("Generate() text = %q, want from medium", resp.Text)
	}
	if res.TierUsed != TierMedium || !res.FallbackUsed {
		t.Errorf("Generate() result = %+v, want medium with fallback", res)
	}
	if cheap.calls != 3 {
		t.Errorf("cheap provider calls = %d, want 3 (one call plus two retries)", cheap.calls)
	}
}

func TestGenerate_NonRetryablePropagatesImmediately(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", errs: []error{badRequest()}}
	medium := &fakeProvider{name: "medium"}
	r := newTestRouter(t, cheap, medium, &fakeProvider{name: "premium"}, nil)

	_, _, err := r.Generate(context.Background(), Decision{ChosenTier: TierCheap}, llm.GenerateRequest{})
	var perr *llm.ProviderError
	if !errors.As(err, &perr) || perr.Kind != llm.KindBadRequest {
		t.Fatalf("Generate() error = %v, want bad_request provider error", err)
	}
	if cheap.calls != 1 {
		t.Errorf("cheap provider calls = %d, want 1", cheap.calls)
	}
	if medium.calls != 0 {
		t.Errorf("medium provider calls = %d, want 0", medium.calls)
	}
}

func TestGenerate_AllTiersExhausted(t *testing.T) {
	fail := func(name string) *fakeProvider {
		return &fakeProvider{name: name, errs: []error{unavailable(), unavailable(), unavailable()}}
	}
	r := newTestRouter(t, fail("cheap"), fail("medium"), fail("premium"), nil)

	_, _, err := r.Generate(context.Background(), Decision{ChosenTier: TierCheap}, llm.GenerateRequest{})
	if !errors.Is(err, ErrAllTiersFailed) {
		t.Fatalf("Generate() error = %v, want ErrAllTiersFailed", err)
	}
}

func TestGenerate_RecordsSpend(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", response: llm.GenerateResponse{
		Text:             "ok",
		PromptTokens:     1000,
		CompletionTokens: 1000,
	}}
	cost := NewCostTracker(100, time.Hour)
	r := newTestRouter(t, cheap, &fakeProvider{name: "medium"}, &fakeProvider{name: "premium"}, cost)

	if _, _, err := r.Generate(context.Background(), Decision{ChosenTier: TierCheap}, llm.GenerateRequest{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := 0.00015 + 0.0006
	if got := cost.Spent(); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("Spent() = %v, want %v", got, want)
	}
}

func TestTierPricing_IncreasesWithTier(t *testing.T) {
	for _, pair := range [][2]Tier{
		{TierCheap, TierMedium},
		{TierMedium, TierPremium},
	} {
		lo, hi := pricing[pair[0]], pricing[pair[1]]
		if lo.inputPer1K >= hi.inputPer1K || lo.outputPer1K >= hi.outputPer1K {
			t.Errorf("pricing for %s (%v) is not below %s (%v)", pair[0], lo, pair[1], hi)
		}
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	b := NewCircuitBreaker(4, time.Minute, 2)
	now := time.Now()
	b.now = func() time.Time { return now }

	// A full window of failures trips the breaker.
	for i := 0; i < 4; i++ {
		if !b.Allow() {
			t.Fatalf("Allow() = false while closed, call %d", i)
		}
		b.Record(false)
	}
	if b.Allow() {
		t.Fatal("Allow() = true, want open after full failing window")
	}

	// Cool-down elapses, the breaker admits trial calls.
	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("Allow() = false, want half-open trial after cool-down")
	}
	b.Record(false)
	if b.Allow() {
		t.Fatal("Allow() = true, want reopened after failed trial")
	}

	// After another cool-down, enough trial successes close it again.
	now = now.Add(2 * time.Minute)
	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("Allow() = false during trial %d", i)
		}
		b.Record(true)
	}
	if !b.Allow() {
		t.Fatal("Allow() = false, want closed after successful trials")
	}
}

func TestGenerate_SkipsTierWithOpenBreaker(t *testing.T) {
	cheap := &fakeProvider{name: "cheap"}
	medium := &fakeProvider{name: "medium", response: llm.GenerateResponse{Text: "from medium"}}
	r := newTestRouter(t, cheap, medium, &fakeProvider{name: "premium"}, nil)

	// Trip the cheap breaker directly.
	for i := 0; i < 4; i++ {
		r.breakers[TierCheap].Allow()
		r.breakers[TierCheap].Record(false)
	}

	resp, res, err := r.Generate(context.Background(), Decision{ChosenTier: TierCheap}, llm.GenerateRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "from medium" || res.TierUsed != TierMedium {
		t.Errorf("Generate() served by %q, want medium", res.TierUsed)
	}
	if cheap.calls != 0 {
		t.Errorf("cheap provider calls = %d, want 0 with open breaker", cheap.calls)
	}
}

func TestStream_FallsBackBeforeFirstChunk(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", errs: []error{unavailable()}}
	medium := &fakeProvider{name: "medium", response: llm.GenerateResponse{Text: "streamed"}}
	r := newTestRouter(t, cheap, medium, &fakeProvider{name: "premium"}, nil)

	var got string
	res, err := r.Stream(context.Background(), Decision{ChosenTier: TierCheap}, llm.GenerateRequest{}, func(chunk string) error {
		got += chunk
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got != "streamed" {
		t.Errorf("Stream() delivered %q, want streamed", got)
	}
	if res.TierUsed != TierMedium || !res.FallbackUsed {
		t.Errorf("Stream() result = %+v, want medium with fallback", res)
	}
}

func TestCostTracker_WindowRolls(t *testing.T) {
	cost := NewCostTracker(1, time.Hour)
	now := time.Now()
	cost.now = func() time.Time { return now }

	cost.Add(2)
	if !cost.Constrained() {
		t.Fatal("Constrained() = false, want true after exceeding ceiling")
	}
	now = now.Add(2 * time.Hour)
	if cost.Constrained() {
		t.Fatal("Constrained() = true, want false after window rolled")
	}
	if got := cost.Spent(); got != 0 {
		t.Errorf("Spent() = %v, want 0 after roll", got)
	}
}
