package router

import (
	"sync"
	"time"
)

// CostTracker accumulates estimated spend over a rolling window and reports
// whether the ceiling has been reached. It is safe for concurrent use.
type CostTracker struct {
	mu          sync.Mutex
	ceilingUSD  float64
	window      time.Duration
	windowStart time.Time
	spentUSD    float64
	now         func() time.Time
}

func NewCostTracker(ceilingUSD float64, window time.Duration) *CostTracker {
	return &CostTracker{
		ceilingUSD:  ceilingUSD,
		window:      window,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

func (t *CostTracker) roll() {
	if t.now().Sub(t.windowStart) >= t.window {
		t.windowStart = t.now()
		t.spentUSD = 0
	}
}

// Add records estimated spend in USD.
func (t *CostTracker) Add(usd float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll()
	t.spentUSD += usd
}

// Constrained reports whether the current window has reached the ceiling.
func (t *CostTracker) Constrained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll()
	return t.spentUSD >= t.ceilingUSD
}

// Spent returns the estimated spend in the current window.
func (t *CostTracker) Spent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll()
	return t.spentUSD
}
