package router

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker tracks call outcomes over a rolling window and opens when
// at least half of a full window failed. An open breaker rejects calls until
// the cool-down elapses, then allows a limited number of trial calls. Any
// trial failure reopens it; enough trial successes close it and reset the
// window.
type CircuitBreaker struct {
	mu           sync.Mutex
	window       []bool
	idx          int
	filled       int
	state        breakerState
	openedAt     time.Time
	cooldown     time.Duration
	trials       int
	trialStarted int
	trialOK      int
	now          func() time.Time
}

func NewCircuitBreaker(windowSize int, cooldown time.Duration, trials int) *CircuitBreaker {
	if windowSize < 1 {
		windowSize = 1
	}
	if trials < 1 {
		trials = 1
	}
	return &CircuitBreaker{
		window:   make([]bool, windowSize),
		cooldown: cooldown,
		trials:   trials,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed, transitioning open breakers to
// half-open once the cool-down has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.trialStarted = 0
		b.trialOK = 0
		fallthrough
	case breakerHalfOpen:
		if b.trialStarted >= b.trials {
			return false
		}
		b.trialStarted++
		return true
	}
	return false
}

// Record reports the outcome of a call previously admitted by Allow.
func (b *CircuitBreaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.window[b.idx] = success
		b.idx = (b.idx + 1) % len(b.window)
		if b.filled < len(b.window) {
			b.filled++
		}
		if b.filled == len(b.window) && b.failureCount()*2 >= len(b.window) {
			b.trip()
		}
	case breakerHalfOpen:
		if !success {
			b.trip()
			return
		}
		b.trialOK++
		if b.trialOK >= b.trials {
			b.reset()
		}
	case breakerOpen:
		// Outcome of a call admitted before the trip; the window was
		// already discarded.
	}
}

func (b *CircuitBreaker) failureCount() int {
	n := 0
	for i := 0; i < b.filled; i++ {
		if !b.window[i] {
			n++
		}
	}
	return n
}

func (b *CircuitBreaker) trip() {
	b.state = breakerOpen
	b.openedAt = b.now()
	for i := range b.window {
		b.window[i] = true
	}
	b.idx = 0
	b.filled = 0
}

func (b *CircuitBreaker) reset() {
	b.state = breakerClosed
	for i := range b.window {
		b.window[i] = true
	}
	b.idx = 0
	b.filled = 0
}
