package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure for retry and routing decisions.
type ErrorKind string

const (
	// KindRateLimited means the provider rejected the call with a rate limit.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnavailable means the provider is temporarily unavailable (5xx).
	KindUnavailable ErrorKind = "unavailable"
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindBadRequest means the request was malformed. Never retried.
	KindBadRequest ErrorKind = "bad_request"
	// KindUnauthorized means authentication or authorization failed. Never retried.
	KindUnauthorized ErrorKind = "unauthorized"
)

// ProviderError is a classified failure from an LLM or embedding provider.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
	// RetryAfter is the provider-supplied wait duration, if any.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Retryable reports whether the error is transient and may be retried.
// Malformed requests and auth failures are terminal and must propagate.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindRateLimited, KindUnavailable, KindTimeout:
			return true
		}
		return false
	}
	// A deadline on the call itself counts as a provider timeout; a canceled
	// parent context does not.
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryAfterHint returns the provider-supplied retry-after duration, if the
// error carries one. Backoff policies must honor this before falling back to
// their own schedule.
func RetryAfterHint(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}
