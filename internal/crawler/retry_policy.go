package crawler

import (
	"context"
	"errors"
	"time"
)

// LinearRetryPolicy waits delay × attempt between tries (5s, 10s, 15s for a
// 5s delay).
type LinearRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewLinearRetryPolicy builds a policy allowing maxAttempts tries in total.
func NewLinearRetryPolicy(maxAttempts int, delay time.Duration) *LinearRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if delay < 0 {
		delay = 0
	}
	return &LinearRetryPolicy{maxAttempts: maxAttempts, delay: delay}
}

// MaxAttempts reports the total number of tries.
func (p *LinearRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt follows the failed attempt
// (1-based). Cancellation is never retried; timeouts are.
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait after the failed attempt (1-based).
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.delay * time.Duration(attempt)
}
