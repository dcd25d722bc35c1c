package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
)

// ExponentialRetryPolicy implements RetryPolicy with a doubling, capped backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy allowing maxAttempts fetches in total.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry decides whether the error is retryable. Robots denials, unusable URLs and
// cancellation are terminal; per-fetch timeouts are not.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	switch {
	case errors.Is(err, fetcher.ErrBlocked),
		errors.Is(err, fetcher.ErrInvalidURL),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Backoff returns the wait before attempt+1: base, 2*base, 4*base ... capped at the max.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	return delay
}
