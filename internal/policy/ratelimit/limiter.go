// Package ratelimit enforces randomized per-domain politeness delays.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
)

// Config holds the politeness interval. Each access draws a delay uniformly from [MinDelay, MaxDelay].
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Option customizes a Throttle.
type Option func(*Throttle)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithSleeper overrides how the throttle waits.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Throttle) { t.sleep = sleep }
}

// WithRand overrides the uniform [0,1) source used to draw delays.
func WithRand(next func() float64) Option {
	return func(t *Throttle) { t.rand = next }
}

// Throttle spaces accesses to the same domain. The read, wait and write of a domain's
// last-access time happen under that domain's lock, so concurrent callers queue up.
type Throttle struct {
	mu      sync.Mutex
	domains map[string]*domainState
	min     time.Duration
	max     time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	rand    func() float64
}

type domainState struct {
	lock chan struct{}
	last time.Time
	seen bool
}

// New creates a Throttle.
func New(cfg Config, opts ...Option) *Throttle {
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.MinDelay {
		maxDelay = cfg.MinDelay
	}
	t := &Throttle{
		domains: make(map[string]*domainState),
		min:     cfg.MinDelay,
		max:     maxDelay,
		now:     time.Now,
		sleep:   sleepContext,
		rand:    rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Wait blocks until the politeness delay since the previous access to domain has elapsed,
// records the access and returns its timestamp.
func (t *Throttle) Wait(ctx context.Context, domain string) (time.Time, error) {
	st := t.state(domain)
	select {
	case st.lock <- struct{}{}:
	case <-ctx.Done():
		return time.Time{}, fmt.Errorf("politeness lock for %s: %w", domain, ctx.Err())
	}
	defer func() { <-st.lock }()

	if st.seen {
		wait := st.last.Add(t.Delay()).Sub(t.now())
		if wait > 0 {
			metrics.ObservePolitenessWait(wait)
			if err := t.sleep(ctx, wait); err != nil {
				return time.Time{}, fmt.Errorf("politeness wait for %s: %w", domain, err)
			}
		}
	}
	at := t.now()
	st.last = at
	st.seen = true
	return at, nil
}

// Delay draws one politeness delay from the configured interval.
func (t *Throttle) Delay() time.Duration {
	span := t.max - t.min
	if span <= 0 {
		return t.min
	}
	return t.min + time.Duration(t.rand()*float64(span))
}

func (t *Throttle) state(domain string) *domainState {
	key := strings.ToLower(strings.TrimSpace(domain))
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.domains[key]
	if !ok {
		st = &domainState{lock: make(chan struct{}, 1)}
		t.domains[key] = st
	}
	return st
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
