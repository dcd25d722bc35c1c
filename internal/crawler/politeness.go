package crawler

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultForbiddenLimit = 3

// forbiddenHosts counts 401/403 responses per host within one run. A host whose count
// reaches the limit has its remaining URLs skipped.
type forbiddenHosts struct {
	mu    sync.Mutex
	limit int
	hits  map[string]int
}

func newForbiddenHosts(limit int) *forbiddenHosts {
	if limit <= 0 {
		limit = defaultForbiddenLimit
	}
	return &forbiddenHosts{limit: limit, hits: make(map[string]int)}
}

func (f *forbiddenHosts) blocked(host string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[strings.ToLower(host)] >= f.limit
}

// record counts one forbidden response and reports whether it was the one that reached
// the limit.
func (f *forbiddenHosts) record(host string) bool {
	key := strings.ToLower(host)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[key]++
	return f.hits[key] == f.limit
}

// Pauser waits out retry backoff and the politeness delay after each URL. Implementations
// must return early when ctx is done.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}

type sleepPauser struct{}

func (sleepPauser) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
