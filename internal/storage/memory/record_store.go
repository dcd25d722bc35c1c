// Package memory provides an in-memory store.RecordStore for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

// RecordStore keeps every table in maps guarded by one lock.
type RecordStore struct {
	mu       sync.RWMutex
	resorts  map[string]model.Resort
	pages    []model.RawPage
	logs     []model.ExtractionLog
	patterns map[patternKey]model.ExtractionPattern
	runs     map[uuid.UUID]store.CrawlRun
	now      func() time.Time
}

type patternKey struct {
	field   model.Field
	pattern string
}

var _ store.RecordStore = (*RecordStore)(nil)

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		resorts:  make(map[string]model.Resort),
		patterns: make(map[patternKey]model.ExtractionPattern),
		runs:     make(map[uuid.UUID]store.CrawlRun),
		now:      time.Now,
	}
}

// Migrate is a no-op.
func (s *RecordStore) Migrate(context.Context) error { return nil }

// Ping is a no-op.
func (s *RecordStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *RecordStore) Close() error { return nil }

// UpsertResort merges resort into the stored row.
func (s *RecordStore) UpsertResort(_ context.Context, resort model.Resort) (model.Resort, error) {
	if resort.URL == "" {
		return model.Resort{}, errors.New("resort url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	existing, ok := s.resorts[resort.URL]
	if !ok {
		existing = model.Resort{URL: resort.URL, CreatedAt: now}
	}
	existing.Merge(resort)
	if existing.UpdatedAt.IsZero() || resort.UpdatedAt.IsZero() {
		existing.UpdatedAt = now
	}
	s.resorts[resort.URL] = existing
	return clone(existing), nil
}

// GetResort loads one resort.
func (s *RecordStore) GetResort(_ context.Context, url string) (model.Resort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resorts[url]
	if !ok {
		return model.Resort{}, store.ErrNotFound
	}
	return clone(r), nil
}

// ListResorts returns resorts ordered by URL.
func (s *RecordStore) ListResorts(_ context.Context, limit, offset int) ([]model.Resort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := make([]string, 0, len(s.resorts))
	for u := range s.resorts {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	urls = page(urls, limit, offset)
	out := make([]model.Resort, 0, len(urls))
	for _, u := range urls {
		out = append(out, clone(s.resorts[u]))
	}
	return out, nil
}

// AppendRawPage appends a fetch audit row.
func (s *RecordStore) AppendRawPage(_ context.Context, p model.RawPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.pages = append(s.pages, p)
	return nil
}

// AppendExtractionLogs appends per-field outcome rows.
func (s *RecordStore) AppendExtractionLogs(_ context.Context, logs []model.ExtractionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range logs {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		s.logs = append(s.logs, l)
	}
	return nil
}

// RawPages returns a snapshot of the stored fetch rows.
func (s *RecordStore) RawPages() []model.RawPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RawPage(nil), s.pages...)
}

// Logs returns a snapshot of the stored extraction logs.
func (s *RecordStore) Logs() []model.ExtractionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ExtractionLog(nil), s.logs...)
}

// ListPatterns returns the stored patterns for field by descending confidence.
func (s *RecordStore) ListPatterns(_ context.Context, field model.Field) ([]model.ExtractionPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ExtractionPattern
	for k, p := range s.patterns {
		if k.field == field {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out, nil
}

// GetOrCreatePattern inserts p unless (field, pattern) is already stored.
func (s *RecordStore) GetOrCreatePattern(_ context.Context, p model.ExtractionPattern) (model.ExtractionPattern, bool, error) {
	if p.Field == "" || p.Pattern == "" {
		return model.ExtractionPattern{}, false, errors.New("pattern field and text are required")
	}
	key := patternKey{field: p.Field, pattern: p.Pattern}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.patterns[key]; ok {
		return existing, false, nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.patterns[key] = p
	return p, true, nil
}

// StartRun records a running crawl.
func (s *RecordStore) StartRun(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[id]; exists {
		return errors.New("run already exists")
	}
	s.runs[id] = store.CrawlRun{ID: id, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteRun marks a crawl finished.
func (s *RecordStore) CompleteRun(_ context.Context, id uuid.UUID, finishedAt time.Time, status store.RunStatus, counts store.RunCounts, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Counts = counts
	run.ErrorMessage = errMsg
	s.runs[id] = run
	return nil
}

// ListRuns returns runs newest first.
func (s *RecordStore) ListRuns(_ context.Context, limit int) ([]store.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.CrawlRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(r model.Resort) model.Resort {
	out := model.Resort{URL: r.URL, CreatedAt: r.CreatedAt}
	out.Merge(r)
	out.UpdatedAt = r.UpdatedAt
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
