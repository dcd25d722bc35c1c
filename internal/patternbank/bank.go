// Package patternbank keeps the confidence-ranked extraction patterns for every field.
// Built-in defaults live in memory; learned and curated patterns come from a Store.
package patternbank

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

// ErrInvalidPattern is returned when a pattern does not compile.
var ErrInvalidPattern = errors.New("patternbank: invalid pattern")

const (
	// LearnedConfidence is the ranking confidence given to heuristically mined patterns.
	LearnedConfidence = 0.5

	defaultTopConfidence = 0.9
	defaultRankStep      = 0.01

	// Patterns match case-insensitively and let . cross newlines.
	compileFlags = "(?is)"
)

// Store persists patterns. GetOrCreatePattern must be atomic on (field, pattern).
// A nil Store keeps learned patterns in memory for the life of the Bank.
type Store interface {
	ListPatterns(ctx context.Context, field model.Field) ([]model.ExtractionPattern, error)
	GetOrCreatePattern(ctx context.Context, p model.ExtractionPattern) (model.ExtractionPattern, bool, error)
}

// Candidate is a pattern ready to run.
type Candidate struct {
	model.ExtractionPattern
	Regexp *regexp.Regexp
}

// Bank serves ranked candidates per field. Each field has its own lock, so traffic on one
// field never waits on another.
type Bank struct {
	store    Store
	defaults map[model.Field][]Candidate
	shards   sync.Map
	now      func() time.Time
	logger   *zap.Logger
}

type shard struct {
	mu      sync.RWMutex
	loaded  bool
	learned []Candidate
}

// New builds a Bank. Defaults that fail to compile are logged and dropped.
func New(store Store, defaults map[model.Field][]string, logger *zap.Logger) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bank{
		store:    store,
		defaults: make(map[model.Field][]Candidate, len(defaults)),
		now:      time.Now,
		logger:   logger,
	}
	for field, patterns := range defaults {
		for i, text := range patterns {
			re, err := compile(text)
			if err != nil {
				logger.Warn("Dropping invalid default pattern", zap.String("field", string(field)), zap.Error(err))
				continue
			}
			b.defaults[field] = append(b.defaults[field], Candidate{
				ExtractionPattern: model.ExtractionPattern{
					ID:         fmt.Sprintf("default:%s:%d", field, i),
					Field:      field,
					Pattern:    text,
					Source:     model.SourceSeed,
					Confidence: defaultTopConfidence - float64(i)*defaultRankStep,
				},
				Regexp: re,
			})
		}
	}
	return b
}

// Patterns returns the candidates for field, most confident first. Defaults and stored
// patterns are merged; a store failure degrades to defaults and is retried on the next call.
func (b *Bank) Patterns(ctx context.Context, field model.Field) []Candidate {
	sh := b.shard(field)

	sh.mu.RLock()
	if sh.loaded {
		out := b.merge(field, sh.learned)
		sh.mu.RUnlock()
		return out
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if err := b.ensureLoaded(ctx, field, sh); err != nil {
		b.logger.Warn("Pattern store unavailable; using defaults", zap.String("field", string(field)), zap.Error(err))
	}
	return b.merge(field, sh.learned)
}

// Add registers a pattern if (field, pattern) is new. An existing entry is returned untouched
// with created=false.
func (b *Bank) Add(ctx context.Context, p model.ExtractionPattern) (Candidate, bool, error) {
	re, err := compile(p.Pattern)
	if err != nil {
		return Candidate{}, false, err
	}
	if p.Source == "" {
		p.Source = model.SourceLearned
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = b.now().UTC()
	}

	sh := b.shard(p.Field)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := b.ensureLoaded(ctx, p.Field, sh); err != nil {
		return Candidate{}, false, err
	}
	if existing, ok := find(b.defaults[p.Field], p.Pattern); ok {
		return existing, false, nil
	}
	if existing, ok := find(sh.learned, p.Pattern); ok {
		return existing, false, nil
	}

	stored, created := p, true
	if b.store != nil {
		stored, created, err = b.store.GetOrCreatePattern(ctx, p)
		if err != nil {
			return Candidate{}, false, fmt.Errorf("store pattern for %s: %w", p.Field, err)
		}
	} else if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	c := Candidate{ExtractionPattern: stored, Regexp: re}
	sh.learned = append(sh.learned, c)
	if created {
		if p.Source == model.SourceLearned {
			metrics.ObservePatternLearned(string(p.Field))
		}
		b.logger.Info("Registered new pattern",
			zap.String("field", string(p.Field)),
			zap.String("pattern", p.Pattern),
			zap.String("source", string(p.Source)))
	}
	return c, created, nil
}

func (b *Bank) ensureLoaded(ctx context.Context, field model.Field, sh *shard) error {
	if sh.loaded {
		return nil
	}
	if b.store == nil {
		sh.loaded = true
		return nil
	}
	stored, err := b.store.ListPatterns(ctx, field)
	if err != nil {
		return fmt.Errorf("list patterns for %s: %w", field, err)
	}
	learned := make([]Candidate, 0, len(stored))
	for _, p := range stored {
		re, err := compile(p.Pattern)
		if err != nil {
			b.logger.Warn("Skipping stored pattern that does not compile",
				zap.String("field", string(field)), zap.String("id", p.ID), zap.Error(err))
			continue
		}
		learned = append(learned, Candidate{ExtractionPattern: p, Regexp: re})
	}
	sh.learned = learned
	sh.loaded = true
	return nil
}

func (b *Bank) merge(field model.Field, learned []Candidate) []Candidate {
	defaults := b.defaults[field]
	out := make([]Candidate, 0, len(defaults)+len(learned))
	out = append(out, defaults...)
	for _, c := range learned {
		if _, dup := find(defaults, c.Pattern); !dup {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func (b *Bank) shard(field model.Field) *shard {
	v, _ := b.shards.LoadOrStore(field, &shard{})
	return v.(*shard)
}

func find(candidates []Candidate, pattern string) (Candidate, bool) {
	for _, c := range candidates {
		if c.Pattern == pattern {
			return c, true
		}
	}
	return Candidate{}, false
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	re, err := regexp.Compile(compileFlags + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return re, nil
}
