// Package extract turns raw resort pages into typed field values. Each field runs a cascade of
// strategies: ranked patterns, entity recognition, then keyword mining that teaches the
// pattern bank new patterns.
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/nlp"
)

// Config tunes the lower cascade stages.
type Config struct {
	EntityPrefixChars   int
	HeuristicSimilarity float64
	HeuristicWindow     int
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{EntityPrefixChars: 20000, HeuristicSimilarity: 0.8, HeuristicWindow: 150}
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithClock sets the reference time used for dates without a year.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithFields replaces the field registry.
func WithFields(specs []FieldSpec) Option {
	return func(e *Extractor) { e.fields = specs }
}

// Extractor runs the cascade for every registered field.
type Extractor struct {
	fields []FieldSpec
	chain  *Chain
	now    func() time.Time
	logger *zap.Logger
}

// New wires the three stages over bank and rec.
func New(bank PatternSource, rec nlp.Recognizer, cfg Config, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{fields: Registry(), now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	now := func() time.Time { return e.now() }
	e.chain = NewChain(
		NewPatternStrategy(bank, now),
		NewEntityStrategy(rec, cfg.EntityPrefixChars, now, logger),
		NewHeuristicStrategy(bank, cfg.HeuristicSimilarity, cfg.HeuristicWindow, now, logger),
	)
	return e
}

// ExtractAll runs the cascade for every field. Fields no stage could fill are absent. A
// field whose evaluation panics is logged and left absent.
func (e *Extractor) ExtractAll(ctx context.Context, markup string) model.Extractions {
	doc := NewDocument(markup)
	out := make(model.Extractions, len(e.fields))
	for _, spec := range e.fields {
		if ctx.Err() != nil {
			break
		}
		ex, ok, err := e.extractField(ctx, doc, spec)
		if err != nil {
			e.logger.Warn("Field extraction failed", zap.String("field", string(spec.Field)), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		out[spec.Field] = ex
		metrics.ObserveFieldExtracted(string(spec.Field), string(ex.Method))
		e.logger.Debug("Extracted field",
			zap.String("field", string(spec.Field)),
			zap.String("method", string(ex.Method)),
			zap.String("value", ex.Value.String()))
	}
	return out
}

func (e *Extractor) extractField(ctx context.Context, doc *Document, spec FieldSpec) (ex model.Extraction, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic extracting %s: %v", spec.Field, r)
		}
	}()
	ex, ok = e.chain.Run(ctx, doc, spec)
	return ex, ok, nil
}
