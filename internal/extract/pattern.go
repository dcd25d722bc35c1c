package extract

import (
	"context"
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/patternbank"
)

// PatternSource supplies ranked candidates and accepts learned patterns.
type PatternSource interface {
	Patterns(ctx context.Context, field model.Field) []patternbank.Candidate
	Add(ctx context.Context, p model.ExtractionPattern) (patternbank.Candidate, bool, error)
}

const maxSnippet = 300

// PatternStrategy runs the bank's patterns for a field, most confident first.
type PatternStrategy struct {
	bank PatternSource
	now  func() time.Time
}

// NewPatternStrategy wraps a pattern source.
func NewPatternStrategy(bank PatternSource, now func() time.Time) *PatternStrategy {
	return &PatternStrategy{bank: bank, now: now}
}

// Method implements Strategy.
func (s *PatternStrategy) Method() model.Method { return model.MethodPattern }

// Extract implements Strategy. A match whose capture does not convert falls through to the
// next pattern.
func (s *PatternStrategy) Extract(ctx context.Context, doc *Document, spec FieldSpec) (model.Extraction, bool) {
	text := doc.Source(spec.Structural())
	if text == "" || spec.Convert == nil {
		return model.Extraction{}, false
	}
	for _, c := range s.bank.Patterns(ctx, spec.Field) {
		m := c.Regexp.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		capture := Capture{Match: m[0], Groups: m[1:]}
		v, ok := spec.Convert(capture, s.now())
		if !ok {
			continue
		}
		return model.Extraction{Value: v, Snippet: snippet(m[0]), Pattern: c.Pattern}, true
	}
	return model.Extraction{}, false
}

func snippet(s string) string {
	s = cleanText(s)
	return prefix(s, maxSnippet)
}
