package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/nlp"
)

// EntityStrategy maps recognized entities onto fields.
type EntityStrategy struct {
	recognizer nlp.Recognizer
	limit      int
	now        func() time.Time
	logger     *zap.Logger
}

// NewEntityStrategy runs rec over the first limit bytes of each document's text.
func NewEntityStrategy(rec nlp.Recognizer, limit int, now func() time.Time, logger *zap.Logger) *EntityStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityStrategy{recognizer: rec, limit: limit, now: now, logger: logger}
}

// Method implements Strategy.
func (s *EntityStrategy) Method() model.Method { return model.MethodEntity }

// Extract implements Strategy. Labels are tried in the order the field lists them; within a
// label the first usable entity in text order wins.
func (s *EntityStrategy) Extract(ctx context.Context, doc *Document, spec FieldSpec) (model.Extraction, bool) {
	if spec.Entity == nil || len(spec.Labels) == 0 {
		return model.Extraction{}, false
	}
	entities, err := doc.Entities(ctx, s.recognizer, s.limit)
	if err != nil {
		s.logger.Debug("Entity recognition failed", zap.String("field", string(spec.Field)), zap.Error(err))
		return model.Extraction{}, false
	}
	ref := s.now()
	for _, label := range spec.Labels {
		for _, e := range entities {
			if e.Label != label {
				continue
			}
			if v, ok := spec.Entity(e, ref); ok {
				return model.Extraction{Value: v, Snippet: e.Text}, true
			}
		}
	}
	return model.Extraction{}, false
}
