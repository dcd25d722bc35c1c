package extract

import (
	"context"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

// Strategy is one stage of the extraction cascade.
type Strategy interface {
	Method() model.Method
	Extract(ctx context.Context, doc *Document, spec FieldSpec) (model.Extraction, bool)
}

// Chain tries strategies in order, returning the first success.
type Chain struct {
	strategies []Strategy
}

// NewChain creates a Chain. Strategies are tried in the given order.
func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Run returns the first extraction any strategy produces. The field, method and confidence
// tier are stamped from the winning strategy.
func (c *Chain) Run(ctx context.Context, doc *Document, spec FieldSpec) (model.Extraction, bool) {
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return model.Extraction{}, false
		}
		ex, ok := s.Extract(ctx, doc, spec)
		if !ok {
			continue
		}
		ex.Field = spec.Field
		ex.Method = s.Method()
		ex.Confidence = s.Method().Confidence()
		return ex, true
	}
	return model.Extraction{}, false
}
