package nlp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"
)

// proseGPE is the label prose's NER model assigns to countries, cities and states.
const proseGPE = "GPE"

// tagger returns the place names a statistical model found in text, in text order.
type tagger func(text string) ([]string, error)

// ModelRecognizer layers prose's named-entity model over the rule recognizer. DATE, MONEY
// and LOC spans come from the rules; GPE spans from both, the rule span winning on overlap.
type ModelRecognizer struct {
	rules  *RuleRecognizer
	tag    tagger
	logger *zap.Logger
}

// NewModelRecognizer builds a recognizer backed by prose's bundled English model.
func NewModelRecognizer(logger *zap.Logger) *ModelRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelRecognizer{rules: NewRuleRecognizer(), tag: proseGPEs, logger: logger}
}

func proseGPEs(text string) ([]string, error) {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("prose document: %w", err)
	}
	var out []string
	for _, ent := range doc.Entities() {
		if ent.Label == proseGPE {
			out = append(out, ent.Text)
		}
	}
	return out, nil
}

// Recognize implements Recognizer. A model failure leaves only the rule entities.
func (r *ModelRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	out, err := r.rules.Recognize(ctx, text)
	if err != nil {
		return nil, err
	}
	names, err := r.tag(text)
	if err != nil {
		r.logger.Debug("Entity model failed; using rule entities", zap.Error(err))
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cursor := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		idx := strings.Index(text[cursor:], name)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		end := start + len(name)
		cursor = end
		if overlaps(out, start, end) {
			continue
		}
		out = append(out, Entity{Label: LabelGPE, Text: name, Start: start, End: end})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func overlaps(entities []Entity, start, end int) bool {
	for _, e := range entities {
		if start < e.End && e.Start < end {
			return true
		}
	}
	return false
}
