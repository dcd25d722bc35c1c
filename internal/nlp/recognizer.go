// Package nlp provides the named-entity recognizer used as the second extraction stage.
package nlp

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// Label is an entity type.
type Label string

// Entity labels.
const (
	LabelDate  Label = "DATE"
	LabelMoney Label = "MONEY"
	LabelGPE   Label = "GPE"
	LabelLoc   Label = "LOC"
)

// Entity is one typed span of the input text. Start and End are byte offsets.
type Entity struct {
	Label Label
	Text  string
	Start int
	End   int
}

// Recognizer returns typed entity spans for a text.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

const month = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	dateRe = regexp.MustCompile(`(?i)\b(?:` +
		month + `\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?` +
		`|\d{1,2}(?:st|nd|rd|th)?\s+` + month + `\.?(?:,?\s+\d{4})?` +
		`|\d{4}-\d{2}-\d{2})\b`)
	moneyRe = regexp.MustCompile(`(?i)(?:[$€£]|\b(?:usd|eur|chf|cad|aud|gbp)\s?)\s?\d{1,5}(?:[.,]\d{3})*(?:\.\d{1,2})?` +
		`|\b\d{1,5}(?:[.,]\d{3})*(?:\.\d{1,2})?\s?(?:usd|eur|chf|cad|aud|gbp|dollars|euros)\b`)
)

// RuleRecognizer finds dates and prices with patterns and places with a gazetteer.
type RuleRecognizer struct {
	placeRe *regexp.Regexp
}

// NewRuleRecognizer builds a recognizer over the built-in gazetteer.
func NewRuleRecognizer() *RuleRecognizer {
	names := make([]string, 0, len(gazetteer))
	for name := range gazetteer {
		names = append(names, name)
	}
	// Longest names first so "South Korea" wins over "Korea".
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return &RuleRecognizer{
		placeRe: regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

// Recognize implements Recognizer. Entities are returned in text order.
func (r *RuleRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Entity
	out = appendMatches(out, text, dateRe, func(string) Label { return LabelDate })
	out = appendMatches(out, text, moneyRe, func(string) Label { return LabelMoney })
	out = appendMatches(out, text, r.placeRe, func(s string) Label { return gazetteer[s].label })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func appendMatches(out []Entity, text string, re *regexp.Regexp, label func(string) Label) []Entity {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		span := text[loc[0]:loc[1]]
		out = append(out, Entity{Label: label(span), Text: strings.TrimSpace(span), Start: loc[0], End: loc[1]})
	}
	return out
}
