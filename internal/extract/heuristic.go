package extract

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/patternbank"
)

const (
	// gap is what a learned pattern lets sit between the keyword and the value.
	gap = `[\s:\-,\w()]{0,50}?`
	// joiner separates the words of a multi-word keyword anchor.
	joiner = `[\s\-]+`
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HeuristicStrategy finds a fuzzy keyword match, reads the value next to it and registers a
// pattern anchored on that keyword so later documents hit it in the pattern stage.
type HeuristicStrategy struct {
	bank       PatternSource
	similarity float64
	window     int
	now        func() time.Time
	logger     *zap.Logger
}

// NewHeuristicStrategy builds the mining stage. Keyword matches need at least similarity and
// values must sit within window bytes after the keyword.
func NewHeuristicStrategy(bank PatternSource, similarity float64, window int, now func() time.Time, logger *zap.Logger) *HeuristicStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicStrategy{bank: bank, similarity: similarity, window: window, now: now, logger: logger}
}

// Method implements Strategy.
func (s *HeuristicStrategy) Method() model.Method { return model.MethodHeuristic }

type span struct {
	start, end int
	folded     string
}

// Extract implements Strategy.
func (s *HeuristicStrategy) Extract(ctx context.Context, doc *Document, spec FieldSpec) (model.Extraction, bool) {
	if spec.Token == "" || len(spec.Keywords) == 0 || doc.Text == "" || spec.Convert == nil {
		return model.Extraction{}, false
	}
	text := doc.Text
	f := newFolder()
	words := tokenize(text, f)

	for _, kw := range spec.Keywords {
		target := strings.Fields(f.fold(kw))
		start, end, ok := s.firstSimilar(words, target)
		if !ok {
			continue
		}
		limit := end + s.window
		if limit > len(text) {
			limit = len(text)
		}
		window := text[start:limit]
		pattern := anchor(text[start:end]) + gap + spec.Token

		re, err := regexp.Compile("(?is)" + pattern)
		if err != nil {
			s.logger.Debug("Discarding uncompilable learned pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		m := re.FindStringSubmatch(window)
		if m == nil {
			continue
		}
		v, ok := spec.Convert(Capture{Match: m[0], Groups: m[1:]}, s.now())
		if !ok {
			continue
		}
		if _, _, err := s.bank.Add(ctx, model.ExtractionPattern{
			Field:      spec.Field,
			Pattern:    pattern,
			Source:     model.SourceLearned,
			Confidence: patternbank.LearnedConfidence,
		}); err != nil {
			s.logger.Warn("Could not register learned pattern",
				zap.String("field", string(spec.Field)), zap.String("pattern", pattern), zap.Error(err))
		}
		return model.Extraction{Value: v, Snippet: snippet(m[0]), Pattern: pattern}, true
	}
	return model.Extraction{}, false
}

// firstSimilar returns the byte span of the first run of words resembling target.
func (s *HeuristicStrategy) firstSimilar(words []span, target []string) (int, int, bool) {
	n := len(target)
	if n == 0 {
		return 0, 0, false
	}
	want := strings.Join(target, " ")
	for i := 0; i+n <= len(words); i++ {
		parts := make([]string, n)
		for j := range parts {
			parts[j] = words[i+j].folded
		}
		if levenshtein.Similarity(want, strings.Join(parts, " "), nil) >= s.similarity {
			return words[i].start, words[i+n-1].end, true
		}
	}
	return 0, 0, false
}

func anchor(surface string) string {
	parts := wordRe.FindAllString(surface, -1)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(strings.ToLower(p))
	}
	return strings.Join(parts, joiner)
}

func tokenize(text string, f *folder) []span {
	locs := wordRe.FindAllStringIndex(text, -1)
	out := make([]span, len(locs))
	for i, loc := range locs {
		out[i] = span{start: loc[0], end: loc[1], folded: f.fold(text[loc[0]:loc[1]])}
	}
	return out
}

// folder lowercases and strips accents so "Schneefälle" and "schneefalle" compare equal.
// Transformers carry state, so each Extract call builds its own.
type folder struct {
	accents transform.Transformer
	caser   cases.Caser
}

func newFolder() *folder {
	return &folder{
		accents: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		caser:   cases.Fold(),
	}
}

func (f *folder) fold(s string) string {
	out, _, err := transform.String(f.accents, s)
	if err != nil {
		out = s
	}
	return f.caser.String(out)
}
