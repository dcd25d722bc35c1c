package extract

import (
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/nlp"
)

// Capture is one regexp match: the whole match plus its submatches.
type Capture struct {
	Match  string
	Groups []string
}

func (c Capture) group(i int) string {
	if i < len(c.Groups) {
		return strings.TrimSpace(c.Groups[i])
	}
	return ""
}

// Converter turns a raw capture into a typed value. ref anchors dates that omit the year.
type Converter func(c Capture, ref time.Time) (model.Value, bool)

const (
	cmPerInch      = 2.54
	inchesPerMeter = 39.3701
)

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	numberRe = regexp.MustCompile(`-?[0-9][0-9,]*(?:\.[0-9]+)?`)
)

func convertSnowfall(c Capture, _ time.Time) (model.Value, bool) {
	v, ok := parseNumber(c.group(0))
	if !ok || v < 0 {
		return model.Value{}, false
	}
	unit := strings.ToLower(c.group(1))
	switch {
	case strings.HasPrefix(unit, "cm"), strings.HasPrefix(unit, "centim"):
		v /= cmPerInch
	case unit == "m", strings.HasPrefix(unit, "met"):
		v *= inchesPerMeter
	}
	return model.NumberValue(round(v, 2)), true
}

func convertCount(c Capture, _ time.Time) (model.Value, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(c.group(0), ",", ""))
	if err != nil || n <= 0 {
		return model.Value{}, false
	}
	return model.IntValue(n), true
}

func convertPrice(c Capture, _ time.Time) (model.Value, bool) {
	v, ok := parseNumber(c.group(0))
	if !ok || v <= 0 {
		return model.Value{}, false
	}
	return model.NumberValue(v), true
}

func convertRuns(c Capture, _ time.Time) (model.Value, bool) {
	if len(c.Groups) < 3 {
		return model.Value{}, false
	}
	var counts [3]int
	for i := range counts {
		n, err := strconv.Atoi(strings.TrimSuffix(c.group(i), "%"))
		if err != nil || n < 0 {
			return model.Value{}, false
		}
		counts[i] = n
	}
	return model.RunsValue(model.RunBreakdown{
		Easy:         counts[0],
		Intermediate: counts[1],
		Advanced:     counts[2],
		Percent:      strings.Contains(c.Match, "%"),
	}), true
}

func coordinate(limit float64) Converter {
	return func(c Capture, _ time.Time) (model.Value, bool) {
		v, err := strconv.ParseFloat(c.group(0), 64)
		if err != nil || math.Abs(v) > limit {
			return model.Value{}, false
		}
		return model.NumberValue(v), true
	}
}

func convertDate(c Capture, ref time.Time) (model.Value, bool) {
	t, ok := parseDate(c.group(0), ref)
	if !ok {
		return model.Value{}, false
	}
	return model.DateValue(t), true
}

func convertName(c Capture, _ time.Time) (model.Value, bool) {
	name := cleanText(c.group(0))
	if name == "" {
		return model.Value{}, false
	}
	return model.TextValue(name), true
}

func convertCountry(c Capture, _ time.Time) (model.Value, bool) {
	name := cleanText(c.group(0))
	if name == "" {
		return model.Value{}, false
	}
	if canonical, ok := nlp.Country(name); ok {
		name = canonical
	}
	return model.TextValue(name), true
}

func convertContinent(c Capture, _ time.Time) (model.Value, bool) {
	name := cleanText(c.group(0))
	if continent, ok := nlp.Continent(name); ok {
		return model.TextValue(continent), true
	}
	if continent, ok := nlp.ContinentOf(name); ok {
		return model.TextValue(continent), true
	}
	return model.Value{}, false
}

func cleanText(s string) string {
	s = html.UnescapeString(tagRe.ReplaceAllString(s, " "))
	return strings.Join(strings.Fields(s), " ")
}

func parseNumber(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
