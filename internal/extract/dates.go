package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	ordinalRe = regexp.MustCompile(`(?i)(\d{1,2})(?:st|nd|rd|th)\b`)
	septRe    = regexp.MustCompile(`(?i)\bsept\b`)
)

// Layouts that carry a year.
var fullLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 06",
	"Jan 2, 06",
}

// Layouts without a year. The year comes from the reference time.
var partialLayouts = []string{
	"January 2",
	"Jan 2",
	"2 January",
	"2 Jan",
}

// parseDate reads a natural-language calendar date. Explicit layouts are tried first, then
// dateparse as a fallback for anything else it recognizes.
func parseDate(raw string, ref time.Time) (time.Time, bool) {
	s := normalizeDate(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range fullLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range partialLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(ref.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func normalizeDate(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = septRe.ReplaceAllString(s, "Sep")
	s = strings.ReplaceAll(s, ".", "")
	return strings.Trim(s, " ,")
}
