package fetcher

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ShellDetector flags static pages that are script shells whose content only appears after rendering.
type ShellDetector struct {
	BodyLengthThreshold int
	MinTextChars        int
}

// NewShellDetector creates a detector. A zero threshold uses 2048 bytes.
func NewShellDetector(threshold int) *ShellDetector {
	if threshold <= 0 {
		threshold = 2048
	}
	return &ShellDetector{BodyLengthThreshold: threshold, MinTextChars: 200}
}

var spaMarkers = []string{
	`id="__next"`,
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
	"__nuxt",
}

// ShouldPromote implements Detector.
func (d *ShellDetector) ShouldPromote(page Page) bool {
	if page.StatusCode != http.StatusOK {
		return false
	}
	body := page.HTML
	if strings.TrimSpace(body) == "" {
		return true
	}
	if visibleTextLength(body) >= d.MinTextChars {
		return false
	}
	if len(body) < d.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func visibleTextLength(body string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
}

func scriptDensityHigh(body string) bool {
	lower := strings.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag swallows the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		next := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			next = contentStart + relEnd + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
