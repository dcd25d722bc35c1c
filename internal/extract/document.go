package extract

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/ski-resort-crawler/internal/nlp"
)

// Document is one page prepared for extraction. Entities are recognized at most once.
type Document struct {
	HTML  string
	Text  string
	Title string

	entOnce  sync.Once
	entities []nlp.Entity
	entErr   error
}

// NewDocument parses markup. Unparseable markup yields a Document with empty Text, so text
// fields come back absent while structural fields can still match the raw HTML.
func NewDocument(markup string) *Document {
	doc := &Document{HTML: markup}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return doc
	}
	doc.Text = visibleText(root)
	doc.Title = strings.TrimSpace(goquery.NewDocumentFromNode(root).Find("title").First().Text())
	return doc
}

// Source returns what patterns for field run against.
func (d *Document) Source(structural bool) string {
	if structural {
		return d.HTML
	}
	return d.Text
}

// Entities runs the recognizer over the first limit bytes of Text and caches the result.
func (d *Document) Entities(ctx context.Context, rec nlp.Recognizer, limit int) ([]nlp.Entity, error) {
	d.entOnce.Do(func() {
		if rec == nil {
			return
		}
		d.entities, d.entErr = rec.Recognize(ctx, prefix(d.Text, limit))
	})
	return d.entities, d.entErr
}

func prefix(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
}

func visibleText(root *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(strings.Fields(b.String()), " ")
}
