package discovery

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ski-resort-crawler/internal/urlutil"
)

var (
	officialTextRe = regexp.MustCompile(`(?i)\bofficial\b.*\b(?:site|website|page|homepage)\b|\bvisit\b.*\bwebsite\b|\bresort\s+website\b|\bhomepage\b`)
	assetExt       = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true, ".ico": true,
		".pdf": true, ".css": true, ".js": true, ".zip": true, ".mp4": true, ".mp3": true, ".xml": true,
	}
)

// link is one outbound anchor, already resolved and normalized.
type link struct {
	URL  string
	Text string
	Rel  string
}

// extractLinks returns every fetchable http(s) link of a page in document order.
func extractLinks(base *url.URL, markup string) []link {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var out []link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs, err := urlutil.Resolve(base, href)
		if err != nil {
			return
		}
		if isAsset(abs) {
			return
		}
		rel, _ := s.Attr("rel")
		class, _ := s.Attr("class")
		title, _ := s.Attr("title")
		out = append(out, link{
			URL:  abs,
			Text: strings.Join(strings.Fields(s.Text()+" "+title), " "),
			Rel:  strings.ToLower(rel + " " + class),
		})
	})
	return out
}

func isAsset(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return assetExt[strings.ToLower(path.Ext(u.Path))]
}

// matcher decides which links look like resort pages.
type matcher struct {
	keywords []string
	patterns []*regexp.Regexp
}

func (m matcher) resortLike(l link) bool {
	text := strings.ToLower(l.Text)
	lowerURL := strings.ToLower(l.URL)
	for _, kw := range m.keywords {
		if strings.Contains(text, kw) || strings.Contains(lowerURL, kw) {
			return true
		}
	}
	for _, re := range m.patterns {
		if re.MatchString(l.URL) {
			return true
		}
	}
	return false
}

// officialSite finds the link an aggregator page marks as the resort's own site. Links back
// to the aggregator itself never qualify.
func officialSite(links []link, aggregatorHost string, aggregators *urlutil.Blocklist) (string, bool) {
	for _, l := range links {
		host := urlutil.Host(l.URL)
		if host == aggregatorHost || aggregators.Matches(host) {
			continue
		}
		if strings.Contains(l.Rel, "official") || officialTextRe.MatchString(l.Text) {
			return l.URL, true
		}
	}
	return "", false
}
