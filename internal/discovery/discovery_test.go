package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
)

type fakePages struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newFakePages(pages map[string]string) *fakePages {
	return &fakePages{pages: pages, hits: make(map[string]int)}
}

func (f *fakePages) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Page, error) {
	if err := ctx.Err(); err != nil {
		return fetcher.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[req.URL]++
	body, ok := f.pages[req.URL]
	if !ok {
		return fetcher.Page{}, errors.New("connection refused")
	}
	return fetcher.Page{URL: req.URL, FinalURL: req.URL, StatusCode: http.StatusOK, HTML: body}, nil
}

func (f *fakePages) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[u]
}

type fakeSearch struct {
	results map[string][]string
	err     error
}

func (f fakeSearch) Search(_ context.Context, query string, _ int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func baseConfig() Config {
	return Config{
		MaxURLs:             100,
		LinkKeywords:        []string{"ski", "resort"},
		URLPatterns:         []string{`(?i)/(resort|ski-area|skigebiet|station)s?/`},
		AggregatorDomains:   []string{"skiresort.info"},
		KeepAggregatorLinks: true,
		DenyDomains:         []string{"facebook.com"},
		Concurrency:         2,
	}
}

const listPage = `<html><body>
<a href="https://www.verbier.ch/ski">Verbier skiing</a>
<a href="/areas/stations/chamonix">Chamonix</a>
<a href="https://www.skiresort.info/ski-resort/zermatt/">Zermatt on skiresort.info</a>
<a href="https://www.skiresort.info/ski-resort/zermatt/#reviews">Zermatt reviews</a>
<a href="https://facebook.com/skiclub">Ski club</a>
<a href="mailto:info@ski.example">Email ski desk</a>
<a href="/img/ski-map.pdf">Ski map</a>
<a href="#top">Back to top ski</a>
<a href="https://news.example.com/weather">Weather</a>
</body></html>`

const aggregatorPage = `<html><body>
<a href="https://www.skiresort.info/other">Other resort</a>
<a href="https://www.zermatt.ch/en" rel="nofollow">Visit the official website</a>
</body></html>`

func TestDiscoverMergesAllSources(t *testing.T) {
	t.Parallel()

	pages := newFakePages(map[string]string{
		"https://lists.example.org/europe":               listPage,
		"https://www.skiresort.info/ski-resort/zermatt/": aggregatorPage,
	})
	cfg := baseConfig()
	cfg.SeedURLs = []string{"https://www.whistler.com/", "HTTPS://WWW.WHISTLER.COM", "not a url"}
	cfg.ListPages = []string{"https://lists.example.org/europe"}
	cfg.SearchQueries = []string{"ski resorts japan"}
	search := fakeSearch{results: map[string][]string{
		"ski resorts japan": {"https://www.niseko.ne.jp/en/", "https://www.verbier.ch/ski#snow"},
	}}

	d, err := New(cfg, pages, search, nil)
	require.NoError(t, err)
	got, err := d.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://lists.example.org/areas/stations/chamonix",
		"https://www.niseko.ne.jp/en/",
		"https://www.skiresort.info/ski-resort/zermatt/",
		"https://www.verbier.ch/ski",
		"https://www.whistler.com/",
		"https://www.zermatt.ch/en",
	}, got)
	assert.Equal(t, 1, pages.count("https://www.skiresort.info/ski-resort/zermatt/"), "aggregator pages are hopped once")
}

func TestDiscoverCanDropAggregatorLinks(t *testing.T) {
	t.Parallel()

	pages := newFakePages(map[string]string{
		"https://lists.example.org/europe":               listPage,
		"https://www.skiresort.info/ski-resort/zermatt/": aggregatorPage,
	})
	cfg := baseConfig()
	cfg.KeepAggregatorLinks = false
	cfg.ListPages = []string{"https://lists.example.org/europe"}

	d, err := New(cfg, pages, nil, nil)
	require.NoError(t, err)
	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, "https://www.zermatt.ch/en")
	assert.NotContains(t, got, "https://www.skiresort.info/ski-resort/zermatt/")
}

func TestDiscoverCapsAfterEverySource(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.MaxURLs = 2
	cfg.SeedURLs = []string{"https://x-resort.example/", "https://y-resort.example/", "https://z-resort.example/"}
	cfg.SearchQueries = []string{"q"}
	search := fakeSearch{results: map[string][]string{"q": {"https://a-resort.example/"}}}

	d, err := New(cfg, nil, search, nil)
	require.NoError(t, err)
	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a-resort.example/", "https://x-resort.example/"}, got)
}

func TestDiscoverCapDrawsFromEverySource(t *testing.T) {
	t.Parallel()

	pages := newFakePages(map[string]string{
		"https://lists.example.org/alps": `<html><body>
<a href="https://www.zell-am-see.example/ski">Zell am See skiing</a>
<a href="https://www.zuers.example/ski">Zürs skiing</a>
</body></html>`,
	})
	cfg := baseConfig()
	cfg.MaxURLs = 4
	cfg.SeedURLs = []string{
		"https://www.alta.example/", "https://www.arapahoe.example/",
		"https://www.aspen.example/", "https://www.avoriaz.example/",
	}
	cfg.ListPages = []string{"https://lists.example.org/alps"}
	cfg.SearchQueries = []string{"ski resorts chile"}
	search := fakeSearch{results: map[string][]string{
		"ski resorts chile": {"https://www.valle-nevado.example/", "https://www.portillo.example/"},
	}}

	d, err := New(cfg, pages, search, nil)
	require.NoError(t, err)
	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.alta.example/",
		"https://www.arapahoe.example/",
		"https://www.portillo.example/",
		"https://www.zell-am-see.example/ski",
	}, got, "alphabetically early seeds do not crowd out later sources")
}

func TestDiscoverToleratesSourceFailures(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.SeedURLs = []string{"https://www.aspen.com/"}
	cfg.ListPages = []string{"https://down.example.org/list"}
	cfg.SearchQueries = []string{"q"}

	d, err := New(cfg, newFakePages(nil), fakeSearch{err: errors.New("quota exceeded")}, nil)
	require.NoError(t, err)
	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.aspen.com/"}, got)
}

func TestDiscoverReturnsCancellation(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.ListPages = []string{"https://lists.example.org/europe"}
	d, err := New(cfg, newFakePages(nil), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Discover(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil)
	require.Error(t, err)

	cfg := baseConfig()
	cfg.URLPatterns = []string{"("}
	_, err = New(cfg, nil, nil, nil)
	require.Error(t, err)

	cfg = baseConfig()
	cfg.ListPages = []string{"https://lists.example.org"}
	_, err = New(cfg, nil, nil, nil)
	require.Error(t, err)
}

func TestHTTPSearchSource(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q")+"|"+r.URL.Query().Get("count")+"|"+r.Header.Get("User-Agent"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("q") {
		case "bing":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"webPages": map[string]any{"value": []map[string]string{{"url": "https://www.laax.com/"}}},
			})
		case "broken":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]string{
					{"url": "https://www.vail.com/"},
					{"href": "https://www.stowe.com/"},
					{"url": "https://www.killington.com/"},
				},
			})
		}
	}))
	defer srv.Close()

	src, err := NewHTTPSearchSource(srv.URL+"/search", "SkiBot/1.0", time.Millisecond, time.Second)
	require.NoError(t, err)

	got, err := src.Search(context.Background(), "ski resorts usa", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.vail.com/", "https://www.stowe.com/"}, got)

	got, err = src.Search(context.Background(), "bing", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.laax.com/"}, got)

	_, err = src.Search(context.Background(), "broken", 5)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ski resorts usa|2|SkiBot/1.0", queries[0])
	assert.Equal(t, "bing||SkiBot/1.0", queries[1])
}

func TestNewHTTPSearchSourceRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPSearchSource("::not a url", "", 0, time.Second)
	require.Error(t, err)
}
