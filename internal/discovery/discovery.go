// Package discovery builds the candidate URL set for a crawl from seed lists, list pages and
// search queries.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
	"github.com/JakeFAU/ski-resort-crawler/internal/urlutil"
)

// PageFetcher loads list and aggregator pages.
type PageFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (fetcher.Page, error)
}

// SearchSource turns a query into candidate URLs.
type SearchSource interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Config lists the sources and the link heuristics.
type Config struct {
	MaxURLs             int
	SeedURLs            []string
	ListPages           []string
	SearchQueries       []string
	ResultsPerQuery     int
	LinkKeywords        []string
	URLPatterns         []string
	AggregatorDomains   []string
	KeepAggregatorLinks bool
	DenyDomains         []string
	RenderJS            bool
	Concurrency         int
}

// Discoverer merges every configured source into one deduplicated set.
type Discoverer struct {
	cfg         Config
	pages       PageFetcher
	search      SearchSource
	match       matcher
	deny        *urlutil.Blocklist
	aggregators *urlutil.Blocklist
	logger      *zap.Logger
}

// New validates the link patterns and builds a Discoverer. pages and search may be nil when
// no list pages or queries are configured.
func New(cfg Config, pages PageFetcher, search SearchSource, logger *zap.Logger) (*Discoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxURLs <= 0 {
		return nil, errors.New("discovery: max urls must be > 0")
	}
	if len(cfg.ListPages) > 0 && pages == nil {
		return nil, errors.New("discovery: list pages configured without a page fetcher")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.URLPatterns))
	for _, p := range cfg.URLPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("discovery: url pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	keywords := make([]string, 0, len(cfg.LinkKeywords))
	for _, kw := range cfg.LinkKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	aggregators := make([]string, 0, 2*len(cfg.AggregatorDomains))
	for _, d := range cfg.AggregatorDomains {
		aggregators = append(aggregators, d, "*."+strings.TrimPrefix(d, "www."))
	}
	return &Discoverer{
		cfg:         cfg,
		pages:       pages,
		search:      search,
		match:       matcher{keywords: keywords, patterns: patterns},
		deny:        urlutil.NewBlocklist(cfg.DenyDomains),
		aggregators: urlutil.NewBlocklist(aggregators),
		logger:      logger,
	}, nil
}

// Discover returns the candidate URLs, sorted. Once every source has contributed, the
// sources are drawn round-robin up to MaxURLs so a large source cannot crowd out the rest.
// Source failures are logged; only cancellation is returned as an error.
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	// One set per seed list, list page and query, in config order.
	sources := make([]*urlSet, 0, 1+len(d.cfg.ListPages)+len(d.cfg.SearchQueries))
	seeds := newURLSet(d.deny)
	sources = append(sources, seeds)
	for _, seed := range d.cfg.SeedURLs {
		if !seeds.add(seed) {
			d.logger.Debug("Skipping seed URL", zap.String("url", seed))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	hops := &hopTracker{seen: make(map[string]struct{})}
	for _, page := range d.cfg.ListPages {
		set := newURLSet(d.deny)
		sources = append(sources, set)
		g.Go(func() error {
			d.crawlListPage(gctx, page, set, hops)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d.search != nil {
		for _, q := range d.cfg.SearchQueries {
			results, err := d.search.Search(ctx, q, d.cfg.ResultsPerQuery)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				d.logger.Warn("Search query failed", zap.String("query", q), zap.Error(err))
				continue
			}
			set := newURLSet(d.deny)
			for _, r := range results {
				set.add(r)
			}
			sources = append(sources, set)
		}
	}

	urls, candidates := interleave(sources, d.cfg.MaxURLs)
	d.logger.Info("Discovered URLs", zap.Int("count", len(urls)), zap.Int("candidates", candidates))
	return urls, nil
}

// interleave takes one URL from each source per round until limit URLs are chosen. It
// returns the chosen URLs sorted and the number of distinct candidates.
func interleave(sources []*urlSet, limit int) ([]string, int) {
	lists := make([][]string, len(sources))
	distinct := make(map[string]struct{})
	for i, src := range sources {
		lists[i] = src.sorted()
		for _, u := range lists[i] {
			distinct[u] = struct{}{}
		}
	}

	chosen := make(map[string]struct{}, limit)
	out := make([]string, 0, min(limit, len(distinct)))
	for round := 0; len(out) < limit; round++ {
		more := false
		for _, list := range lists {
			if round >= len(list) {
				continue
			}
			more = true
			u := list[round]
			if _, dup := chosen[u]; dup {
				continue
			}
			chosen[u] = struct{}{}
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
		if !more {
			break
		}
	}
	sort.Strings(out)
	return out, len(distinct)
}

func (d *Discoverer) crawlListPage(ctx context.Context, pageURL string, set *urlSet, hops *hopTracker) {
	links, err := d.links(ctx, pageURL)
	if err != nil {
		d.logWarn("List page fetch failed", pageURL, err)
		return
	}
	for _, l := range links {
		if !d.match.resortLike(l) {
			continue
		}
		host := urlutil.Host(l.URL)
		if !d.aggregators.Matches(host) {
			set.add(l.URL)
			continue
		}
		if d.cfg.KeepAggregatorLinks {
			set.add(l.URL)
		}
		if !hops.first(l.URL) {
			continue
		}
		if official, ok := d.officialFrom(ctx, l.URL, host); ok {
			set.add(official)
		}
	}
}

func (d *Discoverer) officialFrom(ctx context.Context, aggregatorURL, host string) (string, bool) {
	links, err := d.links(ctx, aggregatorURL)
	if err != nil {
		d.logWarn("Aggregator page fetch failed", aggregatorURL, err)
		return "", false
	}
	official, ok := officialSite(links, host, d.aggregators)
	if ok {
		d.logger.Debug("Found official site", zap.String("aggregator", aggregatorURL), zap.String("url", official))
	}
	return official, ok
}

func (d *Discoverer) links(ctx context.Context, pageURL string) ([]link, error) {
	page, err := d.pages.Fetch(ctx, fetcher.Request{URL: pageURL, RenderJS: d.cfg.RenderJS})
	if err != nil {
		return nil, err
	}
	baseURL := page.FinalURL
	if baseURL == "" {
		baseURL = pageURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return extractLinks(base, page.HTML), nil
}

func (d *Discoverer) logWarn(msg, pageURL string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	d.logger.Warn(msg, zap.String("url", pageURL), zap.Error(err))
}

type urlSet struct {
	mu   sync.Mutex
	deny *urlutil.Blocklist
	urls map[string]struct{}
}

func newURLSet(deny *urlutil.Blocklist) *urlSet {
	return &urlSet{deny: deny, urls: make(map[string]struct{})}
}

// add normalizes and stores rawURL, reporting false for rejected URLs.
func (s *urlSet) add(rawURL string) bool {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil || s.deny.Matches(urlutil.Host(normalized)) {
		return false
	}
	s.mu.Lock()
	s.urls[normalized] = struct{}{}
	s.mu.Unlock()
	return true
}

func (s *urlSet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

type hopTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (h *hopTracker) first(u string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[u]; ok {
		return false
	}
	h.seen[u] = struct{}{}
	return true
}
