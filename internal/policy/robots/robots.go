// Package robots decides whether a URL may be fetched according to the host's robots.txt.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
)

const maxRobotsBytes = 1 << 20

// Policy answers allow/deny for a URL.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Config controls robots enforcement.
type Config struct {
	Respect      bool
	UserAgent    string
	Timeout      time.Duration
	TrustedHosts []string
	// Client overrides the HTTP client used to download robots.txt.
	Client *http.Client
}

// Gate enforces robots.txt directives per host. Parsed rules are cached for the process lifetime.
type Gate struct {
	client    *http.Client
	userAgent string
	trusted   map[string]struct{}
	cache     sync.Map
	inflight  singleflight.Group
	logger    *zap.Logger
}

// New builds a Policy respecting the config toggle.
func New(cfg Config, logger *zap.Logger) Policy {
	if !cfg.Respect {
		return allowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: newRetryTransport(http.DefaultTransport),
		}
	}
	trusted := make(map[string]struct{}, len(cfg.TrustedHosts))
	for _, host := range cfg.TrustedHosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			trusted[host] = struct{}{}
		}
	}
	return &Gate{
		client:    client,
		userAgent: cfg.UserAgent,
		trusted:   trusted,
		logger:    logger,
	}
}

// Allowed implements Policy. Unparseable URLs are denied; robots download failures allow.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	hostKey := strings.ToLower(parsed.Host)
	if _, ok := g.trusted[hostKey]; ok {
		return true
	}
	data := g.load(ctx, parsed, hostKey)
	return data.TestAgent(parsed.RequestURI(), g.userAgent)
}

func (g *Gate) load(ctx context.Context, parsed *url.URL, hostKey string) *robotstxt.RobotsData {
	if data, ok := g.cached(hostKey); ok {
		return data
	}
	// The download outlives the caller that started it so a cancelled first request never
	// caches the fail-open result; g.client's timeout bounds it.
	ch := g.inflight.DoChan(hostKey, func() (any, error) {
		if data, ok := g.cached(hostKey); ok {
			return data, nil
		}
		data, err := g.fetch(context.WithoutCancel(ctx), parsed)
		if err != nil {
			g.logger.Warn("robots fetch failed; allowing access", zap.String("host", hostKey), zap.Error(err))
			metrics.ObserveRobotsFailOpen()
			data = allowAllData()
		}
		g.cache.Store(hostKey, data)
		return data, nil
	})
	select {
	case <-ctx.Done():
		return allowAllData()
	case res := <-ch:
		data, ok := res.Val.(*robotstxt.RobotsData)
		if !ok {
			return allowAllData()
		}
		return data
	}
}

func (g *Gate) cached(hostKey string) (*robotstxt.RobotsData, bool) {
	v, ok := g.cache.Load(hostKey)
	if !ok {
		return nil, false
	}
	data, ok := v.(*robotstxt.RobotsData)
	return data, ok
}

func (g *Gate) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("robots status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// allowAllData returns the rule set temoto uses for a missing robots.txt.
func allowAllData() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }
