// Package fetcher owns the bounded fetch pool. Every page load passes the robots gate and the
// per-domain throttle, then runs on a static or JS-rendering backend.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
)

var (
	// ErrBlocked means robots.txt denied the URL. It is terminal and never retried.
	ErrBlocked = errors.New("blocked by robots.txt")
	// ErrTransientStatus marks 429 and 5xx responses, which are retried like network failures.
	ErrTransientStatus = errors.New("transient http status")
	// ErrInvalidURL marks URLs that cannot be fetched at all.
	ErrInvalidURL = errors.New("invalid url")
)

// Backend names reported on pages and metrics.
const (
	BackendStatic   = "static"
	BackendRendered = "rendered"
)

// Request describes one page load.
type Request struct {
	URL      string
	RenderJS bool
	Timeout  time.Duration
}

// Page is the result of a successful load.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Backend    string
	Duration   time.Duration
}

// Backend performs the actual network load.
type Backend interface {
	Load(ctx context.Context, req Request) (Page, error)
}

// RobotsPolicy answers allow/deny for a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// DomainThrottle spaces accesses to one domain.
type DomainThrottle interface {
	Wait(ctx context.Context, domain string) (time.Time, error)
}

// Detector decides whether a static page needs a JS render.
type Detector interface {
	ShouldPromote(page Page) bool
}

// Config bounds the pool.
type Config struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRenderer sets the JS-rendering backend.
func WithRenderer(b Backend) Option {
	return func(p *Pool) { p.rendered = b }
}

// WithDetector enables promotion of static loads to the renderer when the detector asks for it.
func WithDetector(d Detector) Option {
	return func(p *Pool) { p.detector = d }
}

// Pool is the single point of overall fetch concurrency.
type Pool struct {
	slots    *semaphore.Weighted
	static   Backend
	rendered Backend
	detector Detector
	robots   RobotsPolicy
	throttle DomainThrottle
	timeout  time.Duration
	logger   *zap.Logger

	fallbackOnce sync.Once
}

// NewPool builds a Pool around a static backend.
func NewPool(cfg Config, static Backend, robots RobotsPolicy, throttle DomainThrottle, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, errors.New("fetcher: max concurrency must be > 0")
	}
	if static == nil {
		return nil, errors.New("fetcher: static backend is required")
	}
	if robots == nil || throttle == nil {
		return nil, errors.New("fetcher: robots policy and throttle are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	p := &Pool{
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		static:   static,
		robots:   robots,
		throttle: throttle,
		timeout:  timeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Fetch loads one page. A robots denial returns ErrBlocked without touching the page.
// Any other error is a fetch failure the caller may retry.
func (p *Pool) Fetch(ctx context.Context, req Request) (Page, error) {
	host, err := Domain(req.URL)
	if err != nil {
		return Page{}, err
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return Page{}, fmt.Errorf("acquire fetch slot: %w", err)
	}
	defer p.slots.Release(1)

	if !p.robots.Allowed(ctx, req.URL) {
		metrics.ObserveFetchAttempt("blocked")
		return Page{}, fmt.Errorf("%s: %w", req.URL, ErrBlocked)
	}

	backend, name := p.backendFor(req)
	page, err := p.load(ctx, host, backend, name, req)
	if err != nil {
		return Page{}, err
	}

	if name == BackendStatic && !req.RenderJS && p.rendered != nil && p.detector != nil && p.detector.ShouldPromote(page) {
		p.logger.Debug("Promoting static load to renderer", zap.String("url", req.URL))
		rendered, rerr := p.load(ctx, host, p.rendered, BackendRendered, req)
		if rerr == nil {
			page = rendered
		} else {
			p.logger.Warn("Rendered promotion failed; keeping static page", zap.String("url", req.URL), zap.Error(rerr))
		}
	}

	if transientStatus(page.StatusCode) {
		metrics.ObserveFetchAttempt("transient_status")
		return Page{}, fmt.Errorf("%s returned %d: %w", req.URL, page.StatusCode, ErrTransientStatus)
	}
	metrics.ObserveFetchAttempt("ok")
	return page, nil
}

func (p *Pool) load(ctx context.Context, host string, backend Backend, name string, req Request) (Page, error) {
	if _, err := p.throttle.Wait(ctx, host); err != nil {
		return Page{}, fmt.Errorf("throttle %s: %w", host, err)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	page, err := backend.Load(loadCtx, req)
	metrics.ObserveFetchDuration(name, time.Since(start))
	if err != nil {
		metrics.ObserveFetchAttempt("error")
		return Page{}, fmt.Errorf("load %s via %s backend: %w", req.URL, name, err)
	}
	if page.URL == "" {
		page.URL = req.URL
	}
	if page.FinalURL == "" {
		page.FinalURL = page.URL
	}
	if page.StatusCode == 0 {
		page.StatusCode = http.StatusOK
	}
	page.Backend = name
	if page.Duration == 0 {
		page.Duration = time.Since(start)
	}
	return page, nil
}

func (p *Pool) backendFor(req Request) (Backend, string) {
	if !req.RenderJS {
		return p.static, BackendStatic
	}
	if p.rendered == nil {
		p.fallbackOnce.Do(func() {
			p.logger.Warn("JS rendering requested but no renderer configured; using static backend")
		})
		return p.static, BackendStatic
	}
	return p.rendered, BackendRendered
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Domain returns the lowercase host of an absolute http(s) URL.
func Domain(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w %q: unsupported scheme", ErrInvalidURL, rawURL)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w %q: missing host", ErrInvalidURL, rawURL)
	}
	return strings.ToLower(parsed.Hostname()), nil
}
