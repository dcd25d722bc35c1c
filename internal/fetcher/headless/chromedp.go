// Package headless renders pages in a shared headless Chrome instance via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
)

// ErrDOMNotReady is returned when neither network-idle nor the DOM-ready fallback completed.
var ErrDOMNotReady = errors.New("headless: document never became ready")

// Config controls the behavior of the headless backend.
type Config struct {
	UserAgent          string
	NetworkIdleTimeout time.Duration
	DOMReadyTimeout    time.Duration
	NoSandbox          bool
	ViewportWidth      int
	ViewportHeight     int
}

// Browser owns one Chrome process for its lifetime. Each Load runs in its own tab.
type Browser struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// New launches the browser.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NetworkIdleTimeout <= 0 {
		cfg.NetworkIdleTimeout = 10 * time.Second
	}
	if cfg.DOMReadyTimeout <= 0 {
		cfg.DOMReadyTimeout = 10 * time.Second
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = 1280, 800
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts Chrome; later tabs reuse it.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close shuts the browser down.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// Load renders one page in a fresh tab. The tab is closed on every return path.
func (b *Browser) Load(ctx context.Context, req fetcher.Request) (fetcher.Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}

	meta := newResponseMeta()
	idle := newIdleTracker()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		meta.captureEvent(ev)
		idle.captureEvent(ev)
	})

	start := time.Now()
	if err := chromedp.Run(tabCtx, b.setupAction(), chromedp.Navigate(req.URL)); err != nil {
		return fetcher.Page{}, fmt.Errorf("navigate %s: %w", req.URL, err)
	}
	if err := b.waitSettled(tabCtx, idle, req.URL); err != nil {
		return fetcher.Page{}, err
	}

	var html, finalURL string
	if err := chromedp.Run(tabCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return fetcher.Page{}, fmt.Errorf("read rendered html: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(req.URL, finalURL)
	return fetcher.Page{
		URL:        req.URL,
		FinalURL:   responseURL,
		StatusCode: status,
		HTML:       html,
		Backend:    fetcher.BackendRendered,
		Duration:   time.Since(start),
	}, nil
}

// waitSettled waits for network idle and falls back to DOM readiness when idle never arrives.
func (b *Browser) waitSettled(ctx context.Context, idle *idleTracker, rawURL string) error {
	err := idle.wait(ctx, b.cfg.NetworkIdleTimeout)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("wait network idle: %w", ctx.Err())
	}
	b.logger.Debug("network idle timed out; waiting for DOM ready",
		zap.String("url", rawURL), zap.Duration("timeout", b.cfg.NetworkIdleTimeout))

	readyCtx, cancel := context.WithTimeout(ctx, b.cfg.DOMReadyTimeout)
	defer cancel()
	if err := chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDOMNotReady, rawURL, err)
	}
	return nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// idleTracker records networkIdle lifecycle events per loader and the main frame's current loader.
type idleTracker struct {
	mu         sync.Mutex
	mainLoader cdp.LoaderID
	idle       map[cdp.LoaderID]struct{}
	notify     chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		idle:   make(map[cdp.LoaderID]struct{}),
		notify: make(chan struct{}, 1),
	}
}

func (t *idleTracker) captureEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		t.mu.Lock()
		t.mainLoader = e.Frame.LoaderID
		t.mu.Unlock()
	case *page.EventLifecycleEvent:
		if e.Name != "networkIdle" {
			return
		}
		t.mu.Lock()
		t.idle[e.LoaderID] = struct{}{}
		t.mu.Unlock()
	default:
		return
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *idleTracker) settled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mainLoader == "" {
		return false
	}
	_, ok := t.idle[t.mainLoader]
	return ok
}

func (t *idleTracker) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for !t.settled() {
		select {
		case <-t.notify:
		case <-timer.C:
			return context.DeadlineExceeded
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
