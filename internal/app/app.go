// Package app initializes and holds long-lived crawl services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ski-resort-crawler/internal/api"
	"github.com/JakeFAU/ski-resort-crawler/internal/config"
	"github.com/JakeFAU/ski-resort-crawler/internal/crawler"
	"github.com/JakeFAU/ski-resort-crawler/internal/discovery"
	"github.com/JakeFAU/ski-resort-crawler/internal/extract"
	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/ski-resort-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/ski-resort-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
	"github.com/JakeFAU/ski-resort-crawler/internal/nlp"
	"github.com/JakeFAU/ski-resort-crawler/internal/patternbank"
	"github.com/JakeFAU/ski-resort-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/ski-resort-crawler/internal/policy/robots"
	gcppublisher "github.com/JakeFAU/ski-resort-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ski-resort-crawler/internal/storage"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
	"github.com/JakeFAU/ski-resort-crawler/internal/telemetry"
	"github.com/JakeFAU/ski-resort-crawler/internal/urlutil"
)

// ErrRunInProgress is returned when a crawl is requested while another one is still running.
var ErrRunInProgress = errors.New("crawl already in progress")

// Option overrides a component New would otherwise build from configuration.
type Option func(*options)

type options struct {
	store     store.RecordStore
	fetcher   crawler.Fetcher
	search    discovery.SearchSource
	publisher crawler.Publisher
	now       func() time.Time
}

// WithStore injects a record store instead of opening store.driver.
func WithStore(s store.RecordStore) Option {
	return func(o *options) { o.store = s }
}

// WithFetcher replaces the robots-gated fetch pool.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithSearchSource replaces the HTTP search client used by discovery.
func WithSearchSource(s discovery.SearchSource) Option {
	return func(o *options) { o.search = s }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock overrides the time source used for run bookkeeping and extraction.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// App holds the shared services of one process. It is built once at startup and closed
// when the command finishes.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   store.RecordStore
	bank    *patternbank.Bank
	engine  *crawler.Engine
	now     func() time.Time
	running atomic.Bool
	// bg is the context background runs started by Trigger inherit.
	bg context.Context

	closers []func() error
	wg      sync.WaitGroup
}

// New builds every crawl component from cfg. Any component that cannot be initialized
// fails startup, except the headless browser, whose absence downgrades JS renders to
// static loads.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, now: o.now, bg: ctx}

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	}

	st := o.store
	if st == nil {
		var err error
		st, err = storage.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		if err := st.Migrate(ctx); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
	}
	a.store = st
	logger.Info("Record store ready", zap.String("driver", cfg.Store.Driver))

	minDelay, maxDelay := cfg.Crawler.DelayRange()
	throttle := ratelimit.New(ratelimit.Config{MinDelay: minDelay, MaxDelay: maxDelay})

	f := o.fetcher
	if f == nil {
		pool, err := a.buildPool(throttle)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		f = pool
	}

	a.bank = patternbank.New(st, extract.DefaultPatterns(), logger.Named("patternbank"))
	extractor := extract.New(a.bank, newRecognizer(cfg.Extraction, logger.Named("nlp")), extract.Config{
		EntityPrefixChars:   cfg.Extraction.EntityPrefixChars,
		HeuristicSimilarity: cfg.Extraction.HeuristicSimilarity,
		HeuristicWindow:     cfg.Extraction.HeuristicWindow,
	}, logger.Named("extract"), extract.WithClock(o.now))

	search := o.search
	if search == nil && cfg.Discovery.SearchEndpoint != "" {
		src, err := discovery.NewHTTPSearchSource(
			cfg.Discovery.SearchEndpoint,
			cfg.Crawler.UserAgent,
			cfg.Discovery.SearchInterval,
			cfg.Crawler.FetchTimeout,
		)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("init search source: %w", err)
		}
		search = src
	}
	disc, err := discovery.New(discovery.Config{
		MaxURLs:             cfg.Discovery.MaxURLs,
		SeedURLs:            cfg.Discovery.SeedURLs,
		ListPages:           cfg.Discovery.ListPages,
		SearchQueries:       cfg.Discovery.SearchQueries,
		ResultsPerQuery:     cfg.Discovery.SearchResultsPerQuery,
		LinkKeywords:        cfg.Discovery.LinkKeywords,
		URLPatterns:         cfg.Discovery.URLPatterns,
		AggregatorDomains:   cfg.Discovery.AggregatorDomains,
		KeepAggregatorLinks: cfg.Discovery.KeepAggregatorLinks,
		DenyDomains:         cfg.Discovery.DenyDomains,
		RenderJS:            cfg.Discovery.RenderJS,
		Concurrency:         cfg.Crawler.Concurrency,
	}, f, search, logger.Named("discovery"))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("init discovery: %w", err)
	}

	engineOpts := []crawler.Option{crawler.WithClock(o.now)}
	pub := o.publisher
	if pub == nil && cfg.Publisher.Topic != "" {
		logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", cfg.Publisher.Topic))
		p, err := gcppublisher.Dial(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		pub = p
	}
	if pub != nil {
		engineOpts = append(engineOpts, crawler.WithPublisher(pub))
	}

	a.engine, err = crawler.New(
		crawler.Config{
			Concurrency:  cfg.Crawler.Concurrency,
			RenderJS:     cfg.Crawler.RenderMode == config.RenderAlways,
			FetchTimeout: cfg.Crawler.FetchTimeout,
			Topic:        cfg.Publisher.Topic,
		},
		disc,
		f,
		extractor,
		st,
		crawler.NewExponentialRetryPolicy(cfg.Crawler.MaxRetries, cfg.Crawler.RetryBaseDelay, cfg.Crawler.RetryMaxDelay),
		throttle,
		logger.Named("crawler"),
		engineOpts...,
	)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	logger.Info("Application services initialized")
	return a, nil
}

func (a *App) buildPool(throttle *ratelimit.Throttle) (*fetcher.Pool, error) {
	cfg := a.cfg
	var trusted []string
	if cfg.Crawler.TrustSeedHosts {
		for _, seed := range cfg.Discovery.SeedURLs {
			if host := urlutil.Host(seed); host != "" {
				trusted = append(trusted, host)
			}
		}
	}
	gate := robots.New(robots.Config{
		Respect:      cfg.Crawler.RespectRobots,
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.Crawler.RobotsTimeout,
		TrustedHosts: trusted,
	}, a.logger.Named("robots"))

	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.FetchTimeout,
	})

	var poolOpts []fetcher.Option
	if cfg.Headless.Enabled && cfg.Crawler.RenderMode != config.RenderNever {
		browser, err := headlessfetcher.New(headlessfetcher.Config{
			UserAgent:          cfg.Crawler.UserAgent,
			NetworkIdleTimeout: cfg.Headless.NetworkIdleTimeout,
			DOMReadyTimeout:    cfg.Headless.DOMReadyTimeout,
			NoSandbox:          cfg.Headless.NoSandbox,
		}, a.logger.Named("headless"))
		if err != nil {
			a.logger.Warn("Headless browser init failed; JS renders fall back to static loads", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() error { browser.Close(); return nil })
			poolOpts = append(poolOpts, fetcher.WithRenderer(browser))
		}
	}
	if cfg.Crawler.RenderMode == config.RenderAuto {
		poolOpts = append(poolOpts, fetcher.WithDetector(fetcher.NewShellDetector(cfg.Crawler.AutoPromoteMinBytes)))
	}

	pool, err := fetcher.NewPool(fetcher.Config{
		MaxConcurrency: cfg.Crawler.Concurrency,
		DefaultTimeout: cfg.Crawler.FetchTimeout,
	}, static, gate, throttle, a.logger.Named("fetcher"), poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("init fetch pool: %w", err)
	}
	return pool, nil
}

// Store exposes the record store.
func (a *App) Store() store.RecordStore {
	return a.store
}

// Bank exposes the pattern bank backed by the record store.
func (a *App) Bank() *patternbank.Bank {
	return a.bank
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunOnce executes one crawl and records it in the run ledger. A run that is cancelled or
// fails discovery is still completed in the ledger with status error.
func (a *App) RunOnce(ctx context.Context) (store.CrawlRun, crawler.RunReport, error) {
	if !a.running.CompareAndSwap(false, true) {
		return store.CrawlRun{}, crawler.RunReport{}, ErrRunInProgress
	}
	defer a.running.Store(false)
	return a.run(ctx)
}

func (a *App) run(ctx context.Context) (store.CrawlRun, crawler.RunReport, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	run := store.CrawlRun{ID: id, StartedAt: a.now().UTC(), Status: store.RunRunning}
	if err := a.store.StartRun(ctx, run.ID, run.StartedAt); err != nil {
		return run, crawler.RunReport{}, fmt.Errorf("start run: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", run.ID.String()))
	logger.Info("Crawl run started")

	report, runErr := a.engine.Run(ctx)
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	finished := a.now().UTC()
	run.FinishedAt = &finished
	run.Status = store.RunSuccess
	run.Counts = store.RunCounts{
		Discovered:    report.Discovered,
		Succeeded:     report.Succeeded,
		Blocked:       report.Blocked,
		Failed:        report.Failed,
		Skipped:       report.Skipped,
		PersistErrors: report.PersistErrors,
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = store.RunError
		run.ErrorMessage = &msg
	}

	// The ledger row is closed even when ctx was cancelled.
	if err := a.store.CompleteRun(context.WithoutCancel(ctx), run.ID, finished, run.Status, run.Counts, run.ErrorMessage); err != nil {
		logger.Error("Failed to complete run record", zap.Error(err))
		return run, report, errors.Join(runErr, fmt.Errorf("complete run: %w", err))
	}
	logger.Info("Crawl run finished",
		zap.String("status", string(run.Status)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration()),
	)
	return run, report, runErr
}

// Trigger starts a crawl in the background. It reports false when one is already running.
func (a *App) Trigger() bool {
	if !a.running.CompareAndSwap(false, true) {
		return false
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)
		if _, _, err := a.run(a.bg); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("Triggered crawl failed", zap.Error(err))
		}
	}()
	return true
}

// StatusHandler returns the status listener's router.
func (a *App) StatusHandler() http.Handler {
	return api.NewServer(a.store, a, a.logger.Named("api")).Handler()
}

// ServeStatus runs the status listener on metrics.addr until ctx is done. It returns
// immediately when no address is configured.
func (a *App) ServeStatus(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           a.StatusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Status server started", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

// Close waits for triggered runs and releases every service in reverse order of creation.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	a.wg.Wait()
	a.closeAll()
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

func newRecognizer(cfg config.ExtractionConfig, logger *zap.Logger) nlp.Recognizer {
	if cfg.Recognizer == config.RecognizerRules {
		return nlp.NewRuleRecognizer()
	}
	return nlp.NewModelRecognizer(logger)
}
