package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

// URL outcomes reported in RunReport and metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeBlocked   = "blocked"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

const tracerName = "github.com/JakeFAU/ski-resort-crawler/internal/crawler"

// Config bundles the engine knobs read once at startup.
type Config struct {
	Concurrency        int
	RenderJS           bool
	FetchTimeout       time.Duration
	ForbiddenThreshold int
	Topic              string
}

// RunReport summarizes one run. Every discovered URL lands in exactly one outcome bucket.
type RunReport struct {
	Discovered    int
	Succeeded     int
	Blocked       int
	Failed        int
	Skipped       int
	PersistErrors int
	FieldsFound   int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration is the wall time of the run.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ResortEvent is published after every successful upsert.
type ResortEvent struct {
	URL       string    `json:"url"`
	Fields    []string  `json:"fields"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPublisher enables resort-upserted events on cfg.Topic.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithPauser replaces the timer used for backoff and politeness pauses.
func WithPauser(p Pauser) Option {
	return func(e *Engine) { e.pause = p }
}

// Engine runs discovery once, then processes every URL with bounded concurrency.
type Engine struct {
	cfg        Config
	discoverer Discoverer
	fetcher    Fetcher
	extractor  Extractor
	store      RecordStore
	retry      RetryPolicy
	pacer      Pacer
	publisher  Publisher
	pause      Pauser
	tracer     trace.Tracer
	now        func() time.Time
	logger     *zap.Logger
}

// New wires an Engine. pacer may be nil to disable the post-URL pause.
func New(cfg Config, d Discoverer, f Fetcher, x Extractor, s RecordStore, retry RetryPolicy, pacer Pacer, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if d == nil || f == nil || x == nil || s == nil {
		return nil, errors.New("crawler: discoverer, fetcher, extractor and store are required")
	}
	if cfg.Concurrency <= 0 {
		return nil, errors.New("crawler: concurrency must be > 0")
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(1, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		discoverer: d,
		fetcher:    f,
		extractor:  x,
		store:      s,
		retry:      retry,
		pacer:      pacer,
		pause:      sleepPauser{},
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type tally struct {
	mu     sync.Mutex
	report RunReport
}

func (t *tally) outcome(o string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case OutcomeSucceeded:
		t.report.Succeeded++
	case OutcomeBlocked:
		t.report.Blocked++
	case OutcomeFailed:
		t.report.Failed++
	default:
		t.report.Skipped++
	}
	metrics.ObserveURLOutcome(o)
}

func (t *tally) persistError() {
	t.mu.Lock()
	t.report.PersistErrors++
	t.mu.Unlock()
}

func (t *tally) fields(n int) {
	t.mu.Lock()
	t.report.FieldsFound += n
	t.mu.Unlock()
}

// runState is per-run bookkeeping shared by the URL tasks.
type runState struct {
	tally     *tally
	forbidden *forbiddenHosts
}

// Run completes when every discovered URL has reached a terminal outcome. Individual URL
// failures never fail the run; only a discovery error is returned. Cancelling ctx stops
// admission of new URLs and lets in-flight fetches fail out; both are reported as skipped.
func (e *Engine) Run(ctx context.Context) (RunReport, error) {
	t := &tally{report: RunReport{StartedAt: e.now()}}
	urls, err := e.discoverer.Discover(ctx)
	if err != nil {
		t.report.FinishedAt = e.now()
		return t.report, fmt.Errorf("discover: %w", err)
	}
	t.report.Discovered = len(urls)
	e.logger.Info("Starting crawl", zap.Int("urls", len(urls)), zap.Int("concurrency", e.cfg.Concurrency))

	st := &runState{
		tally:     t,
		forbidden: newForbiddenHosts(e.cfg.ForbiddenThreshold),
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, u := range urls {
		if ctx.Err() != nil {
			t.outcome(OutcomeSkipped)
			continue
		}
		g.Go(func() error {
			e.processURL(ctx, u, st)
			return nil
		})
	}
	_ = g.Wait()

	t.mu.Lock()
	report := t.report
	t.mu.Unlock()
	report.FinishedAt = e.now()
	e.logger.Info("Crawl finished",
		zap.Int("discovered", report.Discovered),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("blocked", report.Blocked),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("persist_errors", report.PersistErrors),
		zap.Duration("duration", report.Duration()),
	)
	return report, nil
}

func (e *Engine) processURL(ctx context.Context, rawURL string, st *runState) {
	if ctx.Err() != nil {
		st.tally.outcome(OutcomeSkipped)
		return
	}
	logger := e.logger.With(zap.String("url", rawURL))
	host, err := fetcher.Domain(rawURL)
	if err != nil {
		logger.Warn("Skipping unusable URL", zap.Error(err))
		st.tally.outcome(OutcomeFailed)
		return
	}
	if st.forbidden.blocked(host) {
		logger.Debug("Skipping host after repeated forbidden responses", zap.String("host", host))
		st.tally.outcome(OutcomeSkipped)
		return
	}

	ctx, span := e.tracer.Start(ctx, "crawler.url", trace.WithAttributes(
		attribute.String("url.full", rawURL),
		attribute.String("server.address", host),
	))
	outcome := e.handle(ctx, rawURL, host, st, logger)
	span.SetAttributes(attribute.String("crawler.outcome", outcome))
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "url failed")
	}
	span.End()
	st.tally.outcome(outcome)

	if e.pacer != nil && ctx.Err() == nil {
		delay := e.pacer.Delay()
		start := time.Now()
		e.pause.Pause(ctx, delay)
		metrics.ObservePolitenessWait(time.Since(start))
	}
}

func (e *Engine) handle(ctx context.Context, rawURL, host string, st *runState, logger *zap.Logger) string {
	page, err := e.fetchWithRetry(ctx, rawURL, logger)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			logger.Debug("Fetch interrupted by shutdown", zap.Error(err))
			return OutcomeSkipped
		case errors.Is(err, fetcher.ErrBlocked):
			logger.Warn("Blocked by robots.txt")
			return OutcomeBlocked
		}
		logger.Error("Fetch abandoned", zap.Error(err))
		return OutcomeFailed
	}

	raw := model.RawPage{
		ID:           newID(),
		URL:          rawURL,
		Domain:       host,
		StatusCode:   page.StatusCode,
		HTML:         page.HTML,
		DiscoveredAt: e.now().UTC(),
	}

	if page.StatusCode >= http.StatusBadRequest {
		if page.StatusCode == http.StatusForbidden || page.StatusCode == http.StatusUnauthorized {
			if st.forbidden.record(host) {
				logger.Warn("Host blocked after repeated forbidden responses", zap.String("host", host))
			}
		}
		e.appendRawPage(ctx, raw, st, logger)
		logger.Warn("Fetch returned error status", zap.Int("status", page.StatusCode))
		return OutcomeFailed
	}

	extracted := e.extractor.ExtractAll(ctx, page.HTML)
	raw.Processed = true
	e.appendRawPage(ctx, raw, st, logger)
	st.tally.fields(len(extracted))
	if len(extracted) == 0 {
		logger.Debug("No fields extracted")
		return OutcomeSucceeded
	}

	now := e.now().UTC()
	resort := Normalize(rawURL, extracted, now)
	if !resort.Empty() {
		stored, err := e.store.UpsertResort(ctx, resort)
		if err != nil {
			st.tally.persistError()
			logger.Error("Upsert resort failed", zap.Error(err))
			return OutcomeFailed
		}
		e.publish(ctx, stored, resort, logger)
	}

	logs := make([]model.ExtractionLog, 0, len(extracted))
	for _, field := range sortedFields(extracted) {
		x := extracted[field]
		logs = append(logs, model.ExtractionLog{
			ID:         newID(),
			URL:        rawURL,
			Field:      field,
			Value:      x.Value.String(),
			Method:     x.Method,
			Confidence: x.Confidence,
			Timestamp:  now,
		})
	}
	if err := e.store.AppendExtractionLogs(ctx, logs); err != nil {
		st.tally.persistError()
		logger.Error("Append extraction logs failed", zap.Error(err))
	}
	logger.Info("Processed URL", zap.Int("fields", len(extracted)))
	return OutcomeSucceeded
}

func (e *Engine) fetchWithRetry(ctx context.Context, rawURL string, logger *zap.Logger) (fetcher.Page, error) {
	req := fetcher.Request{URL: rawURL, RenderJS: e.cfg.RenderJS, Timeout: e.cfg.FetchTimeout}
	for attempt := 1; ; attempt++ {
		page, err := e.fetcher.Fetch(ctx, req)
		if err == nil {
			return page, nil
		}
		if !e.retry.ShouldRetry(err, attempt) {
			return fetcher.Page{}, fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}
		backoff := e.retry.Backoff(attempt)
		logger.Warn("Retrying fetch", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		e.pause.Pause(ctx, backoff)
		if ctx.Err() != nil {
			return fetcher.Page{}, fmt.Errorf("after %d attempt(s): %w", attempt, ctx.Err())
		}
	}
}

func (e *Engine) appendRawPage(ctx context.Context, page model.RawPage, st *runState, logger *zap.Logger) {
	if err := e.store.AppendRawPage(ctx, page); err != nil {
		st.tally.persistError()
		logger.Error("Append raw page failed", zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, stored, incoming model.Resort, logger *zap.Logger) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	fields := make([]string, 0, len(incoming.Raw))
	for f := range incoming.Raw {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	updated := stored.UpdatedAt
	if updated.IsZero() {
		updated = incoming.UpdatedAt
	}
	event := ResortEvent{URL: incoming.URL, Fields: fields, UpdatedAt: updated}
	id, err := e.publisher.Publish(ctx, e.cfg.Topic, event)
	if err != nil {
		logger.Warn("Publish resort event failed", zap.Error(err))
		return
	}
	logger.Debug("Published resort event", zap.String("message_id", id))
}

func sortedFields(ex model.Extractions) []model.Field {
	out := make([]model.Field, 0, len(ex))
	for _, f := range model.AllFields() {
		if _, ok := ex[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
