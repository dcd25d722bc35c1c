package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/storage/memory"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

type staticDiscoverer struct {
	urls []string
	err  error
}

func (d staticDiscoverer) Discover(context.Context) ([]string, error) {
	return d.urls, d.err
}

type fetchResult struct {
	page fetcher.Page
	err  error
}

// scriptedFetcher replays per-URL results in order; the last result repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchResult
	calls   map[string]int
}

func newScriptedFetcher(scripts map[string][]fetchResult) *scriptedFetcher {
	return &scriptedFetcher{scripts: scripts, calls: make(map[string]int)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Page, error) {
	if err := ctx.Err(); err != nil {
		return fetcher.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[req.URL]
	f.calls[req.URL]++
	script := f.scripts[req.URL]
	if len(script) == 0 {
		return fetcher.Page{}, errors.New("no route to host")
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].page, script[n].err
}

func (f *scriptedFetcher) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func okPage(html string) fetchResult {
	return fetchResult{page: fetcher.Page{StatusCode: http.StatusOK, HTML: html}}
}

func failWith(err error) fetchResult {
	return fetchResult{err: err}
}

// mapExtractor returns canned extractions keyed by page body.
type mapExtractor map[string]model.Extractions

func (m mapExtractor) ExtractAll(_ context.Context, html string) model.Extractions {
	return m[html]
}

type recordingPause struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPause) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
}

func (p *recordingPause) all() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.delays...)
}

type fixedPacer time.Duration

func (p fixedPacer) Delay() time.Duration { return time.Duration(p) }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []ResortEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, payload.(ResortEvent))
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

var fixedNow = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

func text(field model.Field, v string, m model.Method) model.Extraction {
	return model.Extraction{Field: field, Value: model.TextValue(v), Method: m, Confidence: m.Confidence(), Snippet: v}
}

func number(field model.Field, v float64, m model.Method) model.Extraction {
	return model.Extraction{Field: field, Value: model.NumberValue(v), Method: m, Confidence: m.Confidence()}
}

type harness struct {
	engine *Engine
	store  *memory.RecordStore
	pause  *recordingPause
}

func newHarness(t *testing.T, cfg Config, urls []string, f Fetcher, x Extractor, opts ...Option) harness {
	t.Helper()
	return newLoggedHarness(t, zaptest.NewLogger(t), cfg, urls, f, x, opts...)
}

func newLoggedHarness(t *testing.T, logger *zap.Logger, cfg Config, urls []string, f Fetcher, x Extractor, opts ...Option) harness {
	t.Helper()
	s := memory.NewRecordStore()
	pause := &recordingPause{}
	opts = append([]Option{WithPauser(pause), WithClock(func() time.Time { return fixedNow })}, opts...)
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	e, err := New(cfg, staticDiscoverer{urls: urls}, f, x, s,
		NewExponentialRetryPolicy(3, time.Second, 8*time.Second), fixedPacer(2*time.Second),
		logger, opts...)
	require.NoError(t, err)
	return harness{engine: e, store: s, pause: pause}
}

func TestRunNeverFetchesOrStoresRobotsBlockedURL(t *testing.T) {
	const u = "https://private.example/resort"
	f := newScriptedFetcher(map[string][]fetchResult{
		u: {failWith(fmt.Errorf("%s: %w", u, fetcher.ErrBlocked))},
	})
	h := newHarness(t, Config{}, []string{u}, f, mapExtractor{})

	report, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 1, f.count(u), "blocked URLs are not retried")
	assert.Empty(t, h.store.RawPages())
	_, err = h.store.GetResort(context.Background(), u)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	const u = "https://www.whistlerblackcomb.com/"
	f := newScriptedFetcher(map[string][]fetchResult{
		u: {
			failWith(errors.New("connection reset")),
			failWith(fmt.Errorf("503: %w", fetcher.ErrTransientStatus)),
			okPage("<html>whistler</html>"),
		},
	})
	x := mapExtractor{"<html>whistler</html>": {
		model.FieldName: text(model.FieldName, "Whistler Blackcomb", model.MethodPattern),
	}}
	h := newHarness(t, Config{}, []string{u}, f, x)

	report, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, f.count(u))

	pages := h.store.RawPages()
	require.Len(t, pages, 1, "only the successful attempt is recorded")
	assert.Equal(t, http.StatusOK, pages[0].StatusCode)
	assert.True(t, pages[0].Processed)
	assert.Equal(t, "www.whistlerblackcomb.com", pages[0].Domain)

	resort, err := h.store.GetResort(context.Background(), u)
	require.NoError(t, err)
	require.NotNil(t, resort.Name)
	assert.Equal(t, "Whistler Blackcomb", *resort.Name)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}, h.pause.all(),
		"two backoff pauses then the politeness pause")
}

func TestRunAbandonsAfterRetryCap(t *testing.T) {
	const u = "https://down.example/"
	f := newScriptedFetcher(map[string][]fetchResult{u: {failWith(errors.New("timeout"))}})
	h := newHarness(t, Config{}, []string{u}, f, mapExtractor{})

	report, err := h.engine.Run(context.Background())
	require.NoError(t, err, "individual URL failures never fail the run")
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, f.count(u))
	assert.Empty(t, h.store.RawPages())
	assert.Empty(t, h.store.Logs())
}

func TestRunMergesAcrossPasses(t *testing.T) {
	const u = "https://www.zermatt.ch/en"
	f := newScriptedFetcher(map[string][]fetchResult{u: {okPage("first"), okPage("second")}})
	x := mapExtractor{
		"first": {
			model.FieldName:    text(model.FieldName, "Zermatt", model.MethodPattern),
			model.FieldCountry: text(model.FieldCountry, "Switzerland", model.MethodEntity),
		},
		"second": {
			model.FieldSnowfall: number(model.FieldSnowfall, 78.74, model.MethodHeuristic),
		},
	}
	h := newHarness(t, Config{}, []string{u}, f, x)

	_, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	_, err = h.engine.Run(context.Background())
	require.NoError(t, err)

	resort, err := h.store.GetResort(context.Background(), u)
	require.NoError(t, err)
	require.NotNil(t, resort.Name)
	assert.Equal(t, "Zermatt", *resort.Name)
	require.NotNil(t, resort.Country)
	assert.Equal(t, "Switzerland", *resort.Country)
	require.NotNil(t, resort.SnowfallInches)
	assert.InDelta(t, 78.74, *resort.SnowfallInches, 1e-9)
	assert.Len(t, resort.Raw, 3)
	assert.Len(t, h.store.RawPages(), 2, "raw pages are append-only")
	assert.Len(t, h.store.Logs(), 3, "one log row per extracted field")
}

func TestRunReportsEveryOutcome(t *testing.T) {
	urls := []string{
		"https://good.example/",
		"https://blocked.example/",
		"https://broken.example/",
		"ftp://files.example/",
		"https://empty.example/",
	}
	f := newScriptedFetcher(map[string][]fetchResult{
		"https://good.example/":    {okPage("good")},
		"https://blocked.example/": {failWith(fetcher.ErrBlocked)},
		"https://broken.example/":  {failWith(errors.New("dns"))},
		"https://empty.example/":   {okPage("nothing here")},
	})
	x := mapExtractor{"good": {model.FieldLiftCount: {Field: model.FieldLiftCount, Value: model.IntValue(12), Method: model.MethodPattern, Confidence: 0.8}}}
	h := newHarness(t, Config{Concurrency: 3}, urls, f, x)

	report, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Discovered)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 1, report.FieldsFound)
	assert.Equal(t, report.Discovered, report.Succeeded+report.Blocked+report.Failed+report.Skipped)
	assert.Equal(t, fixedNow, report.StartedAt)

	_, err = h.store.GetResort(context.Background(), "https://empty.example/")
	require.ErrorIs(t, err, store.ErrNotFound, "no resort row without extracted fields")
	assert.Len(t, h.store.RawPages(), 2)
}

func TestRunTracesEveryFetchedURL(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	f := newScriptedFetcher(map[string][]fetchResult{
		"https://good.example/":   {okPage("good")},
		"https://broken.example/": {failWith(errors.New("dns"))},
	})
	x := mapExtractor{"good": {model.FieldLiftCount: {Field: model.FieldLiftCount, Value: model.IntValue(12), Method: model.MethodPattern, Confidence: 0.8}}}
	h := newHarness(t, Config{}, []string{"https://good.example/", "https://broken.example/"}, f, x, WithTracerProvider(tp))

	_, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	outcomes := map[string]string{}
	statuses := map[string]codes.Code{}
	for _, span := range rec.Ended() {
		assert.Equal(t, "crawler.url", span.Name())
		var u, outcome string
		for _, kv := range span.Attributes() {
			switch kv.Key {
			case attribute.Key("url.full"):
				u = kv.Value.AsString()
			case attribute.Key("crawler.outcome"):
				outcome = kv.Value.AsString()
			}
		}
		outcomes[u] = outcome
		statuses[u] = span.Status().Code
	}
	assert.Equal(t, map[string]string{
		"https://good.example/":   OutcomeSucceeded,
		"https://broken.example/": OutcomeFailed,
	}, outcomes)
	assert.Equal(t, codes.Error, statuses["https://broken.example/"])
	assert.Equal(t, codes.Unset, statuses["https://good.example/"])
}

func TestRunPausesAfterEveryProcessedURL(t *testing.T) {
	urls := []string{"https://a.example/", "https://b.example/"}
	f := newScriptedFetcher(map[string][]fetchResult{
		"https://a.example/": {okPage("a")},
		"https://b.example/": {failWith(fetcher.ErrBlocked)},
	})
	h := newHarness(t, Config{}, urls, f, mapExtractor{})

	_, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.pause.all())
}

func TestRunStopsAdmittingAfterCancel(t *testing.T) {
	urls := []string{"https://a.example/", "https://b.example/", "https://c.example/"}
	f := newScriptedFetcher(map[string][]fetchResult{})
	h := newHarness(t, Config{}, urls, f, mapExtractor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Skipped)
	for _, u := range urls {
		assert.Zero(t, f.count(u))
	}
}

func TestRunLogsOutcomesAtSeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	urls := []string{"https://private.example/", "https://down.example/"}
	f := newScriptedFetcher(map[string][]fetchResult{
		"https://private.example/": {failWith(fetcher.ErrBlocked)},
		"https://down.example/":    {failWith(errors.New("timeout"))},
	})
	h := newLoggedHarness(t, zap.New(core), Config{Concurrency: 1}, urls, f, mapExtractor{})

	_, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	levels := func(msg string) []zapcore.Level {
		var out []zapcore.Level
		for _, entry := range logs.FilterMessage(msg).All() {
			out = append(out, entry.Level)
		}
		return out
	}
	assert.Equal(t, []zapcore.Level{zapcore.WarnLevel}, levels("Blocked by robots.txt"))
	assert.Equal(t, []zapcore.Level{zapcore.WarnLevel, zapcore.WarnLevel}, levels("Retrying fetch"))
	assert.Equal(t, []zapcore.Level{zapcore.ErrorLevel}, levels("Fetch abandoned"))
}

// hangingFetcher blocks every fetch until ctx is done.
type hangingFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (f *hangingFetcher) Fetch(ctx context.Context, _ fetcher.Request) (fetcher.Page, error) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return fetcher.Page{}, fmt.Errorf("navigate: %w", ctx.Err())
}

func TestRunReportsInterruptedFetchAsSkipped(t *testing.T) {
	f := &hangingFetcher{started: make(chan struct{})}
	h := newHarness(t, Config{Concurrency: 1}, []string{"https://slow.example/"}, f, mapExtractor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan RunReport, 1)
	go func() {
		report, err := h.engine.Run(ctx)
		assert.NoError(t, err)
		done <- report
	}()

	<-f.started
	cancel()
	select {
	case report := <-done:
		assert.Equal(t, 1, report.Skipped)
		assert.Zero(t, report.Failed)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancel")
	}
	assert.Empty(t, h.pause.all(), "no politeness pause after shutdown")
	assert.Empty(t, h.store.RawPages())
}

func TestRunSkipsHostAfterForbiddenResponses(t *testing.T) {
	urls := []string{"https://walled.example/a", "https://walled.example/b", "https://open.example/"}
	forbidden := fetchResult{page: fetcher.Page{StatusCode: http.StatusForbidden, HTML: "denied"}}
	f := newScriptedFetcher(map[string][]fetchResult{
		"https://walled.example/a": {forbidden},
		"https://walled.example/b": {okPage("b")},
		"https://open.example/":    {okPage("open")},
	})
	h := newHarness(t, Config{Concurrency: 1, ForbiddenThreshold: 1}, urls, f, mapExtractor{})

	report, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, f.count("https://walled.example/b"))

	pages := h.store.RawPages()
	require.Len(t, pages, 2)
	assert.Equal(t, http.StatusForbidden, pages[0].StatusCode)
	assert.False(t, pages[0].Processed)
}

func TestRunPublishesResortEvents(t *testing.T) {
	const u = "https://www.laax.com/"
	f := newScriptedFetcher(map[string][]fetchResult{u: {okPage("laax")}})
	x := mapExtractor{"laax": {
		model.FieldName:    text(model.FieldName, "Laax", model.MethodPattern),
		model.FieldDayPass: number(model.FieldDayPass, 89, model.MethodEntity),
	}}
	pub := &recordingPublisher{}
	h := newHarness(t, Config{Topic: "resort-updates"}, []string{u}, f, x, WithPublisher(pub))

	_, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "resort-updates", pub.topics[0])
	assert.Equal(t, ResortEvent{URL: u, Fields: []string{"day_pass_price", "name"}, UpdatedAt: fixedNow}, pub.events[0])
}

func TestRunReturnsDiscoveryError(t *testing.T) {
	s := memory.NewRecordStore()
	e, err := New(Config{Concurrency: 1}, staticDiscoverer{err: context.Canceled},
		newScriptedFetcher(nil), mapExtractor{}, s, nil, nil, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{Concurrency: 1}, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)

	_, err = New(Config{}, staticDiscoverer{}, newScriptedFetcher(nil), mapExtractor{}, memory.NewRecordStore(), nil, nil, nil)
	require.Error(t, err)
}
