package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/ski-resort-crawler/internal/app"
	"github.com/JakeFAU/ski-resort-crawler/internal/config"
	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
	memorypublisher "github.com/JakeFAU/ski-resort-crawler/internal/publisher/memory"
	memorystore "github.com/JakeFAU/ski-resort-crawler/internal/storage/memory"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

const altaPage = `<html><head><title>Alta Ski Area</title></head>
<body><h1>Alta Ski Area</h1><p>Total lifts: 11</p></body></html>`

type pageFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	gate  chan struct{}
}

func (f *pageFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Page, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return fetcher.Page{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.pages[req.URL]
	if !ok {
		return fetcher.Page{}, errors.New("connection refused")
	}
	return fetcher.Page{URL: req.URL, FinalURL: req.URL, StatusCode: http.StatusOK, HTML: body, Backend: fetcher.BackendStatic}, nil
}

var fixedNow = time.Date(2025, time.December, 1, 8, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, seeds ...string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Driver = config.DriverMemory
	cfg.Crawler.DelayMinSeconds = 0
	cfg.Crawler.DelayMaxSeconds = 0
	cfg.Crawler.MaxRetries = 1
	cfg.Crawler.RenderMode = config.RenderNever
	cfg.Headless.Enabled = false
	cfg.Discovery.SeedURLs = seeds
	return cfg
}

func TestRunOnceRecordsLedgerAndResort(t *testing.T) {
	t.Parallel()

	st := memorystore.NewRecordStore()
	pub := memorypublisher.New()
	cfg := testConfig(t, "https://www.alta.com/", "https://down.example.com/")
	cfg.Publisher.Topic = "resorts"
	cfg.Publisher.ProjectID = "local"

	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t),
		app.WithStore(st),
		app.WithPublisher(pub),
		app.WithFetcher(&pageFetcher{pages: map[string]string{"https://www.alta.com/": altaPage}}),
		app.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	defer a.Close()

	run, report, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Discovered)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, store.RunSuccess, run.Status)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, store.RunSuccess, runs[0].Status)
	assert.Equal(t, 1, runs[0].Counts.Succeeded)
	require.NotNil(t, runs[0].FinishedAt)

	resort, err := st.GetResort(context.Background(), "https://www.alta.com/")
	require.NoError(t, err)
	require.NotNil(t, resort.Name)
	assert.Equal(t, "Alta Ski Area", *resort.Name)
	require.NotNil(t, resort.LiftCount)
	assert.Equal(t, 11, *resort.LiftCount)

	assert.Len(t, pub.Messages(), 1)
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	st := memorystore.NewRecordStore()
	a, err := app.New(context.Background(), testConfig(t, "https://www.alta.com/"), zaptest.NewLogger(t),
		app.WithStore(st),
		app.WithFetcher(&pageFetcher{pages: map[string]string{"https://www.alta.com/": altaPage}, gate: gate}),
	)
	require.NoError(t, err)

	require.True(t, a.Trigger())
	assert.False(t, a.Trigger())
	_, _, err = a.RunOnce(context.Background())
	require.ErrorIs(t, err, app.ErrRunInProgress)

	close(gate)
	a.Close()

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunSuccess, runs[0].Status)
}

func TestRunOnceMarksCancelledRunAsError(t *testing.T) {
	t.Parallel()

	st := memorystore.NewRecordStore()
	a, err := app.New(context.Background(), testConfig(t, "https://www.alta.com/"), zaptest.NewLogger(t),
		app.WithStore(st),
		app.WithFetcher(&pageFetcher{pages: map[string]string{}}),
	)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, _, err := a.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, store.RunError, run.Status)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunError, runs[0].Status)
	require.NotNil(t, runs[0].ErrorMessage)
}

func TestStatusHandlerServesProbes(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t, "https://www.alta.com/"), zaptest.NewLogger(t),
		app.WithStore(memorystore.NewRecordStore()),
		app.WithFetcher(&pageFetcher{}),
	)
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.StatusHandler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/runs"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestNewOpensConfiguredStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.DSN = t.TempDir() + "/crawl.db"

	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t), app.WithFetcher(&pageFetcher{}))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Store().Ping(context.Background()))
	runs, err := a.Store().ListRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
