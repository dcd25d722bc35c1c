package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/fetcher"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

// Fetcher loads one page through the robots gate and throttle.
type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (fetcher.Page, error)
}

// Discoverer produces the candidate URL set once per run. Each URL appears at most once.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// Extractor mines fields from raw HTML. Missing fields are absent from the result.
type Extractor interface {
	ExtractAll(ctx context.Context, html string) model.Extractions
}

// RecordStore persists crawl output. UpsertResort must merge atomically per URL and return
// the stored row.
type RecordStore interface {
	UpsertResort(ctx context.Context, resort model.Resort) (model.Resort, error)
	AppendRawPage(ctx context.Context, page model.RawPage) error
	AppendExtractionLogs(ctx context.Context, logs []model.ExtractionLog) error
}

// Publisher pushes resort-upserted events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Pacer draws the politeness pause applied after each URL.
type Pacer interface {
	Delay() time.Duration
}
