package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Crawl run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunCounts are the terminal outcome totals of one crawl run.
type RunCounts struct {
	Discovered    int
	Succeeded     int
	Blocked       int
	Failed        int
	Skipped       int
	PersistErrors int
}

// CrawlRun models one crawl_runs row.
type CrawlRun struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Counts     RunCounts
	// ErrorMessage is set only when Status is RunError.
	ErrorMessage *string
}

// ResortStore holds canonical resort rows and their audit trail.
type ResortStore interface {
	// UpsertResort merges the non-nil fields of resort into the row keyed by URL, creating it
	// when missing, and returns the stored row. The merge is atomic per URL.
	UpsertResort(ctx context.Context, resort model.Resort) (model.Resort, error)
	// GetResort loads one resort or returns ErrNotFound.
	GetResort(ctx context.Context, url string) (model.Resort, error)
	// ListResorts returns resorts ordered by URL.
	ListResorts(ctx context.Context, limit, offset int) ([]model.Resort, error)
	// AppendRawPage inserts one write-once fetch audit row.
	AppendRawPage(ctx context.Context, page model.RawPage) error
	// AppendExtractionLogs inserts per-field outcome rows.
	AppendExtractionLogs(ctx context.Context, logs []model.ExtractionLog) error
}

// PatternStore persists extraction patterns keyed by (field, pattern).
type PatternStore interface {
	// ListPatterns returns the stored patterns for field by descending confidence.
	ListPatterns(ctx context.Context, field model.Field) ([]model.ExtractionPattern, error)
	// GetOrCreatePattern inserts p unless (field, pattern) exists and returns the stored row
	// with created reporting whether the insert happened.
	GetOrCreatePattern(ctx context.Context, p model.ExtractionPattern) (model.ExtractionPattern, bool, error)
}

// RunStore records crawl run lifecycles.
type RunStore interface {
	// StartRun inserts a running row.
	StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with its counts, status and optional error.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, counts RunCounts, errMsg *string) error
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit int) ([]CrawlRun, error)
}

// RecordStore is the full persistence surface a backend provides.
type RecordStore interface {
	ResortStore
	PatternStore
	RunStore
	// Migrate creates the schema if needed.
	Migrate(ctx context.Context) error
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}
