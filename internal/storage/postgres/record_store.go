// Package postgres implements store.RecordStore on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// RecordStore is the Postgres-backed store.RecordStore.
type RecordStore struct {
	pool pool
	now  func() time.Time
}

var _ store.RecordStore = (*RecordStore)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: p, now: time.Now}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*RecordStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &RecordStore{pool: p, now: time.Now}, nil
}

// Close releases the pool.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const migration = `
CREATE TABLE IF NOT EXISTS resorts (
	url               TEXT PRIMARY KEY,
	name              TEXT,
	country           TEXT,
	continent         TEXT,
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	snowfall_inches   DOUBLE PRECISION,
	opening_date      DATE,
	closing_date      DATE,
	lift_count        INTEGER,
	runs_easy         INTEGER,
	runs_intermediate INTEGER,
	runs_advanced     INTEGER,
	day_pass_usd      DOUBLE PRECISION,
	season_pass_usd   DOUBLE PRECISION,
	raw               JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_pages (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	domain        TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	html          TEXT NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL,
	processed     BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS extraction_patterns (
	id         TEXT PRIMARY KEY,
	field      TEXT NOT NULL,
	pattern    TEXT NOT NULL,
	source     TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (field, pattern)
);

CREATE TABLE IF NOT EXISTS extraction_logs (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	method     TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id             UUID PRIMARY KEY,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	status         TEXT NOT NULL,
	discovered     INTEGER NOT NULL DEFAULT 0,
	succeeded      INTEGER NOT NULL DEFAULT 0,
	blocked        INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	skipped        INTEGER NOT NULL DEFAULT 0,
	persist_errors INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT
);

CREATE INDEX IF NOT EXISTS idx_raw_pages_url ON raw_pages(url);
CREATE INDEX IF NOT EXISTS idx_extraction_logs_url ON extraction_logs(url);
CREATE INDEX IF NOT EXISTS idx_extraction_patterns_field ON extraction_patterns(field, confidence DESC);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_started_at ON crawl_runs(started_at DESC);
`

// Migrate creates the schema.
func (s *RecordStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migration); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

const resortColumns = `url, name, country, continent, latitude, longitude, snowfall_inches,
	opening_date, closing_date, lift_count, runs_easy, runs_intermediate, runs_advanced,
	day_pass_usd, season_pass_usd, raw, created_at, updated_at`

const upsertResort = `
INSERT INTO resorts (` + resortColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
ON CONFLICT (url) DO UPDATE SET
	name              = COALESCE(EXCLUDED.name, resorts.name),
	country           = COALESCE(EXCLUDED.country, resorts.country),
	continent         = COALESCE(EXCLUDED.continent, resorts.continent),
	latitude          = COALESCE(EXCLUDED.latitude, resorts.latitude),
	longitude         = COALESCE(EXCLUDED.longitude, resorts.longitude),
	snowfall_inches   = COALESCE(EXCLUDED.snowfall_inches, resorts.snowfall_inches),
	opening_date      = COALESCE(EXCLUDED.opening_date, resorts.opening_date),
	closing_date      = COALESCE(EXCLUDED.closing_date, resorts.closing_date),
	lift_count        = COALESCE(EXCLUDED.lift_count, resorts.lift_count),
	runs_easy         = COALESCE(EXCLUDED.runs_easy, resorts.runs_easy),
	runs_intermediate = COALESCE(EXCLUDED.runs_intermediate, resorts.runs_intermediate),
	runs_advanced     = COALESCE(EXCLUDED.runs_advanced, resorts.runs_advanced),
	day_pass_usd      = COALESCE(EXCLUDED.day_pass_usd, resorts.day_pass_usd),
	season_pass_usd   = COALESCE(EXCLUDED.season_pass_usd, resorts.season_pass_usd),
	raw               = resorts.raw || EXCLUDED.raw,
	updated_at        = EXCLUDED.updated_at
RETURNING ` + resortColumns

// UpsertResort merges resort into the row keyed by URL in one statement.
func (s *RecordStore) UpsertResort(ctx context.Context, resort model.Resort) (model.Resort, error) {
	if resort.URL == "" {
		return model.Resort{}, errors.New("resort url is required")
	}
	raw, err := store.EncodeRaw(resort.Raw)
	if err != nil {
		return model.Resort{}, err
	}
	updated := resort.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	row := s.pool.QueryRow(ctx, upsertResort,
		resort.URL,
		resort.Name,
		resort.Country,
		resort.Continent,
		resort.Latitude,
		resort.Longitude,
		resort.SnowfallInches,
		resort.OpeningDate,
		resort.ClosingDate,
		resort.LiftCount,
		resort.RunsEasy,
		resort.RunsIntermediate,
		resort.RunsAdvanced,
		resort.DayPassUSD,
		resort.SeasonPassUSD,
		raw,
		updated.UTC(),
	)
	out, err := scanResort(row)
	if err != nil {
		return model.Resort{}, fmt.Errorf("upsert resort %s: %w", resort.URL, err)
	}
	return out, nil
}

// GetResort loads one resort row.
func (s *RecordStore) GetResort(ctx context.Context, url string) (model.Resort, error) {
	r, err := scanResort(s.pool.QueryRow(ctx, `SELECT `+resortColumns+` FROM resorts WHERE url = $1`, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Resort{}, store.ErrNotFound
	}
	if err != nil {
		return model.Resort{}, fmt.Errorf("get resort %s: %w", url, err)
	}
	return r, nil
}

// ListResorts returns resorts ordered by URL.
func (s *RecordStore) ListResorts(ctx context.Context, limit, offset int) ([]model.Resort, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+resortColumns+` FROM resorts ORDER BY url LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list resorts: %w", err)
	}
	defer rows.Close()

	var out []model.Resort
	for rows.Next() {
		r, err := scanResort(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resort: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendRawPage inserts one fetch audit row.
func (s *RecordStore) AppendRawPage(ctx context.Context, p model.RawPage) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO raw_pages (id, url, domain, status_code, html, discovered_at, processed)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.URL, p.Domain, p.StatusCode, p.HTML, p.DiscoveredAt.UTC(), p.Processed)
	if err != nil {
		return fmt.Errorf("insert raw page %s: %w", p.URL, err)
	}
	return nil
}

// AppendExtractionLogs inserts every log row in one transaction.
func (s *RecordStore) AppendExtractionLogs(ctx context.Context, logs []model.ExtractionLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin extraction logs: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, l := range logs {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		ts := l.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO extraction_logs (id, url, field, value, method, confidence, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			l.ID, l.URL, string(l.Field), l.Value, string(l.Method), l.Confidence, ts.UTC()); err != nil {
			return fmt.Errorf("insert extraction log %s/%s: %w", l.URL, l.Field, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit extraction logs: %w", err)
	}
	return nil
}

// ListPatterns returns stored patterns for field by descending confidence.
func (s *RecordStore) ListPatterns(ctx context.Context, field model.Field) ([]model.ExtractionPattern, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, field, pattern, source, confidence, created_at
FROM extraction_patterns
WHERE field = $1
ORDER BY confidence DESC, created_at ASC, pattern ASC`, string(field))
	if err != nil {
		return nil, fmt.Errorf("list patterns %s: %w", field, err)
	}
	defer rows.Close()

	var out []model.ExtractionPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetOrCreatePattern inserts p unless (field, pattern) exists, then returns the stored row.
func (s *RecordStore) GetOrCreatePattern(ctx context.Context, p model.ExtractionPattern) (model.ExtractionPattern, bool, error) {
	if p.Field == "" || p.Pattern == "" {
		return model.ExtractionPattern{}, false, errors.New("pattern field and text are required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO extraction_patterns (id, field, pattern, source, confidence, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (field, pattern) DO NOTHING`,
		p.ID, string(p.Field), p.Pattern, string(p.Source), p.Confidence, p.CreatedAt.UTC())
	if err != nil {
		return model.ExtractionPattern{}, false, fmt.Errorf("insert pattern: %w", err)
	}
	stored, err := scanPattern(s.pool.QueryRow(ctx, `
SELECT id, field, pattern, source, confidence, created_at
FROM extraction_patterns
WHERE field = $1 AND pattern = $2`, string(p.Field), p.Pattern))
	if err != nil {
		return model.ExtractionPattern{}, false, err
	}
	return stored, tag.RowsAffected() > 0, nil
}

// StartRun inserts a running crawl_runs row.
func (s *RecordStore) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		id, startedAt.UTC(), string(store.RunRunning))
	if err != nil {
		return fmt.Errorf("start run %s: %w", id, err)
	}
	return nil
}

// CompleteRun records the terminal state of a run.
func (s *RecordStore) CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status store.RunStatus, counts store.RunCounts, errMsg *string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_runs
SET finished_at = $1, status = $2, discovered = $3, succeeded = $4, blocked = $5,
	failed = $6, skipped = $7, persist_errors = $8, error_message = $9
WHERE id = $10`,
		finishedAt.UTC(), string(status), counts.Discovered, counts.Succeeded, counts.Blocked,
		counts.Failed, counts.Skipped, counts.PersistErrors, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *RecordStore) ListRuns(ctx context.Context, limit int) ([]store.CrawlRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, started_at, finished_at, status, discovered, succeeded, blocked, failed, skipped,
	persist_errors, error_message
FROM crawl_runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.CrawlRun
	for rows.Next() {
		var (
			run    store.CrawlRun
			status string
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status,
			&run.Counts.Discovered, &run.Counts.Succeeded, &run.Counts.Blocked, &run.Counts.Failed,
			&run.Counts.Skipped, &run.Counts.PersistErrors, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.Status = store.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanResort(row pgx.Row) (model.Resort, error) {
	var (
		r   model.Resort
		raw []byte
	)
	if err := row.Scan(&r.URL, &r.Name, &r.Country, &r.Continent, &r.Latitude, &r.Longitude,
		&r.SnowfallInches, &r.OpeningDate, &r.ClosingDate, &r.LiftCount, &r.RunsEasy,
		&r.RunsIntermediate, &r.RunsAdvanced, &r.DayPassUSD, &r.SeasonPassUSD, &raw,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.Resort{}, err
	}
	decoded, err := store.DecodeRaw(raw)
	if err != nil {
		return model.Resort{}, err
	}
	r.Raw = decoded
	return r, nil
}

func scanPattern(row pgx.Row) (model.ExtractionPattern, error) {
	var (
		p             model.ExtractionPattern
		field, source string
	)
	if err := row.Scan(&p.ID, &field, &p.Pattern, &source, &p.Confidence, &p.CreatedAt); err != nil {
		return model.ExtractionPattern{}, fmt.Errorf("scan pattern: %w", err)
	}
	p.Field = model.Field(field)
	p.Source = model.PatternSource(source)
	return p, nil
}
