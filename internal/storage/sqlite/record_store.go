// Package sqlite implements store.RecordStore on an embedded modernc.org/sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

const timeLayout = time.RFC3339Nano

// RecordStore is the sqlite-backed store.RecordStore.
type RecordStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.RecordStore = (*RecordStore)(nil)

// Open opens the database at dsn and configures WAL mode. One writer connection keeps the
// per-URL upsert serialized.
func Open(dsn string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &RecordStore{db: db, now: time.Now}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS resorts (
	url               TEXT PRIMARY KEY,
	name              TEXT,
	country           TEXT,
	continent         TEXT,
	latitude          REAL,
	longitude         REAL,
	snowfall_inches   REAL,
	opening_date      TEXT,
	closing_date      TEXT,
	lift_count        INTEGER,
	runs_easy         INTEGER,
	runs_intermediate INTEGER,
	runs_advanced     INTEGER,
	day_pass_usd      REAL,
	season_pass_usd   REAL,
	raw               TEXT NOT NULL DEFAULT '{}',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_pages (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	domain        TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	html          TEXT NOT NULL,
	discovered_at TEXT NOT NULL,
	processed     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS extraction_patterns (
	id         TEXT PRIMARY KEY,
	field      TEXT NOT NULL,
	pattern    TEXT NOT NULL,
	source     TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (field, pattern)
);

CREATE TABLE IF NOT EXISTS extraction_logs (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	method     TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id             TEXT PRIMARY KEY,
	started_at     TEXT NOT NULL,
	finished_at    TEXT,
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
CREATE INDEX IF NOT EXISTS idx_crawl_runs_started_at ON crawl_runs(started_at);
`

// Migrate creates the schema.
func (s *RecordStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database handle.
func (s *RecordStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

const resortColumns = `url, name, country, continent, latitude, longitude, snowfall_inches,
	opening_date, closing_date, lift_count, runs_easy, runs_intermediate, runs_advanced,
	day_pass_usd, season_pass_usd, raw, created_at, updated_at`

const upsertResort = `
INSERT INTO resorts (` + resortColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	name              = COALESCE(excluded.name, resorts.name),
	country           = COALESCE(excluded.country, resorts.country),
	continent         = COALESCE(excluded.continent, resorts.continent),
	latitude          = COALESCE(excluded.latitude, resorts.latitude),
	longitude         = COALESCE(excluded.longitude, resorts.longitude),
	snowfall_inches   = COALESCE(excluded.snowfall_inches, resorts.snowfall_inches),
	opening_date      = COALESCE(excluded.opening_date, resorts.opening_date),
	closing_date      = COALESCE(excluded.closing_date, resorts.closing_date),
	lift_count        = COALESCE(excluded.lift_count, resorts.lift_count),
	runs_easy         = COALESCE(excluded.runs_easy, resorts.runs_easy),
	runs_intermediate = COALESCE(excluded.runs_intermediate, resorts.runs_intermediate),
	runs_advanced     = COALESCE(excluded.runs_advanced, resorts.runs_advanced),
	day_pass_usd      = COALESCE(excluded.day_pass_usd, resorts.day_pass_usd),
	season_pass_usd   = COALESCE(excluded.season_pass_usd, resorts.season_pass_usd),
	raw               = json_patch(resorts.raw, excluded.raw),
	updated_at        = excluded.updated_at
RETURNING ` + resortColumns

// UpsertResort merges resort into the row keyed by URL in one statement.
func (s *RecordStore) UpsertResort(ctx context.Context, resort model.Resort) (model.Resort, error) {
	if resort.URL == "" {
		return model.Resort{}, eris.New("sqlite: resort url is required")
	}
	raw, err := store.EncodeRaw(resort.Raw)
	if err != nil {
		return model.Resort{}, eris.Wrap(err, "sqlite: upsert resort")
	}
	now := s.now().UTC()
	updated := resort.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	row := s.db.QueryRowContext(ctx, upsertResort,
		resort.URL,
		resort.Name,
		resort.Country,
		resort.Continent,
		resort.Latitude,
		resort.Longitude,
		resort.SnowfallInches,
		dateArg(resort.OpeningDate),
		dateArg(resort.ClosingDate),
		resort.LiftCount,
		resort.RunsEasy,
		resort.RunsIntermediate,
		resort.RunsAdvanced,
		resort.DayPassUSD,
		resort.SeasonPassUSD,
		string(raw),
		now.Format(timeLayout),
		updated.UTC().Format(timeLayout),
	)
	out, err := scanResort(row)
	if err != nil {
		return model.Resort{}, eris.Wrapf(err, "sqlite: upsert resort %s", resort.URL)
	}
	return out, nil
}

// GetResort loads one resort row.
func (s *RecordStore) GetResort(ctx context.Context, url string) (model.Resort, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resortColumns+` FROM resorts WHERE url = ?`, url)
	r, err := scanResort(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resort{}, store.ErrNotFound
	}
	if err != nil {
		return model.Resort{}, eris.Wrapf(err, "sqlite: get resort %s", url)
	}
	return r, nil
}

// ListResorts returns resorts ordered by URL.
func (s *RecordStore) ListResorts(ctx context.Context, limit, offset int) ([]model.Resort, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resortColumns+` FROM resorts ORDER BY url LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resorts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Resort
	for rows.Next() {
		r, err := scanResort(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resort")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list resorts iterate")
}

// AppendRawPage inserts one fetch audit row.
func (s *RecordStore) AppendRawPage(ctx context.Context, p model.RawPage) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_pages (id, url, domain, status_code, html, discovered_at, processed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.URL, p.Domain, p.StatusCode, p.HTML, p.DiscoveredAt.UTC().Format(timeLayout), p.Processed,
	)
	return eris.Wrapf(err, "sqlite: insert raw page %s", p.URL)
}

// AppendExtractionLogs inserts every log row in one transaction.
func (s *RecordStore) AppendExtractionLogs(ctx context.Context, logs []model.ExtractionLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin extraction logs")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO extraction_logs (id, url, field, value, method, confidence, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare extraction log")
	}
	defer stmt.Close() //nolint:errcheck

	for _, l := range logs {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		ts := l.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		if _, err := stmt.ExecContext(ctx, l.ID, l.URL, string(l.Field), l.Value, string(l.Method), l.Confidence, ts.UTC().Format(timeLayout)); err != nil {
			return eris.Wrapf(err, "sqlite: insert extraction log %s/%s", l.URL, l.Field)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit extraction logs")
}

// ListPatterns returns stored patterns for field by descending confidence.
func (s *RecordStore) ListPatterns(ctx context.Context, field model.Field) ([]model.ExtractionPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, field, pattern, source, confidence, created_at FROM extraction_patterns
		 WHERE field = ? ORDER BY confidence DESC, created_at ASC, pattern ASC`, string(field))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list patterns %s", field)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ExtractionPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list patterns iterate")
}

// GetOrCreatePattern inserts p unless (field, pattern) exists, then returns the stored row.
func (s *RecordStore) GetOrCreatePattern(ctx context.Context, p model.ExtractionPattern) (model.ExtractionPattern, bool, error) {
	if p.Field == "" || p.Pattern == "" {
		return model.ExtractionPattern{}, false, eris.New("sqlite: pattern field and text are required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_patterns (id, field, pattern, source, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(field, pattern) DO NOTHING`,
		p.ID, string(p.Field), p.Pattern, string(p.Source), p.Confidence, p.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return model.ExtractionPattern{}, false, eris.Wrap(err, "sqlite: insert pattern")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.ExtractionPattern{}, false, eris.Wrap(err, "sqlite: insert pattern rows affected")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, field, pattern, source, confidence, created_at FROM extraction_patterns WHERE field = ? AND pattern = ?`,
		string(p.Field), p.Pattern)
	stored, err := scanPattern(row)
	if err != nil {
		return model.ExtractionPattern{}, false, err
	}
	return stored, n > 0, nil
}

// StartRun inserts a running crawl_runs row.
func (s *RecordStore) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, started_at, status) VALUES (?, ?, ?)`,
		id.String(), startedAt.UTC().Format(timeLayout), string(store.RunRunning))
	return eris.Wrapf(err, "sqlite: start run %s", id)
}

// CompleteRun records the terminal state of a run.
func (s *RecordStore) CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status store.RunStatus, counts store.RunCounts, errMsg *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET finished_at = ?, status = ?, discovered = ?, succeeded = ?, blocked = ?,
		 failed = ?, skipped = ?, persist_errors = ?, error_message = ? WHERE id = ?`,
		finishedAt.UTC().Format(timeLayout), string(status), counts.Discovered, counts.Succeeded, counts.Blocked,
		counts.Failed, counts.Skipped, counts.PersistErrors, errMsg, id.String())
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run rows affected")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *RecordStore) ListRuns(ctx context.Context, limit int) ([]store.CrawlRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, discovered, succeeded, blocked, failed, skipped,
		 persist_errors, error_message FROM crawl_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []store.CrawlRun
	for rows.Next() {
		var (
			run               store.CrawlRun
			id, started       string
			finished, errText sql.NullString
			status            string
		)
		if err := rows.Scan(&id, &started, &finished, &status,
			&run.Counts.Discovered, &run.Counts.Succeeded, &run.Counts.Blocked, &run.Counts.Failed,
			&run.Counts.Skipped, &run.Counts.PersistErrors, &errText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse run id %s", id)
		}
		if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse started_at")
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: parse finished_at")
			}
			run.FinishedAt = &t
		}
		if errText.Valid {
			msg := errText.String
			run.ErrorMessage = &msg
		}
		run.Status = store.RunStatus(status)
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResort(row scanner) (model.Resort, error) {
	var (
		r                     model.Resort
		name, country, cont   sql.NullString
		lat, lon, snow        sql.NullFloat64
		opening, closing      sql.NullString
		lifts, easy, mid, adv sql.NullInt64
		day, season           sql.NullFloat64
		raw, created, updated string
	)
	if err := row.Scan(&r.URL, &name, &country, &cont, &lat, &lon, &snow, &opening, &closing,
		&lifts, &easy, &mid, &adv, &day, &season, &raw, &created, &updated); err != nil {
		return model.Resort{}, err
	}
	r.Name = nullString(name)
	r.Country = nullString(country)
	r.Continent = nullString(cont)
	r.Latitude = nullFloat(lat)
	r.Longitude = nullFloat(lon)
	r.SnowfallInches = nullFloat(snow)
	r.LiftCount = nullInt(lifts)
	r.RunsEasy = nullInt(easy)
	r.RunsIntermediate = nullInt(mid)
	r.RunsAdvanced = nullInt(adv)
	r.DayPassUSD = nullFloat(day)
	r.SeasonPassUSD = nullFloat(season)

	var err error
	if r.OpeningDate, err = nullDate(opening); err != nil {
		return model.Resort{}, err
	}
	if r.ClosingDate, err = nullDate(closing); err != nil {
		return model.Resort{}, err
	}
	if r.Raw, err = store.DecodeRaw([]byte(raw)); err != nil {
		return model.Resort{}, err
	}
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return model.Resort{}, eris.Wrap(err, "parse created_at")
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return model.Resort{}, eris.Wrap(err, "parse updated_at")
	}
	return r, nil
}

func scanPattern(row scanner) (model.ExtractionPattern, error) {
	var (
		p                      model.ExtractionPattern
		field, source, created string
	)
	if err := row.Scan(&p.ID, &field, &p.Pattern, &source, &p.Confidence, &created); err != nil {
		return model.ExtractionPattern{}, eris.Wrap(err, "sqlite: scan pattern")
	}
	p.Field = model.Field(field)
	p.Source = model.PatternSource(source)
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return model.ExtractionPattern{}, eris.Wrap(err, "sqlite: parse pattern created_at")
	}
	p.CreatedAt = t
	return p, nil
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(model.DateLayout)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := strings.TrimSpace(v.String)
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(model.DateLayout, v.String)
	if err != nil {
		return nil, eris.Wrapf(err, "parse date %q", v.String)
	}
	return &t, nil
}
