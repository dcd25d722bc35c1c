package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

func TestMigrateIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestUpsertResortNeverClearsKnownFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	opening := time.Date(2024, time.November, 25, 0, 0, 0, 0, time.UTC)

	first, err := st.UpsertResort(ctx, model.Resort{
		URL:         "https://www.verbier.ch/",
		Name:        ptr("Verbier"),
		Country:     ptr("Switzerland"),
		OpeningDate: &opening,
		LiftCount:   ptr(67),
		Raw: map[string]model.Provenance{
			"name": {Value: "Verbier", Snippet: "<title>Verbier</title>", Method: model.MethodPattern, Confidence: 0.8},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, first.Name)
	assert.Equal(t, "Verbier", *first.Name)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := st.UpsertResort(ctx, model.Resort{
		URL:              "https://www.verbier.ch/",
		SnowfallInches:   ptr(78.74),
		RunsEasy:         ptr(12),
		RunsIntermediate: ptr(20),
		RunsAdvanced:     ptr(8),
		Raw: map[string]model.Provenance{
			"snowfall": {Value: "78.74", Snippet: "200 cm", Method: model.MethodHeuristic, Confidence: 0.4},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, second.Name)
	assert.Equal(t, "Verbier", *second.Name)
	require.NotNil(t, second.Country)
	assert.Equal(t, "Switzerland", *second.Country)
	require.NotNil(t, second.OpeningDate)
	assert.True(t, opening.Equal(*second.OpeningDate))
	require.NotNil(t, second.LiftCount)
	assert.Equal(t, 67, *second.LiftCount)
	require.NotNil(t, second.SnowfallInches)
	assert.InDelta(t, 78.74, *second.SnowfallInches, 1e-9)
	require.NotNil(t, second.RunsAdvanced)
	assert.Equal(t, 8, *second.RunsAdvanced)
	assert.Nil(t, second.DayPassUSD)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	require.Len(t, second.Raw, 2)
	assert.Equal(t, model.MethodHeuristic, second.Raw["snowfall"].Method)
	assert.Equal(t, "Verbier", second.Raw["name"].Value)

	got, err := st.GetResort(ctx, "https://www.verbier.ch/")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	third, err := st.UpsertResort(ctx, model.Resort{URL: "https://www.verbier.ch/", LiftCount: ptr(68)})
	require.NoError(t, err)
	require.NotNil(t, third.LiftCount)
	assert.Equal(t, 68, *third.LiftCount, "non-null values overwrite")
}

func TestGetResortNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetResort(context.Background(), "https://nowhere.example/")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListResorts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, u := range []string{"https://b.example/", "https://a.example/", "https://c.example/"} {
		_, err := st.UpsertResort(ctx, model.Resort{URL: u, Name: ptr(u)})
		require.NoError(t, err)
	}
	got, err := st.ListResorts(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://b.example/", got[0].URL)
	assert.Equal(t, "https://c.example/", got[1].URL)
}

func TestAuditRowsAreAppendOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	page := model.RawPage{URL: "https://a.example/", Domain: "a.example", StatusCode: 200, HTML: "<html></html>", Processed: true}
	require.NoError(t, st.AppendRawPage(ctx, page))
	require.NoError(t, st.AppendRawPage(ctx, page))

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_pages WHERE url = ?`, page.URL).Scan(&n))
	assert.Equal(t, 2, n)

	require.NoError(t, st.AppendExtractionLogs(ctx, []model.ExtractionLog{
		{URL: page.URL, Field: model.FieldName, Value: "A", Method: model.MethodPattern, Confidence: 0.8},
		{URL: page.URL, Field: model.FieldSnowfall, Value: "100", Method: model.MethodHeuristic, Confidence: 0.4},
	}))
	require.NoError(t, st.AppendExtractionLogs(ctx, nil))
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_logs`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestGetOrCreatePattern(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := model.ExtractionPattern{Field: model.FieldLiftCount, Pattern: `(\d+)\s+lifts`, Source: model.SourceLearned, Confidence: 0.5}

	first, created, err := st.GetOrCreatePattern(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)

	second, created, err := st.GetOrCreatePattern(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = st.GetOrCreatePattern(ctx, model.ExtractionPattern{Field: model.FieldLiftCount, Pattern: "high", Source: model.SourceSeed, Confidence: 0.95})
	require.NoError(t, err)

	list, err := st.ListPatterns(ctx, model.FieldLiftCount)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "high", list[0].Pattern)
	assert.Equal(t, model.SourceLearned, list[1].Source)

	empty, err := st.ListPatterns(ctx, model.FieldSnowfall)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRunLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()
	start := time.Date(2025, 2, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, st.StartRun(ctx, id, start))

	msg := "discover: context canceled"
	counts := store.RunCounts{Discovered: 10, Succeeded: 7, Blocked: 1, Failed: 1, Skipped: 1}
	require.NoError(t, st.CompleteRun(ctx, id, start.Add(time.Minute), store.RunError, counts, &msg))
	require.ErrorIs(t, st.CompleteRun(ctx, uuid.New(), start, store.RunSuccess, counts, nil), store.ErrNotFound)

	runs, err := st.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, store.RunError, runs[0].Status)
	assert.Equal(t, counts, runs[0].Counts)
	require.NotNil(t, runs[0].ErrorMessage)
	assert.Equal(t, msg, *runs[0].ErrorMessage)
	require.NotNil(t, runs[0].FinishedAt)
	assert.True(t, start.Add(time.Minute).Equal(*runs[0].FinishedAt))
}
