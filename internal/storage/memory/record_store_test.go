package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

func ptr[T any](v T) *T { return &v }

func TestUpsertResortMergesNonNullFields(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	first, err := s.UpsertResort(ctx, model.Resort{
		URL:       "https://www.zermatt.ch/en",
		Name:      ptr("Zermatt"),
		LiftCount: ptr(52),
		Raw:       map[string]model.Provenance{"name": {Value: "Zermatt"}},
	})
	require.NoError(t, err)
	require.False(t, first.CreatedAt.IsZero())

	second, err := s.UpsertResort(ctx, model.Resort{
		URL:            "https://www.zermatt.ch/en",
		SnowfallInches: ptr(78.74),
		Raw:            map[string]model.Provenance{"snowfall": {Value: "78.74"}},
	})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	require.NotNil(t, second.Name)
	assert.Equal(t, "Zermatt", *second.Name)
	require.NotNil(t, second.LiftCount)
	assert.Equal(t, 52, *second.LiftCount)
	require.NotNil(t, second.SnowfallInches)
	assert.Len(t, second.Raw, 2)

	got, err := s.GetResort(ctx, "https://www.zermatt.ch/en")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	*got.Name = "mutated"
	again, err := s.GetResort(ctx, "https://www.zermatt.ch/en")
	require.NoError(t, err)
	assert.Equal(t, "Zermatt", *again.Name, "returned rows must not alias stored state")
}

func TestUpsertResortRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStore().UpsertResort(context.Background(), model.Resort{Name: ptr("x")})
	require.Error(t, err)
}

func TestGetResortNotFound(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStore().GetResort(context.Background(), "https://missing.example")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListResortsPaginates(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	for _, u := range []string{"https://c.example", "https://a.example", "https://b.example"} {
		_, err := s.UpsertResort(ctx, model.Resort{URL: u, Name: ptr(u)})
		require.NoError(t, err)
	}
	got, err := s.ListResorts(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://a.example", got[0].URL)
	assert.Equal(t, "https://b.example", got[1].URL)

	got, err = s.ListResorts(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://c.example", got[0].URL)

	got, err = s.ListResorts(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetOrCreatePatternIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	p := model.ExtractionPattern{Field: model.FieldSnowfall, Pattern: `snow\s+(\d+)`, Source: model.SourceLearned, Confidence: 0.5}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.GetOrCreatePattern(ctx, p)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)

	list, err := s.ListPatterns(ctx, model.FieldSnowfall)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ID)

	_, _, err = s.GetOrCreatePattern(ctx, model.ExtractionPattern{Field: model.FieldSnowfall})
	require.Error(t, err)
}

func TestListPatternsOrdersByConfidence(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	for _, p := range []model.ExtractionPattern{
		{Field: model.FieldLiftCount, Pattern: "low", Confidence: 0.5},
		{Field: model.FieldLiftCount, Pattern: "high", Confidence: 0.9},
		{Field: model.FieldSnowfall, Pattern: "other", Confidence: 1},
	} {
		_, _, err := s.GetOrCreatePattern(ctx, p)
		require.NoError(t, err)
	}
	list, err := s.ListPatterns(ctx, model.FieldLiftCount)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "high", list[0].Pattern)
	assert.Equal(t, "low", list[1].Pattern)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	older, newer := uuid.New(), uuid.New()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.StartRun(ctx, older, start))
	require.NoError(t, s.StartRun(ctx, newer, start.Add(time.Hour)))
	require.Error(t, s.StartRun(ctx, older, start))

	counts := store.RunCounts{Discovered: 3, Succeeded: 2, Failed: 1}
	require.NoError(t, s.CompleteRun(ctx, older, start.Add(time.Minute), store.RunSuccess, counts, nil))
	require.ErrorIs(t, s.CompleteRun(ctx, uuid.New(), start, store.RunError, store.RunCounts{}, nil), store.ErrNotFound)

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer, runs[0].ID)
	assert.Equal(t, store.RunRunning, runs[0].Status)
	assert.Equal(t, store.RunSuccess, runs[1].Status)
	assert.Equal(t, counts, runs[1].Counts)
	require.NotNil(t, runs[1].FinishedAt)
}

func TestAppendAuditRows(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	require.NoError(t, s.AppendRawPage(ctx, model.RawPage{URL: "https://a.example", StatusCode: 200}))
	require.NoError(t, s.AppendRawPage(ctx, model.RawPage{URL: "https://a.example", StatusCode: 200}))
	require.NoError(t, s.AppendExtractionLogs(ctx, []model.ExtractionLog{
		{URL: "https://a.example", Field: model.FieldName, Value: "A"},
	}))
	pages := s.RawPages()
	require.Len(t, pages, 2, "raw pages are append-only and never deduplicated")
	assert.NotEqual(t, pages[0].ID, pages[1].ID)
	assert.Len(t, s.Logs(), 1)
}
