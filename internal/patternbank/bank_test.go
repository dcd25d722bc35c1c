package patternbank

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     []model.ExtractionPattern
	listErr  error
	listHits atomic.Int32
}

func (s *fakeStore) ListPatterns(_ context.Context, field model.Field) ([]model.ExtractionPattern, error) {
	s.listHits.Add(1)
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExtractionPattern
	for _, r := range s.rows {
		if r.Field == field {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetOrCreatePattern(_ context.Context, p model.ExtractionPattern) (model.ExtractionPattern, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Field == p.Field && r.Pattern == p.Pattern {
			return r, false, nil
		}
	}
	p.ID = uuid.NewString()
	s.rows = append(s.rows, p)
	return p, true, nil
}

func (s *fakeStore) count(field model.Field, pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.Field == field && r.Pattern == pattern {
			n++
		}
	}
	return n
}

var testDefaults = map[model.Field][]string{
	model.FieldSnowfall: {
		`average snowfall[:\s]*([0-9]{1,3})\s*(cm|in)`,
		`([0-9]{1,3})\s*(cm|in)\s*of snow`,
	},
	model.FieldLiftCount: {`(\d{1,3})\s*lifts`},
}

func TestPatternsFallBackToDefaults(t *testing.T) {
	t.Parallel()

	bank := New(&fakeStore{}, testDefaults, nil)
	got := bank.Patterns(context.Background(), model.FieldSnowfall)
	require.Len(t, got, 2)
	assert.Equal(t, model.SourceSeed, got[0].Source)
	assert.Greater(t, got[0].Confidence, got[1].Confidence)
	assert.True(t, got[0].Regexp.MatchString("AVERAGE SNOWFALL: 200 cm"), "patterns are case-insensitive")

	assert.Empty(t, bank.Patterns(context.Background(), model.FieldCountry))
}

func TestPatternsMergeLearnedByConfidence(t *testing.T) {
	t.Parallel()

	store := &fakeStore{rows: []model.ExtractionPattern{
		{ID: "1", Field: model.FieldSnowfall, Pattern: `snowfall[\s:]{0,5}([0-9]{1,3})`, Source: model.SourceLearned, Confidence: LearnedConfidence},
		{ID: "2", Field: model.FieldSnowfall, Pattern: `curated ([0-9]+) inches`, Source: model.SourceSeed, Confidence: 0.95},
		{ID: "3", Field: model.FieldSnowfall, Pattern: `broken(`, Source: model.SourceLearned, Confidence: 0.99},
	}}
	bank := New(store, testDefaults, nil)

	got := bank.Patterns(context.Background(), model.FieldSnowfall)
	require.Len(t, got, 4, "invalid stored pattern is skipped")
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[len(got)-1].ID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}

	bank.Patterns(context.Background(), model.FieldSnowfall)
	assert.Equal(t, int32(1), store.listHits.Load(), "patterns load once per field")
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bank := New(store, testDefaults, nil)
	ctx := context.Background()
	p := model.ExtractionPattern{Field: model.FieldSnowfall, Pattern: `snowfall[\s:]{0,50}?([0-9]{1,5})`, Confidence: LearnedConfidence}

	first, created, err := bank.Add(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.SourceLearned, first.Source)

	p.Confidence = 0.99
	second, created, err := bank.Add(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, LearnedConfidence, second.Confidence, 1e-9, "confidence is never overwritten")
	assert.Equal(t, 1, store.count(model.FieldSnowfall, p.Pattern))

	assert.Len(t, bank.Patterns(ctx, model.FieldSnowfall), 3)
}

func TestAddDefaultPatternIsNoop(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bank := New(store, testDefaults, nil)
	got, created, err := bank.Add(context.Background(), model.ExtractionPattern{
		Field:   model.FieldLiftCount,
		Pattern: `(\d{1,3})\s*lifts`,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.SourceSeed, got.Source)
	assert.Zero(t, store.count(model.FieldLiftCount, `(\d{1,3})\s*lifts`))
}

func TestAddConcurrentDiscoveryStoresOnce(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bank := New(store, testDefaults, nil)
	p := model.ExtractionPattern{Field: model.FieldLiftCount, Pattern: `total lifts[\s:]{0,50}?([0-9]{1,5})`, Confidence: LearnedConfidence}

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := bank.Add(context.Background(), p)
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, 1, store.count(model.FieldLiftCount, p.Pattern))
}

func TestAddRejectsInvalidPattern(t *testing.T) {
	t.Parallel()

	bank := New(&fakeStore{}, nil, nil)
	_, _, err := bank.Add(context.Background(), model.ExtractionPattern{Field: model.FieldName, Pattern: "(unclosed"})
	require.ErrorIs(t, err, ErrInvalidPattern)
	_, _, err = bank.Add(context.Background(), model.ExtractionPattern{Field: model.FieldName})
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestPatternsDegradeWhenStoreFails(t *testing.T) {
	t.Parallel()

	store := &fakeStore{listErr: errors.New("database is locked")}
	bank := New(store, testDefaults, nil)

	got := bank.Patterns(context.Background(), model.FieldSnowfall)
	assert.Len(t, got, 2)
	bank.Patterns(context.Background(), model.FieldSnowfall)
	assert.Equal(t, int32(2), store.listHits.Load(), "failed loads are retried")

	_, _, err := bank.Add(context.Background(), model.ExtractionPattern{Field: model.FieldSnowfall, Pattern: `x ([0-9]+)`})
	require.Error(t, err)
}
