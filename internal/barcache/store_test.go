package barcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func cacheBars(n int, start time.Time) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{
			Symbol:    "EURUSD",
			Timeframe: types.TimeframeM15,
			Time:      start.Add(time.Duration(i) * 15 * time.Minute),
			Open:      1.1, High: 1.2, Low: 1.0, Close: 1.15,
			Volume: float64(i),
		}
	}
	return bars
}

func TestStore_UpsertAndSelectLastN(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertMany(ctx, cacheBars(50, start)))

	got, err := s.SelectLastN(ctx, "EURUSD", types.TimeframeM15, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, start.Add(40*15*time.Minute), got[0].Time, "oldest first")
	assert.Equal(t, start.Add(49*15*time.Minute), got[9].Time)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Time.After(got[i-1].Time), "not strictly ordered at %d", i)
	}
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := cacheBars(20, start)

	require.NoError(t, s.UpsertMany(ctx, bars))
	require.NoError(t, s.UpsertMany(ctx, bars))

	n, err := s.Count(ctx, "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestStore_UpsertOverwritesOnConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := cacheBars(1, start)
	require.NoError(t, s.UpsertMany(ctx, bars))

	bars[0].Close = 9.99
	require.NoError(t, s.UpsertMany(ctx, bars))

	got, err := s.SelectLastN(ctx, "EURUSD", types.TimeframeM15, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 9.99, got[0].Close)
}

func TestStore_SelectBetween(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertMany(ctx, cacheBars(100, start)))

	from := start.Add(10 * 15 * time.Minute)
	to := start.Add(20 * 15 * time.Minute)
	got, err := s.SelectBetween(ctx, "EURUSD", types.TimeframeM15, from, to)
	require.NoError(t, err)
	require.Len(t, got, 11, "range is inclusive on both ends")
	assert.Equal(t, from, got[0].Time)
	assert.Equal(t, to, got[len(got)-1].Time)
}

func TestStore_UpsertStream(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	ch := make(chan types.Bar)
	go func() {
		for _, b := range cacheBars(250, start) {
			ch <- b
		}
		close(ch)
	}()

	written, err := s.UpsertStream(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, 250, written)

	n, err := s.Count(ctx, "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	assert.Equal(t, 250, n)
}

func TestStore_CountPerKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertMany(ctx, cacheBars(5, start)))

	n, err := s.Count(ctx, "EURUSD", types.TimeframeH1)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "different timeframe must not match")

	n, err = s.Count(ctx, "GBPUSD", types.TimeframeM15)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
