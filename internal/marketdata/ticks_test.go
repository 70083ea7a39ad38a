package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func tickAt(ts time.Time, bid float64) types.Tick {
	return types.Tick{Symbol: "EURUSD", Bid: bid, Ask: bid + 0.0002, Timestamp: ts}
}

func TestAggregateTicks_Buckets(t *testing.T) {
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	ticks := []types.Tick{
		tickAt(start.Add(2*time.Second), 1.1000),
		tickAt(start.Add(30*time.Second), 1.1010),
		tickAt(start.Add(45*time.Second), 1.0995),
		tickAt(start.Add(59*time.Second), 1.1005),
		// next M1 bucket
		tickAt(start.Add(61*time.Second), 1.1007),
		tickAt(start.Add(70*time.Second), 1.1001),
	}

	bars := AggregateTicks(ticks, "EURUSD", types.TimeframeM1)
	require.Len(t, bars, 2)

	first := bars[0]
	assert.Equal(t, start, first.Time, "bar opens at the floored bucket start")
	assert.Equal(t, 1.1000, first.Open)
	assert.Equal(t, 1.1010, first.High)
	assert.Equal(t, 1.0995, first.Low)
	assert.Equal(t, 1.1005, first.Close)
	assert.Equal(t, 4.0, first.Volume, "volume counts ticks")

	second := bars[1]
	assert.Equal(t, start.Add(time.Minute), second.Time)
	assert.Equal(t, 1.1007, second.Open)
	assert.Equal(t, 1.1001, second.Close)
	assert.Equal(t, 2.0, second.Volume)
}

func TestAggregateTicks_GapSkipsEmptyBuckets(t *testing.T) {
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	ticks := []types.Tick{
		tickAt(start, 1.1),
		tickAt(start.Add(10*time.Minute), 1.2),
	}
	bars := AggregateTicks(ticks, "EURUSD", types.TimeframeM1)
	require.Len(t, bars, 2, "no synthetic bars for quiet minutes")
	assert.Equal(t, start, bars[0].Time)
	assert.Equal(t, start.Add(10*time.Minute), bars[1].Time)
}

func TestAggregator_FlushEmitsPartialBar(t *testing.T) {
	agg := NewAggregator("EURUSD", types.TimeframeM15)
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	_, ok := agg.Add(tickAt(start.Add(3*time.Minute), 1.1))
	assert.False(t, ok)
	_, ok = agg.Add(tickAt(start.Add(7*time.Minute), 1.15))
	assert.False(t, ok)

	bar, ok := agg.Flush()
	require.True(t, ok)
	assert.Equal(t, start, bar.Time)
	assert.Equal(t, 1.1, bar.Open)
	assert.Equal(t, 1.15, bar.Close)

	_, ok = agg.Flush()
	assert.False(t, ok, "flush drains")
}

func TestAggregator_EmptyFlush(t *testing.T) {
	agg := NewAggregator("EURUSD", types.TimeframeM1)
	_, ok := agg.Flush()
	assert.False(t, ok)
}
