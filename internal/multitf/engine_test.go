package multitf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/pkg/types"
)

func makeBars(tf types.Timeframe, start time.Time, n int, base float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		price := base + float64(i)
		bars[i] = types.Bar{
			Symbol:    "EURUSD",
			Timeframe: tf,
			Time:      start.Add(time.Duration(i) * tf.Duration()),
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price + 0.25,
			Volume:    100,
		}
	}
	return bars
}

func TestAlignedIndex(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	m15 := makeBars(types.TimeframeM15, start, 64, 100) // 16 hours
	h4 := makeBars(types.TimeframeH4, start, 4, 100)

	e := New(types.TimeframeM15, map[types.Timeframe][]types.Bar{
		types.TimeframeM15: m15,
		types.TimeframeH4:  h4,
	})

	// primary bar 0 opens exactly at H4 bar 0's open
	assert.Equal(t, 0, e.AlignedIndex(0, types.TimeframeH4))
	// 15 M15 bars later, still inside H4 bar 0
	assert.Equal(t, 0, e.AlignedIndex(15, types.TimeframeH4))
	// bar 16 opens at 04:00, the H4 bar 1 open
	assert.Equal(t, 1, e.AlignedIndex(16, types.TimeframeH4))
	assert.Equal(t, 3, e.AlignedIndex(63, types.TimeframeH4))
	// same timeframe is identity
	assert.Equal(t, 42, e.AlignedIndex(42, types.TimeframeM15))
}

func TestAlignedIndex_NoBarYet(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	m15 := makeBars(types.TimeframeM15, start, 8, 100)
	// H4 bars start 4 hours later than the primary series
	h4 := makeBars(types.TimeframeH4, start.Add(4*time.Hour), 2, 100)

	e := New(types.TimeframeM15, map[types.Timeframe][]types.Bar{
		types.TimeframeM15: m15,
		types.TimeframeH4:  h4,
	})

	assert.Equal(t, -1, e.AlignedIndex(0, types.TimeframeH4))
}

func TestLookup_ConstantWithinHigherBar(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	m15 := makeBars(types.TimeframeM15, start, 64*8, 100)
	h4 := makeBars(types.TimeframeH4, start, 32, 100)

	e := New(types.TimeframeM15, map[types.Timeframe][]types.Bar{
		types.TimeframeM15: m15,
		types.TimeframeH4:  h4,
	})

	cfg := indicators.Config{ID: "trend", Name: "sma", Timeframe: types.TimeframeH4, Params: indicators.Params{"period": 5}}
	require.NoError(t, e.Precompute([]indicators.Config{cfg}))

	// all 16 primary bars inside one H4 bar see the same value
	base, err := e.Lookup("trend", 160)
	require.NoError(t, err)
	require.NotNil(t, base)
	for i := 160; i < 176; i++ {
		out, err := e.Lookup("trend", i)
		require.NoError(t, err)
		assert.Equal(t, base["value"], out["value"], "primary bar %d", i)
	}
}

// Aligning at a primary bar whose timestamp equals the higher-timeframe open
// must match a direct series lookup at that higher-timeframe bar.
func TestLookup_BoundaryEqualsDirect(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	m15 := makeBars(types.TimeframeM15, start, 64*4, 100)
	h4 := makeBars(types.TimeframeH4, start, 16, 100)

	e := New(types.TimeframeM15, map[types.Timeframe][]types.Bar{
		types.TimeframeM15: m15,
		types.TimeframeH4:  h4,
	})
	cfg := indicators.Config{ID: "trend", Name: "sma", Timeframe: types.TimeframeH4, Params: indicators.Params{"period": 3}}
	require.NoError(t, e.Precompute([]indicators.Config{cfg}))

	direct, err := indicators.NewEngine().ComputeSeries(cfg, h4)
	require.NoError(t, err)

	// primary bar 10*16 opens exactly at H4 bar 10's open
	aligned, err := e.Lookup("trend", 160)
	require.NoError(t, err)
	assert.Equal(t, direct.At(10)["value"], aligned["value"])
}

func TestPrecompute_MissingTimeframe(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	e := New(types.TimeframeM15, map[types.Timeframe][]types.Bar{
		types.TimeframeM15: makeBars(types.TimeframeM15, start, 16, 100),
	})
	err := e.Precompute([]indicators.Config{{ID: "x", Name: "sma", Timeframe: types.TimeframeD1}})
	assert.Error(t, err)
}
