package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func mkTrade(pnl float64, close time.Time, dir types.Direction, bars int) Trade {
	return Trade{
		Direction:  dir,
		OpenIndex:  0,
		CloseIndex: bars,
		OpenTime:   close.Add(-time.Duration(bars) * 15 * time.Minute),
		CloseTime:  close,
		PnL:        pnl,
	}
}

func TestMetrics_MonthlyAttribution(t *testing.T) {
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	trades := []Trade{
		mkTrade(100, jan, types.DirectionLong, 4),
		mkTrade(-50, jan.Add(24*time.Hour), types.DirectionLong, 3),
		mkTrade(200, feb, types.DirectionShort, 6),
	}
	m := ComputeMetrics(trades, []float64{10000, 10100, 10050, 10250}, 10000)

	assert.Equal(t, map[string]float64{"2024-01": 0.5, "2024-02": 2.0}, m.MonthlyReturns)

	// sum of monthly percents times balance equals total P&L
	sum := 0.0
	for _, pct := range m.MonthlyReturns {
		sum += pct / 100 * 10000
	}
	assert.InDelta(t, m.TotalPnL, sum, 0.01)
}

func TestMetrics_CountsAndProfitFactor(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []Trade{
		mkTrade(100, now, types.DirectionLong, 5),
		mkTrade(-40, now.Add(time.Hour), types.DirectionShort, 2),
		mkTrade(60, now.Add(2*time.Hour), types.DirectionLong, 8),
	}
	m := ComputeMetrics(trades, []float64{1000, 1100, 1060, 1120}, 1000)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.InDelta(t, 66.7, m.WinRate, 0.05)
	assert.Equal(t, 120.0, m.TotalPnL)
	assert.Equal(t, 160.0, m.GrossProfit)
	assert.Equal(t, 40.0, m.GrossLoss)
	assert.Equal(t, 4.0, m.ProfitFactor)
	assert.Equal(t, 40.0, m.Expectancy)

	assert.Equal(t, 100.0, m.LongWinRate)
	assert.Equal(t, 0.0, m.ShortWinRate)
	assert.InDelta(t, 6.5, m.AvgBarsHeldWinners, 1e-9)
	assert.InDelta(t, 2.0, m.AvgBarsHeldLosers, 1e-9)
	assert.Equal(t, 100.0, m.LargestWin)
	assert.Equal(t, 60.0, m.SmallestWin)
	assert.Equal(t, -40.0, m.LargestLoss)
	assert.Equal(t, -40.0, m.SmallestLoss)
}

func TestMetrics_ProfitFactorSentinels(t *testing.T) {
	now := time.Now()

	onlyWins := []Trade{mkTrade(50, now, types.DirectionLong, 1)}
	m := ComputeMetrics(onlyWins, []float64{100, 150}, 100)
	assert.Equal(t, float64(profitFactorCap), m.ProfitFactor, "no losses and some profit")

	var none []Trade
	m = ComputeMetrics(none, []float64{100}, 100)
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 0.0, m.Sharpe, "insufficient samples")
}

func TestMetrics_Drawdown(t *testing.T) {
	equity := []float64{1000, 1100, 900, 950, 1200}
	m := ComputeMetrics(nil, equity, 1000)
	assert.Equal(t, 200.0, m.MaxDrawdown)
	assert.InDelta(t, 200.0/1100*100, m.MaxDrawdownPct, 0.05)
	assert.Greater(t, m.UlcerIndex, 0.0)
}

func TestMetrics_SharpeZeroVariance(t *testing.T) {
	now := time.Now()
	trades := []Trade{
		mkTrade(10, now, types.DirectionLong, 1),
		mkTrade(10, now.Add(time.Hour), types.DirectionLong, 1),
	}
	m := ComputeMetrics(trades, []float64{100, 110, 120}, 100)
	assert.Equal(t, 0.0, m.Sharpe)
	assert.Equal(t, 0.0, m.Sortino, "no downside, insufficient signal")
}

func TestMetrics_Streaks(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pnls := []float64{10, 20, -5, -5, -5, 30, 40, -10}
	trades := make([]Trade, len(pnls))
	for i, p := range pnls {
		trades[i] = mkTrade(p, now.Add(time.Duration(i)*time.Hour), types.DirectionLong, 1)
	}
	m := ComputeMetrics(trades, []float64{1000}, 1000)

	assert.Equal(t, 70.0, m.BestStreakPnL)
	assert.Equal(t, -15.0, m.WorstStreakPnL)
	assert.Equal(t, 2, m.MaxConsecutiveWins)
	assert.Equal(t, 3, m.MaxConsecutiveLosses)
}

func TestMetrics_SkewKurtosisComputed(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pnls := []float64{5, 7, 6, 8, 100}
	trades := make([]Trade, len(pnls))
	for i, p := range pnls {
		trades[i] = mkTrade(p, now.Add(time.Duration(i)*time.Hour), types.DirectionLong, 1)
	}
	m := ComputeMetrics(trades, []float64{1000}, 1000)
	assert.Greater(t, m.Skewness, 0.0, "one large outlier should skew right")
	require.NotZero(t, m.Kurtosis)
}
