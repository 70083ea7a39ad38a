package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// profitFactorCap is returned when there are profits and no losses.
const profitFactorCap = 999

// Metrics summarizes a backtest's trades and equity curve. All values are
// rounded at this edge; intermediate math is full precision.
type Metrics struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`

	TotalPnL     float64 `json:"total_pnl"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`

	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	RecoveryFactor float64 `json:"recovery_factor"`
	UlcerIndex     float64 `json:"ulcer_index"`

	Sharpe  float64 `json:"sharpe"`
	Sortino float64 `json:"sortino"`
	CAGR    float64 `json:"cagr"`
	Calmar  float64 `json:"calmar"`

	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`

	BestStreakPnL  float64 `json:"best_streak_pnl"`
	WorstStreakPnL float64 `json:"worst_streak_pnl"`

	MonthlyReturns map[string]float64 `json:"monthly_returns"`

	LongWinRate  float64 `json:"long_win_rate"`
	ShortWinRate float64 `json:"short_win_rate"`

	AvgBarsHeldWinners float64 `json:"avg_bars_held_winners"`
	AvgBarsHeldLosers  float64 `json:"avg_bars_held_losers"`

	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	SmallestWin  float64 `json:"smallest_win"`
	SmallestLoss float64 `json:"smallest_loss"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`
}

// ComputeMetrics derives the full metric set from trades and the equity
// curve. The equity curve includes the starting balance at index 0.
func ComputeMetrics(trades []Trade, equity []float64, startingBalance float64) Metrics {
	var m Metrics
	m.MonthlyReturns = map[string]float64{}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
		m.TotalPnL += t.PnL
		if t.PnL > 0 {
			m.Wins++
			m.GrossProfit += t.PnL
		} else if t.PnL < 0 {
			m.Losses++
			m.GrossLoss += -t.PnL
		}
	}
	m.TotalTrades = len(trades)
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.TotalTrades) * 100
		m.Expectancy = m.TotalPnL / float64(m.TotalTrades)
	}

	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = profitFactorCap
	}

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(equity)
	if m.MaxDrawdown > 0 {
		m.RecoveryFactor = m.TotalPnL / m.MaxDrawdown
	}
	m.UlcerIndex = ulcerIndex(equity)

	m.Sharpe = sharpe(pnls)
	m.Sortino = sortino(pnls)

	if years := tradeYears(trades); years > 0 && startingBalance > 0 {
		end := startingBalance + m.TotalPnL
		if end > 0 {
			m.CAGR = (math.Pow(end/startingBalance, 1/years) - 1) * 100
		}
	}
	if m.MaxDrawdownPct > 0 {
		m.Calmar = math.Abs(m.CAGR) / m.MaxDrawdownPct
	}

	if len(pnls) >= 3 {
		m.Skewness = stat.Skew(pnls, nil)
	}
	if len(pnls) >= 4 {
		m.Kurtosis = stat.ExKurtosis(pnls, nil)
	}

	m.BestStreakPnL, m.WorstStreakPnL = streakPnL(trades)
	m.MaxConsecutiveWins, m.MaxConsecutiveLosses = streakCounts(trades)
	m.fillPerDirection(trades)
	m.fillTradeShape(trades)
	m.fillMonthly(trades, startingBalance)

	m.round()
	return m
}

func maxDrawdown(equity []float64) (dd float64, ddPct float64) {
	peak := 0.0
	for i, eq := range equity {
		if i == 0 || eq > peak {
			peak = eq
		}
		if drop := peak - eq; drop > dd {
			dd = drop
			if peak > 0 {
				ddPct = drop / peak * 100
			}
		}
	}
	return dd, ddPct
}

// ulcerIndex is the RMS of percent drawdowns along the equity curve.
func ulcerIndex(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := 0.0
	sum := 0.0
	for i, eq := range equity {
		if i == 0 || eq > peak {
			peak = eq
		}
		if peak > 0 {
			pct := (peak - eq) / peak * 100
			sum += pct * pct
		}
	}
	return math.Sqrt(sum / float64(len(equity)))
}

// sharpe annualizes mean over population stddev of per-trade P&L by sqrt of
// 252 trading days. Insufficient samples or zero variance yield 0.
func sharpe(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	mean := stat.Mean(pnls, nil)
	variance := 0.0
	for _, p := range pnls {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(pnls))
	sd := math.Sqrt(variance)
	if sd < 1e-10 {
		return 0
	}
	return mean / sd * math.Sqrt(252)
}

// sortino divides mean by the downside deviation, where the deviation uses
// the total sample count rather than only the negative count.
func sortino(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	mean := stat.Mean(pnls, nil)
	downside := 0.0
	for _, p := range pnls {
		if p < 0 {
			downside += p * p
		}
	}
	dd := math.Sqrt(downside / float64(len(pnls)))
	if dd < 1e-10 {
		return 0
	}
	return mean / dd * math.Sqrt(252)
}

func tradeYears(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	span := trades[len(trades)-1].CloseTime.Sub(trades[0].OpenTime)
	return span.Hours() / (24 * 365.25)
}

// streakPnL returns the best and worst summed P&L over runs of consecutive
// same-sign trades.
func streakPnL(trades []Trade) (best, worst float64) {
	var sum float64
	var sign int
	flush := func() {
		if sum > best {
			best = sum
		}
		if sum < worst {
			worst = sum
		}
	}
	for _, t := range trades {
		s := 0
		if t.PnL > 0 {
			s = 1
		} else if t.PnL < 0 {
			s = -1
		}
		if s != sign {
			flush()
			sum = 0
			sign = s
		}
		sum += t.PnL
	}
	flush()
	return best, worst
}

func streakCounts(trades []Trade) (wins, losses int) {
	var curW, curL int
	for _, t := range trades {
		if t.PnL > 0 {
			curW++
			curL = 0
		} else if t.PnL < 0 {
			curL++
			curW = 0
		} else {
			curW, curL = 0, 0
		}
		if curW > wins {
			wins = curW
		}
		if curL > losses {
			losses = curL
		}
	}
	return wins, losses
}

func (m *Metrics) fillPerDirection(trades []Trade) {
	var longs, longWins, shorts, shortWins int
	for _, t := range trades {
		if t.Direction == types.DirectionLong {
			longs++
			if t.PnL > 0 {
				longWins++
			}
		} else {
			shorts++
			if t.PnL > 0 {
				shortWins++
			}
		}
	}
	if longs > 0 {
		m.LongWinRate = float64(longWins) / float64(longs) * 100
	}
	if shorts > 0 {
		m.ShortWinRate = float64(shortWins) / float64(shorts) * 100
	}
}

func (m *Metrics) fillTradeShape(trades []Trade) {
	var winBars, lossBars int
	m.LargestLoss = 0
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			winBars += t.BarsHeld()
			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
			if m.SmallestWin == 0 || t.PnL < m.SmallestWin {
				m.SmallestWin = t.PnL
			}
		case t.PnL < 0:
			lossBars += t.BarsHeld()
			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
			if m.SmallestLoss == 0 || t.PnL > m.SmallestLoss {
				m.SmallestLoss = t.PnL
			}
		}
	}
	if m.Wins > 0 {
		m.AvgWin = m.GrossProfit / float64(m.Wins)
		m.AvgBarsHeldWinners = float64(winBars) / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = -m.GrossLoss / float64(m.Losses)
		m.AvgBarsHeldLosers = float64(lossBars) / float64(m.Losses)
	}
}

// fillMonthly keys percent-of-starting-balance returns by the close month.
func (m *Metrics) fillMonthly(trades []Trade, startingBalance float64) {
	if startingBalance <= 0 {
		return
	}
	sums := map[string]float64{}
	for _, t := range trades {
		sums[t.CloseTime.UTC().Format("2006-01")] += t.PnL
	}
	for month, pnl := range sums {
		m.MonthlyReturns[month] = round2(pnl / startingBalance * 100)
	}
}

func (m *Metrics) round() {
	m.WinRate = round1(m.WinRate)
	m.TotalPnL = round2(m.TotalPnL)
	m.GrossProfit = round2(m.GrossProfit)
	m.GrossLoss = round2(m.GrossLoss)
	m.ProfitFactor = round2(m.ProfitFactor)
	m.Expectancy = round2(m.Expectancy)
	m.MaxDrawdown = round2(m.MaxDrawdown)
	m.MaxDrawdownPct = round1(m.MaxDrawdownPct)
	m.RecoveryFactor = round2(m.RecoveryFactor)
	m.UlcerIndex = round2(m.UlcerIndex)
	m.Sharpe = round2(m.Sharpe)
	m.Sortino = round2(m.Sortino)
	m.CAGR = round2(m.CAGR)
	m.Calmar = round2(m.Calmar)
	m.Skewness = round2(m.Skewness)
	m.Kurtosis = round2(m.Kurtosis)
	m.BestStreakPnL = round2(m.BestStreakPnL)
	m.WorstStreakPnL = round2(m.WorstStreakPnL)
	m.LongWinRate = round1(m.LongWinRate)
	m.ShortWinRate = round1(m.ShortWinRate)
	m.AvgBarsHeldWinners = round1(m.AvgBarsHeldWinners)
	m.AvgBarsHeldLosers = round1(m.AvgBarsHeldLosers)
	m.AvgWin = round2(m.AvgWin)
	m.AvgLoss = round2(m.AvgLoss)
	m.LargestWin = round2(m.LargestWin)
	m.LargestLoss = round2(m.LargestLoss)
	m.SmallestWin = round2(m.SmallestWin)
	m.SmallestLoss = round2(m.SmallestLoss)
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }
