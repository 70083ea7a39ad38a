package reporting

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/minhle87/playbook-bot/internal/backtest"
)

// WriteSummary renders the headline backtest metrics as a console table.
func WriteSummary(w io.Writer, res *backtest.Result) {
	m := res.Metrics

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s on %s %s", res.PlaybookID, res.Config.Symbol, res.Config.Timeframe))

	t.AppendRows([]table.Row{
		{"Starting balance", fmt.Sprintf("$%.2f", res.Config.StartingBalance)},
		{"Final balance", fmt.Sprintf("$%.2f", finalBalance(res))},
		{"Total P&L", fmt.Sprintf("$%.2f", m.TotalPnL)},
		{"Trades", fmt.Sprintf("%d (%d W / %d L)", m.TotalTrades, m.Wins, m.Losses)},
		{"Win rate", fmt.Sprintf("%.1f%%", m.WinRate)},
		{"Profit factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"Expectancy", fmt.Sprintf("$%.2f", m.Expectancy)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Max drawdown", fmt.Sprintf("$%.2f (%.2f%%)", m.MaxDrawdown, m.MaxDrawdownPct)},
		{"Ulcer index", fmt.Sprintf("%.2f", m.UlcerIndex)},
		{"Sharpe", fmt.Sprintf("%.2f", m.Sharpe)},
		{"Sortino", fmt.Sprintf("%.2f", m.Sortino)},
		{"CAGR", fmt.Sprintf("%.2f%%", m.CAGR)},
		{"Calmar", fmt.Sprintf("%.2f", m.Calmar)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Bars replayed", res.BarsReplayed},
		{"Warmup bars", res.WarmupBars},
	})
	if res.Error != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Error", res.Error})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 24, Align: text.AlignRight},
	})
	t.Render()
}

// WriteTrades renders the trade list, newest last.
func WriteTrades(w io.Writer, res *backtest.Result) {
	if len(res.Trades) == 0 {
		fmt.Fprintln(w, "no trades")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Dir", "Open", "Close", "Lot", "P&L", "Pips", "RR", "Exit", "Phase"})

	for i, tr := range res.Trades {
		t.AppendRow(table.Row{
			i + 1,
			tr.Direction,
			fmt.Sprintf("%s @ %.5g", tr.OpenTime.Format("01-02 15:04"), tr.OpenPrice),
			fmt.Sprintf("%s @ %.5g", tr.CloseTime.Format("01-02 15:04"), tr.ClosePrice),
			fmt.Sprintf("%.2f", tr.Lot),
			fmt.Sprintf("%.2f", tr.PnL),
			fmt.Sprintf("%.1f", tr.PnLPips),
			fmt.Sprintf("%.2f", tr.RRAchieved),
			tr.ExitReason,
			tr.PhaseAtEntry,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
}

// WriteMonthlyReturns renders per-month return percentages, oldest first.
func WriteMonthlyReturns(w io.Writer, res *backtest.Result) {
	if len(res.Metrics.MonthlyReturns) == 0 {
		return
	}
	months := make([]string, 0, len(res.Metrics.MonthlyReturns))
	for month := range res.Metrics.MonthlyReturns {
		months = append(months, month)
	}
	sort.Strings(months)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Month", "Return"})
	for _, month := range months {
		t.AppendRow(table.Row{month, fmt.Sprintf("%.2f%%", res.Metrics.MonthlyReturns[month])})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

// WriteSweepRanking renders sweep runs ordered as given (best first).
func WriteSweepRanking(w io.Writer, runs []backtest.SweepRun, top int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Rank", "Overrides", "P&L", "PF", "Win rate", "Max DD %", "Trades"})

	for i, run := range runs {
		if top > 0 && i >= top {
			break
		}
		if run.Err != nil {
			t.AppendRow(table.Row{i + 1, formatOverrides(run.Overrides), "error: " + run.Err.Error(), "", "", "", ""})
			continue
		}
		m := run.Result.Metrics
		t.AppendRow(table.Row{
			i + 1,
			formatOverrides(run.Overrides),
			fmt.Sprintf("%.2f", m.TotalPnL),
			fmt.Sprintf("%.2f", m.ProfitFactor),
			fmt.Sprintf("%.1f%%", m.WinRate),
			fmt.Sprintf("%.2f", m.MaxDrawdownPct),
			m.TotalTrades,
		})
	}
	t.Render()
}

func formatOverrides(overrides map[string]float64) string {
	if len(overrides) == 0 {
		return "(base)"
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%g", k, overrides[k])
	}
	return out
}

func finalBalance(res *backtest.Result) float64 {
	if len(res.EquityCurve) == 0 {
		return res.Config.StartingBalance
	}
	return res.EquityCurve[len(res.EquityCurve)-1]
}
