package reporting

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/minhle87/playbook-bot/internal/backtest"
	"github.com/minhle87/playbook-bot/pkg/types"
)

func sampleResult() *backtest.Result {
	open := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	return &backtest.Result{
		PlaybookID: "trend_pullback",
		Config: backtest.Config{
			Symbol:          "XAUUSD",
			Timeframe:       types.TimeframeM15,
			StartingBalance: 10000,
		},
		Metrics: backtest.Metrics{
			TotalTrades:  2,
			Wins:         1,
			Losses:       1,
			WinRate:      50,
			TotalPnL:     60,
			ProfitFactor: 2.5,
			MonthlyReturns: map[string]float64{
				"2024-01": 0.6,
			},
		},
		EquityCurve:  []float64{10000, 10100, 10060},
		Trades: []backtest.Trade{
			{
				Direction: types.DirectionLong, OpenTime: open, CloseTime: open.Add(time.Hour),
				OpenPrice: 2000, ClosePrice: 2010, Lot: 0.1, PnL: 100, PnLPips: 100,
				Outcome: backtest.OutcomeWin, ExitReason: backtest.ExitTP, PhaseAtEntry: "idle",
			},
			{
				Direction: types.DirectionLong, OpenTime: open.Add(2 * time.Hour), CloseTime: open.Add(3 * time.Hour),
				OpenPrice: 2010, ClosePrice: 2006, Lot: 0.1, PnL: -40, PnLPips: -40,
				Outcome: backtest.OutcomeLoss, ExitReason: backtest.ExitSL, PhaseAtEntry: "idle",
			},
		},
		WarmupBars:   24,
		BarsReplayed: 76,
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, sampleResult())
	out := buf.String()
	assert.Contains(t, out, "trend_pullback")
	assert.Contains(t, out, "XAUUSD")
	assert.Contains(t, out, "$10000.00")
	assert.Contains(t, out, "$10060.00")
	assert.Contains(t, out, "2 (1 W / 1 L)")
}

func TestWriteTrades(t *testing.T) {
	var buf bytes.Buffer
	WriteTrades(&buf, sampleResult())
	out := buf.String()
	assert.Contains(t, out, "LONG")
	assert.Contains(t, out, "tp")
	assert.Contains(t, out, "sl")

	buf.Reset()
	WriteTrades(&buf, &backtest.Result{})
	assert.Contains(t, buf.String(), "no trades")
}

func TestWriteMonthlyReturns(t *testing.T) {
	var buf bytes.Buffer
	WriteMonthlyReturns(&buf, sampleResult())
	assert.Contains(t, buf.String(), "2024-01")
	assert.Contains(t, buf.String(), "0.60%")
}

func TestWriteSweepRanking(t *testing.T) {
	runs := []backtest.SweepRun{
		{Overrides: map[string]float64{"rsi.period": 14}, Result: sampleResult()},
		{Overrides: nil, Result: sampleResult()},
	}
	var buf bytes.Buffer
	WriteSweepRanking(&buf, runs, 10)
	assert.Contains(t, buf.String(), "rsi.period=14")
	assert.Contains(t, buf.String(), "(base)")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.json")
	require.NoError(t, WriteJSON(sampleResult(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded backtest.Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "trend_pullback", decoded.PlaybookID)
	assert.Len(t, decoded.Trades, 2)
}

func TestWriteExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report", "result.xlsx")
	require.NoError(t, WriteExcel(sampleResult(), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.ElementsMatch(t, []string{"Trades", "Metrics", "Monthly Returns"}, fx.GetSheetList())

	dir, err := fx.GetCellValue("Trades", "B2")
	require.NoError(t, err)
	assert.Equal(t, "LONG", dir)

	month, err := fx.GetCellValue("Monthly Returns", "A2")
	require.NoError(t, err)
	assert.Equal(t, "2024-01", month)
}
