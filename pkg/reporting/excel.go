package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/minhle87/playbook-bot/internal/backtest"
)

const (
	tradesSheet  = "Trades"
	metricsSheet = "Metrics"
	monthlySheet = "Monthly Returns"
)

type excelStyles struct {
	header   int
	currency int
	percent  int
}

// WriteExcel produces a workbook with trade, metric and monthly-return
// sheets.
func WriteExcel(res *backtest.Result, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("reporting: create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(metricsSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(monthlySheet); err != nil {
		return err
	}

	styles, err := newExcelStyles(fx)
	if err != nil {
		return err
	}
	if err := writeTradesSheet(fx, res, styles); err != nil {
		return err
	}
	if err := writeMetricsSheet(fx, res, styles); err != nil {
		return err
	}
	if err := writeMonthlySheet(fx, res, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func newExcelStyles(fx *excelize.File) (excelStyles, error) {
	var s excelStyles
	var err error

	s.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return s, err
	}
	s.currency, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	if err != nil {
		return s, err
	}
	s.percent, err = fx.NewStyle(&excelize.Style{
		NumFmt:    2,
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	return s, err
}

func writeTradesSheet(fx *excelize.File, res *backtest.Result, styles excelStyles) error {
	headers := []interface{}{
		"#", "Direction", "Open Time", "Open Price", "Close Time", "Close Price",
		"Lot", "SL", "TP", "P&L", "Pips", "Commission", "RR", "Outcome", "Exit Reason", "Phase",
	}
	if err := fx.SetSheetRow(tradesSheet, "A1", &headers); err != nil {
		return err
	}
	if err := fx.SetRowStyle(tradesSheet, 1, 1, styles.header); err != nil {
		return err
	}

	for i, tr := range res.Trades {
		row := []interface{}{
			i + 1,
			string(tr.Direction),
			tr.OpenTime.Format("2006-01-02 15:04"),
			tr.OpenPrice,
			tr.CloseTime.Format("2006-01-02 15:04"),
			tr.ClosePrice,
			tr.Lot,
			tr.SL,
			tr.TP,
			tr.PnL,
			tr.PnLPips,
			tr.Commission,
			tr.RRAchieved,
			string(tr.Outcome),
			string(tr.ExitReason),
			tr.PhaseAtEntry,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := fx.SetSheetRow(tradesSheet, cell, &row); err != nil {
			return err
		}
	}
	if len(res.Trades) > 0 {
		if err := fx.SetCellStyle(tradesSheet, "J2", fmt.Sprintf("L%d", len(res.Trades)+1), styles.currency); err != nil {
			return err
		}
	}
	return fx.SetColWidth(tradesSheet, "C", "F", 18)
}

func writeMetricsSheet(fx *excelize.File, res *backtest.Result, styles excelStyles) error {
	m := res.Metrics
	rows := [][2]interface{}{
		{"Playbook", res.PlaybookID},
		{"Symbol", res.Config.Symbol},
		{"Timeframe", string(res.Config.Timeframe)},
		{"Starting balance", res.Config.StartingBalance},
		{"Total P&L", m.TotalPnL},
		{"Total trades", m.TotalTrades},
		{"Wins", m.Wins},
		{"Losses", m.Losses},
		{"Win rate %", m.WinRate},
		{"Profit factor", m.ProfitFactor},
		{"Expectancy", m.Expectancy},
		{"Gross profit", m.GrossProfit},
		{"Gross loss", m.GrossLoss},
		{"Max drawdown", m.MaxDrawdown},
		{"Max drawdown %", m.MaxDrawdownPct},
		{"Recovery factor", m.RecoveryFactor},
		{"Ulcer index", m.UlcerIndex},
		{"Sharpe", m.Sharpe},
		{"Sortino", m.Sortino},
		{"CAGR %", m.CAGR},
		{"Calmar", m.Calmar},
		{"Skewness", m.Skewness},
		{"Kurtosis", m.Kurtosis},
		{"Best streak P&L", m.BestStreakPnL},
		{"Worst streak P&L", m.WorstStreakPnL},
		{"Max consecutive wins", m.MaxConsecutiveWins},
		{"Max consecutive losses", m.MaxConsecutiveLosses},
		{"Avg win", m.AvgWin},
		{"Avg loss", m.AvgLoss},
		{"Largest win", m.LargestWin},
		{"Largest loss", m.LargestLoss},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		line := []interface{}{row[0], row[1]}
		if err := fx.SetSheetRow(metricsSheet, cell, &line); err != nil {
			return err
		}
	}
	if err := fx.SetColWidth(metricsSheet, "A", "A", 24); err != nil {
		return err
	}
	return fx.SetCellStyle(metricsSheet, "B1", fmt.Sprintf("B%d", len(rows)), styles.percent)
}

func writeMonthlySheet(fx *excelize.File, res *backtest.Result, styles excelStyles) error {
	headers := []interface{}{"Month", "Return %"}
	if err := fx.SetSheetRow(monthlySheet, "A1", &headers); err != nil {
		return err
	}
	if err := fx.SetRowStyle(monthlySheet, 1, 1, styles.header); err != nil {
		return err
	}

	months := make([]string, 0, len(res.Metrics.MonthlyReturns))
	for month := range res.Metrics.MonthlyReturns {
		months = append(months, month)
	}
	sort.Strings(months)

	for i, month := range months {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{month, res.Metrics.MonthlyReturns[month]}
		if err := fx.SetSheetRow(monthlySheet, cell, &row); err != nil {
			return err
		}
	}
	if len(months) > 0 {
		return fx.SetCellStyle(monthlySheet, "B2", fmt.Sprintf("B%d", len(months)+1), styles.percent)
	}
	return nil
}
