package backtest

import (
	"time"

	"github.com/minhle87/playbook-bot/internal/engine"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Config drives one backtest run.
type Config struct {
	Symbol           string          `json:"symbol"`
	Timeframe        types.Timeframe `json:"timeframe"`
	SpreadPips       float64         `json:"spread_pips"`
	SlippagePips     float64         `json:"slippage_pips"`
	CommissionPerLot float64         `json:"commission_per_lot"`
	StartingBalance  float64         `json:"starting_balance"`
	From             time.Time       `json:"from,omitempty"`
	To               time.Time       `json:"to,omitempty"`
}

// Outcome classifies a closed trade by realized P&L.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// ExitReason records why a backtest trade closed.
type ExitReason string

const (
	ExitSL        ExitReason = "sl"
	ExitTP        ExitReason = "tp"
	ExitTransition ExitReason = "transition"
	ExitTimeout   ExitReason = "timeout"
	ExitEndOfData ExitReason = "end_of_data"
)

// Trade is one completed backtest trade with the journaling snapshots taken
// at entry.
type Trade struct {
	Direction  types.Direction `json:"direction"`
	OpenIndex  int             `json:"open_index"`
	CloseIndex int             `json:"close_index"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`

	// SignalPrice is the bar close the signal was computed from;
	// OpenPrice includes the adverse spread and slippage. Exposing both
	// lets a user reconcile simulated against live fills.
	SignalPrice float64 `json:"signal_price"`
	OpenPrice   float64 `json:"open_price"`
	ClosePrice  float64 `json:"close_price"`

	SL  float64 `json:"sl"`
	TP  float64 `json:"tp"`
	Lot float64 `json:"lot"`

	PnL        float64 `json:"pnl"`
	PnLPips    float64 `json:"pnl_pips"`
	Commission float64 `json:"commission"`
	RRAchieved float64 `json:"rr_achieved"`

	Outcome    Outcome    `json:"outcome"`
	ExitReason ExitReason `json:"exit_reason"`

	PhaseAtEntry      string                        `json:"phase_at_entry"`
	VariablesAtEntry  map[string]float64            `json:"variables_at_entry,omitempty"`
	IndicatorsAtEntry map[string]map[string]float64 `json:"indicators_at_entry,omitempty"`
}

// BarsHeld is the trade's holding period in primary bars.
func (t *Trade) BarsHeld() int {
	return t.CloseIndex - t.OpenIndex
}

// Result is the complete output of one backtest run.
type Result struct {
	Config        Config    `json:"config"`
	PlaybookID    string    `json:"playbook_id"`
	Metrics       Metrics   `json:"metrics"`
	EquityCurve   []float64 `json:"equity_curve"`
	DrawdownCurve []float64 `json:"drawdown_curve"`
	Trades        []Trade   `json:"trades"`
	WarmupBars    int       `json:"warmup_bars"`
	BarsReplayed  int       `json:"bars_replayed"`

	// FinalState is the instance state after the last evaluation, exposing
	// the end-of-run phase and circuit-breaker status.
	FinalState *engine.State `json:"final_state,omitempty"`

	// Error carries a mid-replay failure; the trades and curves up to the
	// failure point are still populated.
	Error string `json:"error,omitempty"`
}
