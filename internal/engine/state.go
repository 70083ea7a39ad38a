package engine

import (
	"time"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// TradeSnapshot is the open-position view the state machine holds between
// the broker's opened and closed notifications.
type TradeSnapshot struct {
	Ticket    int64           `json:"ticket"`
	Direction types.Direction `json:"direction"`
	OpenPrice float64         `json:"open_price"`
	SL        float64         `json:"sl"`
	TP        float64         `json:"tp"`
	Lot       float64         `json:"lot"`
	PnL       float64         `json:"pnl"`
	OpenTime  time.Time       `json:"open_time"`
}

// State is the full mutable state of one playbook instance. It is mutated
// only by the state machine and emitted after every evaluation so external
// storage can persist it.
type State struct {
	PlaybookID string `json:"playbook_id"`
	Symbol     string `json:"symbol"`
	Phase      string `json:"phase"`

	Vars       map[string]float64 `json:"vars"`
	StringVars map[string]string  `json:"string_vars,omitempty"`

	BarsInPhase int                       `json:"bars_in_phase"`
	TFCounters  map[types.Timeframe]int   `json:"tf_counters"`
	FiredRules  map[string]bool           `json:"fired_rules"`

	Trade *TradeSnapshot `json:"trade,omitempty"`

	TradesToday     int    `json:"trades_today"`
	TradesTodayDate string `json:"trades_today_date,omitempty"` // YYYY-MM-DD

	ConsecutiveLosses int       `json:"consecutive_losses"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CBTripped         bool      `json:"cb_tripped"`
	CBTrippedAt       time.Time `json:"cb_tripped_at,omitempty"`

	LastEvaluated time.Time `json:"last_evaluated,omitempty"`
}

// Clone deep-copies the state for emission.
func (s *State) Clone() *State {
	out := *s
	out.Vars = make(map[string]float64, len(s.Vars))
	for k, v := range s.Vars {
		out.Vars[k] = v
	}
	if s.StringVars != nil {
		out.StringVars = make(map[string]string, len(s.StringVars))
		for k, v := range s.StringVars {
			out.StringVars[k] = v
		}
	}
	out.TFCounters = make(map[types.Timeframe]int, len(s.TFCounters))
	for k, v := range s.TFCounters {
		out.TFCounters[k] = v
	}
	out.FiredRules = make(map[string]bool, len(s.FiredRules))
	for k, v := range s.FiredRules {
		out.FiredRules[k] = v
	}
	if s.Trade != nil {
		trade := *s.Trade
		out.Trade = &trade
	}
	return &out
}

// enterPhase moves the instance into a phase and resets the per-phase
// bookkeeping: bars_in_phase, every timeframe counter, and fired once-only
// rules.
func (s *State) enterPhase(name string) {
	s.Phase = name
	s.BarsInPhase = 0
	for tf := range s.TFCounters {
		delete(s.TFCounters, tf)
	}
	for r := range s.FiredRules {
		delete(s.FiredRules, r)
	}
}
