package playbook

import (
	"github.com/minhle87/playbook-bot/internal/expr"
	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Playbook is a declarative multi-phase state machine. It is immutable
// within a run; edits produce a new version.
type Playbook struct {
	ID           string              `json:"id" yaml:"id"`
	Name         string              `json:"name" yaml:"name"`
	Version      int                 `json:"version" yaml:"version"`
	Symbols      []string            `json:"symbols" yaml:"symbols"`
	Indicators   []indicators.Config `json:"indicators" yaml:"indicators"`
	Variables    []Variable          `json:"variables,omitempty" yaml:"variables,omitempty"`
	Phases       []Phase             `json:"phases" yaml:"phases"`
	InitialPhase string              `json:"initial_phase" yaml:"initial_phase"`
	Risk         RiskLimits          `json:"risk" yaml:"risk"`
	Autonomy     AutonomyMode        `json:"autonomy,omitempty" yaml:"autonomy,omitempty"`
	Breaker      BreakerConfig       `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// AutonomyMode controls whether emitted signals are executed or only logged.
type AutonomyMode string

const (
	AutonomySignalOnly AutonomyMode = "signal_only"
	AutonomyAuto       AutonomyMode = "auto"
)

// Variable is a typed scalar with a default, readable by expressions as
// var.<name>.
type Variable struct {
	Name    string  `json:"name" yaml:"name"`
	Type    VarType `json:"type" yaml:"type"`
	Default any     `json:"default,omitempty" yaml:"default,omitempty"`
}

// VarType enumerates the variable scalar types.
type VarType string

const (
	VarFloat  VarType = "float"
	VarInt    VarType = "int"
	VarBool   VarType = "bool"
	VarString VarType = "string"
)

// RiskLimits are the per-playbook risk gate, readable by expressions as
// risk.<field>.
type RiskLimits struct {
	MaxLot           float64 `json:"max_lot" yaml:"max_lot"`
	MaxDailyTrades   int     `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
}

// BreakerConfig configures the per-instance circuit breaker. Zero thresholds
// disable the corresponding trip condition.
type BreakerConfig struct {
	MaxConsecutiveLosses int `json:"max_consecutive_losses,omitempty" yaml:"max_consecutive_losses,omitempty"`
	MaxConsecutiveErrors int `json:"max_consecutive_errors,omitempty" yaml:"max_consecutive_errors,omitempty"`
	CooldownMinutes      int `json:"cooldown_minutes,omitempty" yaml:"cooldown_minutes,omitempty"`
}

// Phase is a node in the state machine.
type Phase struct {
	Name          string            `json:"name" yaml:"name"`
	EvaluateOn    []types.Timeframe `json:"evaluate_on" yaml:"evaluate_on"`
	Transitions   []Transition      `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Timeout       *Timeout          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Rules         []PMRule          `json:"position_management,omitempty" yaml:"position_management,omitempty"`
	OnTradeClosed string            `json:"on_trade_closed,omitempty" yaml:"on_trade_closed,omitempty"`
}

// Timeout transitions the instance to Target after Bars closes of Timeframe
// spent in the phase.
type Timeout struct {
	Timeframe types.Timeframe `json:"timeframe" yaml:"timeframe"`
	Bars      int             `json:"bars" yaml:"bars"`
	Target    string          `json:"target" yaml:"target"`
}

// Transition is an edge of the state machine, guarded by a condition and
// annotated with actions. Highest priority wins.
type Transition struct {
	Target    string         `json:"target" yaml:"target"`
	Priority  int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Condition expr.Condition `json:"condition" yaml:"condition"`
	Actions   []Action       `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ActionType enumerates the transition action kinds.
type ActionType string

const (
	ActionSetVar     ActionType = "set_var"
	ActionOpenTrade  ActionType = "open_trade"
	ActionCloseTrade ActionType = "close_trade"
	ActionLog        ActionType = "log"
)

// Action is one transition side effect. Fields beyond Type are per-kind:
// set_var uses Var+Value, open_trade uses Direction plus optional Lot/SL/TP
// expressions, log uses Message.
type Action struct {
	Type      ActionType      `json:"type" yaml:"type"`
	Var       string          `json:"var,omitempty" yaml:"var,omitempty"`
	Value     string          `json:"value,omitempty" yaml:"value,omitempty"`
	Direction types.Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
	Lot       string          `json:"lot,omitempty" yaml:"lot,omitempty"`
	SL        string          `json:"sl,omitempty" yaml:"sl,omitempty"`
	TP        string          `json:"tp,omitempty" yaml:"tp,omitempty"`
	Message   string          `json:"message,omitempty" yaml:"message,omitempty"`
}

// PMRule is a position-management rule evaluated while a trade is open and
// no transition fired. Exactly one of the effect fields must be set.
type PMRule struct {
	Name     string         `json:"name" yaml:"name"`
	Once     bool           `json:"once,omitempty" yaml:"once,omitempty"`
	When     expr.Condition `json:"when" yaml:"when"`
	ModifySL string         `json:"modify_sl,omitempty" yaml:"modify_sl,omitempty"`
	ModifyTP string         `json:"modify_tp,omitempty" yaml:"modify_tp,omitempty"`
	TrailSL  string         `json:"trail_sl,omitempty" yaml:"trail_sl,omitempty"`
	// PartialClosePct closes this percent of the open lot, expressed 0-100.
	PartialClosePct float64 `json:"partial_close_pct,omitempty" yaml:"partial_close_pct,omitempty"`
}

// Phase returns the named phase, or nil.
func (p *Playbook) Phase(name string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].Name == name {
			return &p.Phases[i]
		}
	}
	return nil
}

// IndicatorConfig returns the indicator configuration with the given id, or
// nil.
func (p *Playbook) IndicatorConfig(id string) *indicators.Config {
	for i := range p.Indicators {
		if p.Indicators[i].ID == id {
			return &p.Indicators[i]
		}
	}
	return nil
}

// Timeframes returns the distinct timeframes referenced by the playbook's
// indicators and phase evaluate-on lists, primary candidates first in
// declaration order.
func (p *Playbook) Timeframes() []types.Timeframe {
	seen := make(map[types.Timeframe]bool)
	var out []types.Timeframe
	add := func(tf types.Timeframe) {
		if tf != "" && !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	for _, ph := range p.Phases {
		for _, tf := range ph.EvaluateOn {
			add(tf)
		}
	}
	for _, cfg := range p.Indicators {
		add(cfg.Timeframe)
	}
	return out
}

// EvaluatesOn reports whether the phase evaluates on the given timeframe.
func (ph *Phase) EvaluatesOn(tf types.Timeframe) bool {
	for _, t := range ph.EvaluateOn {
		if t == tf {
			return true
		}
	}
	return false
}
