package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/expr"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// EvalInput carries everything one bar-close evaluation needs. The caller
// (live data manager or backtester) supplies the current-bar indicator
// outputs; the instance owns the previous-bar store, so both callers get
// identical decisions from identical inputs.
type EvalInput struct {
	Timeframe  types.Timeframe
	Bar        types.Bar
	Price      float64
	Indicators map[string]map[string]float64 // indicator id -> field -> value
	Time       time.Time                     // evaluation instant (bar close time in backtests)
}

// Result is the outcome of one evaluation.
type Result struct {
	Evaluated    bool
	Transitioned bool
	TimedOut     bool
	Signals      []Signal
	Events       []ManagementEvent
	State        *State
}

// Instance is the per-(playbook, symbol) state machine. Not safe for
// concurrent use; the engine serializes calls through a per-instance work
// queue.
type Instance struct {
	pb     *playbook.Playbook
	symbol string
	state  *State
	prev   map[string]map[string]float64
	brk    breaker
	log    zerolog.Logger

	defaultLot float64
}

// NewInstance creates an instance in the playbook's initial phase with
// variables at their defaults.
func NewInstance(pb *playbook.Playbook, symbol string, log zerolog.Logger) *Instance {
	state := &State{
		PlaybookID: pb.ID,
		Symbol:     symbol,
		Phase:      pb.InitialPhase,
		Vars:       make(map[string]float64),
		TFCounters: make(map[types.Timeframe]int),
		FiredRules: make(map[string]bool),
	}
	for _, v := range pb.Variables {
		switch v.Type {
		case playbook.VarString:
			if state.StringVars == nil {
				state.StringVars = make(map[string]string)
			}
			if s, ok := v.Default.(string); ok {
				state.StringVars[v.Name] = s
			}
		default:
			state.Vars[v.Name] = numericDefault(v.Default)
		}
	}
	return &Instance{
		pb:         pb,
		symbol:     symbol,
		state:      state,
		prev:       make(map[string]map[string]float64),
		brk:        breaker{cfg: pb.Breaker},
		log:        log.With().Str("playbook", pb.ID).Str("symbol", symbol).Logger(),
		defaultLot: 0.01,
	}
}

func numericDefault(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

// Playbook returns the playbook this instance runs.
func (in *Instance) Playbook() *playbook.Playbook { return in.pb }

// Symbol returns the instance's symbol.
func (in *Instance) Symbol() string { return in.symbol }

// State returns a snapshot of the instance state.
func (in *Instance) State() *State { return in.state.Clone() }

// ResetBreaker manually resets the circuit breaker.
func (in *Instance) ResetBreaker() {
	in.brk.reset(in.state)
	in.log.Info().Msg("circuit breaker manually reset")
}

// OnBarClose runs one evaluation for a closed bar of the given timeframe.
// SL/TP fills are not checked here: in live mode the bridge reports fills
// asynchronously, and the backtester checks them against the bar range
// before calling this.
func (in *Instance) OnBarClose(input EvalInput) Result {
	phase := in.pb.Phase(in.state.Phase)
	if phase == nil || !phase.EvaluatesOn(input.Timeframe) {
		return Result{}
	}

	res := Result{Evaluated: true}
	s := in.state
	s.LastEvaluated = input.Time

	ctx := in.buildContext(input)

	s.BarsInPhase++
	s.TFCounters[input.Timeframe]++

	// timeout wins over transitions
	if t := phase.Timeout; t != nil && s.TFCounters[t.Timeframe] >= t.Bars {
		in.log.Debug().Str("phase", s.Phase).Str("target", t.Target).Msg("phase timed out")
		s.enterPhase(t.Target)
		res.TimedOut = true
		res.Transitioned = true
		in.finishEvaluation(input, &res)
		return res
	}

	if tr, results := in.firstFiringTransition(phase, ctx); tr != nil {
		for _, act := range tr.Actions {
			in.runAction(&act, ctx, input, results, &res)
		}
		s.enterPhase(tr.Target)
		res.Transitioned = true
		in.finishEvaluation(input, &res)
		return res
	}

	if s.Trade != nil {
		in.managePosition(phase, ctx, input, &res)
	}

	in.finishEvaluation(input, &res)
	return res
}

// finishEvaluation copies current indicator outputs into the previous-bar
// store and snapshots the state for persistence.
func (in *Instance) finishEvaluation(input EvalInput, res *Result) {
	for id, out := range input.Indicators {
		cp := make(map[string]float64, len(out))
		for k, v := range out {
			cp[k] = v
		}
		in.prev[id] = cp
	}
	res.State = in.state.Clone()
}

func (in *Instance) buildContext(input EvalInput) *expr.Context {
	s := in.state
	ctx := &expr.Context{
		Price:      input.Price,
		Indicators: input.Indicators,
		Previous:   in.prev,
		Vars:       s.Vars,
		Risk: map[string]float64{
			"max_lot":            in.pb.Risk.MaxLot,
			"max_daily_trades":   float64(in.pb.Risk.MaxDailyTrades),
			"max_drawdown_pct":   in.pb.Risk.MaxDrawdownPct,
			"max_open_positions": float64(in.pb.Risk.MaxOpenPositions),
		},
	}
	if s.Trade != nil {
		ctx.Trade = map[string]float64{
			"open_price": s.Trade.OpenPrice,
			"sl":         s.Trade.SL,
			"tp":         s.Trade.TP,
			"lot":        s.Trade.Lot,
			"pnl":        s.Trade.PnL,
		}
	}
	return ctx
}

// firstFiringTransition evaluates the phase's transitions in priority order,
// highest first, declaration order breaking ties, and returns the first
// whose condition holds.
func (in *Instance) firstFiringTransition(phase *playbook.Phase, ctx *expr.Context) (*playbook.Transition, []expr.RuleResult) {
	order := make([]int, len(phase.Transitions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return phase.Transitions[order[a]].Priority > phase.Transitions[order[b]].Priority
	})
	for _, idx := range order {
		tr := &phase.Transitions[idx]
		if ok, results := expr.EvaluateConditionDetailed(&tr.Condition, ctx); ok {
			return tr, results
		}
	}
	return nil, nil
}

func (in *Instance) runAction(act *playbook.Action, ctx *expr.Context, input EvalInput, results []expr.RuleResult, res *Result) {
	switch act.Type {
	case playbook.ActionSetVar:
		v, err := expr.Evaluate(act.Value, ctx)
		if err != nil {
			in.log.Debug().Err(err).Str("var", act.Var).Str("expr", act.Value).Msg("set_var expression failed, action skipped")
			return
		}
		in.state.Vars[act.Var] = v

	case playbook.ActionOpenTrade:
		in.openTrade(act, ctx, input, results, res)

	case playbook.ActionCloseTrade:
		if in.state.Trade == nil {
			return
		}
		res.Signals = append(res.Signals, Signal{
			ID:         newSignalID(),
			PlaybookID: in.pb.ID,
			Phase:      in.state.Phase,
			Symbol:     in.symbol,
			Direction:  in.state.Trade.Direction.Opposite(),
			Price:      input.Price,
			Conditions: results,
			Reasoning:  "close_trade action",
			Time:       input.Time,
		})

	case playbook.ActionLog:
		in.log.Info().Str("phase", in.state.Phase).Msg(act.Message)
	}
}

func (in *Instance) openTrade(act *playbook.Action, ctx *expr.Context, input EvalInput, results []expr.RuleResult, res *Result) {
	s := in.state
	if s.Trade != nil {
		in.log.Debug().Msg("open_trade skipped: position already open")
		return
	}
	if !in.brk.allowOpen(s, input.Time) {
		in.log.Warn().Msg("open_trade suppressed: circuit breaker tripped")
		return
	}
	if !in.allowDailyTrade(input.Time) {
		in.log.Warn().Int("max", in.pb.Risk.MaxDailyTrades).Msg("open_trade suppressed: daily trade limit reached")
		return
	}

	lot := in.defaultLot
	if act.Lot != "" {
		if v, err := expr.Evaluate(act.Lot, ctx); err == nil && v > 0 {
			lot = v
		} else if err != nil {
			in.log.Debug().Err(err).Str("expr", act.Lot).Msg("lot expression failed, using default")
		}
	}
	if lot > in.pb.Risk.MaxLot {
		lot = in.pb.Risk.MaxLot
	}

	var sl, tp float64
	if act.SL != "" {
		if v, err := expr.Evaluate(act.SL, ctx); err == nil {
			sl = v
		} else {
			in.log.Debug().Err(err).Str("expr", act.SL).Msg("sl expression failed, opening without SL")
		}
	}
	if act.TP != "" {
		if v, err := expr.Evaluate(act.TP, ctx); err == nil {
			tp = v
		} else {
			in.log.Debug().Err(err).Str("expr", act.TP).Msg("tp expression failed, opening without TP")
		}
	}

	s.TradesToday++
	res.Signals = append(res.Signals, Signal{
		ID:         newSignalID(),
		PlaybookID: in.pb.ID,
		Phase:      s.Phase,
		Symbol:     in.symbol,
		Direction:  act.Direction,
		Price:      input.Price,
		Lot:        lot,
		SL:         sl,
		TP:         tp,
		Conditions: results,
		Reasoning:  reasoning(results),
		Time:       input.Time,
	})
}

// allowDailyTrade enforces the max_daily_trades risk gate, rolling the
// counter over at UTC midnight.
func (in *Instance) allowDailyTrade(now time.Time) bool {
	s := in.state
	day := now.UTC().Format("2006-01-02")
	if s.TradesTodayDate != day {
		s.TradesTodayDate = day
		s.TradesToday = 0
	}
	return in.pb.Risk.MaxDailyTrades <= 0 || s.TradesToday < in.pb.Risk.MaxDailyTrades
}

func reasoning(results []expr.RuleResult) string {
	var parts []string
	for _, r := range results {
		if !r.Passed {
			continue
		}
		desc := r.Description
		if desc == "" {
			desc = fmt.Sprintf("%s %s %s", r.LeftExpr, r.Op, r.RightExpr)
		}
		parts = append(parts, desc)
	}
	return strings.Join(parts, "; ")
}

// managePosition evaluates the phase's position-management rules in
// declared order against the open trade.
func (in *Instance) managePosition(phase *playbook.Phase, ctx *expr.Context, input EvalInput, res *Result) {
	s := in.state
	for i := range phase.Rules {
		rule := &phase.Rules[i]
		key := ruleKey(phase.Name, i, rule.Name)
		if rule.Once && s.FiredRules[key] {
			continue
		}
		if !expr.EvaluateCondition(&rule.When, ctx) {
			continue
		}

		ev, ok := in.ruleEffect(rule, ctx, input)
		if !ok {
			continue
		}
		in.applyEffect(ev)
		res.Events = append(res.Events, ev)
		if rule.Once {
			s.FiredRules[key] = true
		}
	}
}

func ruleKey(phase string, i int, name string) string {
	if name != "" {
		return phase + "/" + name
	}
	return fmt.Sprintf("%s/#%d", phase, i)
}

// ruleEffect turns a firing rule into a management event, or reports false
// when the effect does not apply (failed expression, trail not improving).
func (in *Instance) ruleEffect(rule *playbook.PMRule, ctx *expr.Context, input EvalInput) (ManagementEvent, bool) {
	trade := in.state.Trade
	ev := ManagementEvent{Rule: rule.Name}

	switch {
	case rule.ModifySL != "":
		v, err := expr.Evaluate(rule.ModifySL, ctx)
		if err != nil {
			in.log.Debug().Err(err).Str("rule", rule.Name).Msg("modify_sl expression failed")
			return ev, false
		}
		ev.Kind = MgmtModifySL
		ev.SL = v

	case rule.ModifyTP != "":
		v, err := expr.Evaluate(rule.ModifyTP, ctx)
		if err != nil {
			in.log.Debug().Err(err).Str("rule", rule.Name).Msg("modify_tp expression failed")
			return ev, false
		}
		ev.Kind = MgmtModifyTP
		ev.TP = v

	case rule.TrailSL != "":
		dist, err := expr.Evaluate(rule.TrailSL, ctx)
		if err != nil || dist <= 0 {
			if err != nil {
				in.log.Debug().Err(err).Str("rule", rule.Name).Msg("trail_sl expression failed")
			}
			return ev, false
		}
		// trail off the bar close and never move the stop adverse to the
		// trade; require at least one pip of progress
		minStep := types.Spec(in.symbol).PipSize
		var cand float64
		if trade.Direction == types.DirectionLong {
			cand = input.Bar.Close - dist
			if trade.SL != 0 && cand < trade.SL+minStep {
				return ev, false
			}
		} else {
			cand = input.Bar.Close + dist
			if trade.SL != 0 && cand > trade.SL-minStep {
				return ev, false
			}
		}
		ev.Kind = MgmtTrailSL
		ev.SL = cand

	case rule.PartialClosePct != 0:
		ev.Kind = MgmtPartialClose
		ev.Percent = rule.PartialClosePct

	default:
		return ev, false
	}
	return ev, true
}

// applyEffect mirrors the event onto the in-memory trade snapshot so later
// rules and expressions see the updated SL/TP. The executor applies the same
// event at the broker.
func (in *Instance) applyEffect(ev ManagementEvent) {
	trade := in.state.Trade
	switch ev.Kind {
	case MgmtModifySL, MgmtTrailSL:
		trade.SL = ev.SL
	case MgmtModifyTP:
		trade.TP = ev.TP
	case MgmtPartialClose:
		trade.Lot = trade.Lot * (1 - ev.Percent/100)
	}
}

// TradeOpened records the broker's fill for a signal this instance emitted.
func (in *Instance) TradeOpened(ticket int64, dir types.Direction, openPrice, sl, tp, lot float64, at time.Time) {
	in.state.Trade = &TradeSnapshot{
		Ticket:    ticket,
		Direction: dir,
		OpenPrice: openPrice,
		SL:        sl,
		TP:        tp,
		Lot:       lot,
		OpenTime:  at,
	}
	in.log.Info().Int64("ticket", ticket).Str("direction", string(dir)).
		Float64("open_price", openPrice).Float64("lot", lot).Msg("trade opened")
}

// UpdatePnL refreshes the open trade's floating P&L.
func (in *Instance) UpdatePnL(pnl float64) {
	if in.state.Trade != nil {
		in.state.Trade.PnL = pnl
	}
}

// TradeClosed records a close, updates the circuit breaker, and follows the
// phase's on_trade_closed edge when defined. Returns the emitted state.
func (in *Instance) TradeClosed(pnl float64, at time.Time) *State {
	s := in.state
	s.Trade = nil
	if pnl < 0 {
		in.brk.recordLoss(s, at)
	} else {
		in.brk.recordWin(s)
	}
	if phase := in.pb.Phase(s.Phase); phase != nil && phase.OnTradeClosed != "" {
		s.enterPhase(phase.OnTradeClosed)
	}
	in.log.Info().Float64("pnl", pnl).Str("phase", s.Phase).
		Bool("cb_tripped", s.CBTripped).Msg("trade closed")
	return s.Clone()
}

// RecordError counts an execution error toward the circuit breaker.
func (in *Instance) RecordError(err error, at time.Time) {
	in.brk.recordError(in.state, at)
	in.log.Error().Err(err).Int("consecutive_errors", in.state.ConsecutiveErrors).Msg("instance error")
}
