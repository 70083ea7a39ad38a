package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/internal/expr"
	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

func rule(left, op, right string) expr.Rule {
	return expr.Rule{Left: left, Op: op, Right: right}
}

func andCond(rules ...expr.Rule) expr.Condition {
	return expr.Condition{Kind: "AND", Rules: rules}
}

// testPlaybook: idle -> in_pos on rsi < 30, close on rsi > 70, trade-closed
// edge back to idle.
func testPlaybook() *playbook.Playbook {
	pb := &playbook.Playbook{
		ID:           "test",
		Symbols:      []string{"XAUUSD"},
		InitialPhase: "idle",
		Indicators: []indicators.Config{
			{ID: "rsi", Name: "rsi", Timeframe: types.TimeframeM15},
		},
		Variables: []playbook.Variable{
			{Name: "stop", Type: playbook.VarFloat, Default: 0.0},
		},
		Risk: playbook.RiskLimits{MaxLot: 1.0, MaxDailyTrades: 10, MaxOpenPositions: 1},
		Breaker: playbook.BreakerConfig{
			MaxConsecutiveLosses: 3,
			CooldownMinutes:      60,
		},
		Phases: []playbook.Phase{
			{
				Name:       "idle",
				EvaluateOn: []types.Timeframe{types.TimeframeM15},
				Transitions: []playbook.Transition{
					{
						Target:    "in_pos",
						Condition: andCond(rule("ind.rsi.value", "<", "30")),
						Actions: []playbook.Action{
							{Type: playbook.ActionSetVar, Var: "stop", Value: "_price - 5"},
							{Type: playbook.ActionOpenTrade, Direction: types.DirectionLong,
								Lot: "0.1", SL: "var.stop", TP: "_price + 10"},
						},
					},
				},
			},
			{
				Name:          "in_pos",
				EvaluateOn:    []types.Timeframe{types.TimeframeM15},
				OnTradeClosed: "idle",
				Rules: []playbook.PMRule{
					{
						Name:     "breakeven",
						Once:     true,
						When:     andCond(rule("trade.pnl", ">", "0")),
						ModifySL: "trade.open_price",
					},
				},
				Transitions: []playbook.Transition{
					{
						Target:    "idle",
						Condition: andCond(rule("ind.rsi.value", ">", "70")),
						Actions:   []playbook.Action{{Type: playbook.ActionCloseTrade}},
					},
				},
			},
		},
	}
	return pb
}

func inputAt(i int, rsi float64) EvalInput {
	t := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute)
	return EvalInput{
		Timeframe: types.TimeframeM15,
		Bar:       types.Bar{Symbol: "XAUUSD", Timeframe: types.TimeframeM15, Time: t, Open: 2000, High: 2001, Low: 1999, Close: 2000},
		Price:     2000,
		Indicators: map[string]map[string]float64{
			"rsi": {"value": rsi},
		},
		Time: t.Add(15 * time.Minute),
	}
}

func TestInstance_EntrySignal(t *testing.T) {
	inst := NewInstance(testPlaybook(), "XAUUSD", zerolog.Nop())

	res := inst.OnBarClose(inputAt(0, 50))
	assert.True(t, res.Evaluated)
	assert.False(t, res.Transitioned)
	assert.Empty(t, res.Signals)
	assert.Equal(t, 1, res.State.BarsInPhase)

	res = inst.OnBarClose(inputAt(1, 25))
	require.True(t, res.Transitioned)
	require.Len(t, res.Signals, 1)
	sig := res.Signals[0]
	assert.Equal(t, types.DirectionLong, sig.Direction)
	assert.Equal(t, 0.1, sig.Lot)
	assert.Equal(t, 1995.0, sig.SL) // set_var ran before open_trade
	assert.Equal(t, 2010.0, sig.TP)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, "in_pos", res.State.Phase)
	assert.Equal(t, 0, res.State.BarsInPhase, "transition resets bars_in_phase")
}

func TestInstance_WrongTimeframeIgnored(t *testing.T) {
	inst := NewInstance(testPlaybook(), "XAUUSD", zerolog.Nop())
	in := inputAt(0, 10)
	in.Timeframe = types.TimeframeH1
	res := inst.OnBarClose(in)
	assert.False(t, res.Evaluated)
	assert.Equal(t, 0, inst.State().BarsInPhase)
}

func TestInstance_AtMostOnePosition(t *testing.T) {
	inst := NewInstance(testPlaybook(), "XAUUSD", zerolog.Nop())

	res := inst.OnBarClose(inputAt(0, 25))
	require.Len(t, res.Signals, 1)
	inst.TradeOpened(1, types.DirectionLong, 2000.3, 1995, 2010, 0.1, time.Now())

	// back in idle via trade close would be needed to re-enter; force the
	// entry condition while a trade is open from the in_pos phase
	inst.state.enterPhase("idle")
	res = inst.OnBarClose(inputAt(1, 20))
	assert.True(t, res.Transitioned)
	assert.Empty(t, res.Signals, "open suppressed while a position is open")
}

func TestInstance_OnceOnlyRule(t *testing.T) {
	inst := NewInstance(testPlaybook(), "XAUUSD", zerolog.Nop())

	res := inst.OnBarClose(inputAt(0, 25))
	require.Len(t, res.Signals, 1)
	inst.TradeOpened(7, types.DirectionLong, 2000.3, 1995, 2010, 0.1, time.Now())
	inst.UpdatePnL(12)

	res = inst.OnBarClose(inputAt(1, 50))
	require.Len(t, res.Events, 1)
	assert.Equal(t, MgmtModifySL, res.Events[0].Kind)
	assert.Equal(t, 2000.3, res.Events[0].SL)
	assert.Equal(t, 2000.3, inst.State().Trade.SL, "effect mirrored on the snapshot")

	res = inst.OnBarClose(inputAt(2, 50))
	assert.Empty(t, res.Events, "once-only rule fired twice")

	// leaving and re-entering the phase re-arms the rule
	state := inst.TradeClosed(12, time.Now())
	assert.Equal(t, "idle", state.Phase)
	res = inst.OnBarClose(inputAt(3, 25))
	require.Len(t, res.Signals, 1)
	inst.TradeOpened(8, types.DirectionLong, 2000.3, 1995, 2010, 0.1, time.Now())
	inst.UpdatePnL(5)
	res = inst.OnBarClose(inputAt(4, 50))
	assert.Len(t, res.Events, 1)
}

func TestInstance_PartialCloseRule(t *testing.T) {
	pb := testPlaybook()
	pb.Phases[1].Rules = []playbook.PMRule{
		{
			Name:            "bank_half",
			Once:            true,
			When:            andCond(rule("trade.pnl", ">", "0")),
			PartialClosePct: 50,
		},
	}
	inst := NewInstance(pb, "XAUUSD", zerolog.Nop())

	res := inst.OnBarClose(inputAt(0, 25))
	require.Len(t, res.Signals, 1)
	inst.TradeOpened(9, types.DirectionLong, 2000.3, 1995, 2010, 0.1, time.Now())
	inst.UpdatePnL(12)

	res = inst.OnBarClose(inputAt(1, 50))
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, MgmtPartialClose, ev.Kind)
	assert.Equal(t, 50.0, ev.Percent)
	assert.Equal(t, "bank_half", ev.Rule)
	assert.InDelta(t, 0.05, inst.State().Trade.Lot, 1e-9, "snapshot lot reduced by the closed fraction")

	res = inst.OnBarClose(inputAt(2, 50))
	assert.Empty(t, res.Events, "once-only partial close fired twice")
	assert.InDelta(t, 0.05, inst.State().Trade.Lot, 1e-9)
}

func TestInstance_Timeout(t *testing.T) {
	pb := testPlaybook()
	pb.Phases[0].Timeout = &playbook.Timeout{
		Timeframe: types.TimeframeM15,
		Bars:      3,
		Target:    "in_pos",
	}
	inst := NewInstance(pb, "XAUUSD", zerolog.Nop())

	for i := 0; i < 2; i++ {
		res := inst.OnBarClose(inputAt(i, 50))
		assert.False(t, res.Transitioned)
	}
	res := inst.OnBarClose(inputAt(2, 50))
	assert.True(t, res.TimedOut)
	assert.Equal(t, "in_pos", res.State.Phase)
	assert.Equal(t, 0, res.State.BarsInPhase)
	assert.Empty(t, res.Signals, "timeout runs no transition actions")
}

func TestInstance_CircuitBreaker(t *testing.T) {
	inst := NewInstance(testPlaybook(), "XAUUSD", zerolog.Nop())
	at := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		inst.TradeClosed(-10, at)
	}
	state := inst.State()
	assert.True(t, state.CBTripped)
	assert.Equal(t, at, state.CBTrippedAt)

	// entry condition true, but opens are suppressed
	res := inst.OnBarClose(inputAt(0, 20))
	assert.True(t, res.Transitioned, "transition itself still fires")
	assert.Empty(t, res.Signals, "open_trade suppressed while tripped")

	// cooldown elapsed: auto-reset on next open attempt
	inst.state.enterPhase("idle")
	in := inputAt(1, 20)
	in.Time = at.Add(2 * time.Hour)
	res = inst.OnBarClose(in)
	assert.Len(t, res.Signals, 1)
	assert.False(t, inst.State().CBTripped)
}

func TestInstance_BreakerManualReset(t *testing.T) {
	inst := NewInstance(testPlaybook(), "XAUUSD", zerolog.Nop())
	at := time.Now()
	for i := 0; i < 3; i++ {
		inst.TradeClosed(-10, at)
	}
	require.True(t, inst.State().CBTripped)
	inst.ResetBreaker()
	s := inst.State()
	assert.False(t, s.CBTripped)
	assert.Equal(t, 0, s.ConsecutiveLosses)
}

func TestInstance_WinResetsLossStreak(t *testing.T) {
	inst := NewInstance(testPlaybook(), "XAUUSD", zerolog.Nop())
	at := time.Now()
	inst.TradeClosed(-10, at)
	inst.TradeClosed(-10, at)
	inst.TradeClosed(40, at)
	inst.TradeClosed(-10, at)
	s := inst.State()
	assert.False(t, s.CBTripped)
	assert.Equal(t, 1, s.ConsecutiveLosses)
}

func TestInstance_DailyTradeLimit(t *testing.T) {
	pb := testPlaybook()
	pb.Risk.MaxDailyTrades = 1
	inst := NewInstance(pb, "XAUUSD", zerolog.Nop())

	res := inst.OnBarClose(inputAt(0, 20))
	require.Len(t, res.Signals, 1)
	inst.TradeOpened(1, types.DirectionLong, 2000, 1995, 2010, 0.1, time.Now())
	inst.TradeClosed(5, time.Now())

	res = inst.OnBarClose(inputAt(1, 20))
	assert.Empty(t, res.Signals, "daily limit not enforced")

	// next UTC day the counter rolls over
	in := inputAt(2, 20)
	in.Time = in.Time.Add(24 * time.Hour)
	inst.state.enterPhase("idle")
	res = inst.OnBarClose(in)
	assert.Len(t, res.Signals, 1)
}

func TestInstance_TrailNeverAdverse(t *testing.T) {
	pb := testPlaybook()
	pb.Phases[1].Rules = []playbook.PMRule{
		{
			Name:    "trail",
			When:    andCond(rule("trade.pnl", ">", "0")),
			TrailSL: "3",
		},
	}
	inst := NewInstance(pb, "XAUUSD", zerolog.Nop())

	res := inst.OnBarClose(inputAt(0, 20))
	require.Len(t, res.Signals, 1)
	inst.TradeOpened(1, types.DirectionLong, 2000, 1995, 2020, 0.1, time.Now())
	inst.UpdatePnL(10)

	// close 2000 -> candidate 1997, above the 1995 stop: trail fires
	res = inst.OnBarClose(inputAt(1, 50))
	require.Len(t, res.Events, 1)
	assert.Equal(t, MgmtTrailSL, res.Events[0].Kind)
	assert.Equal(t, 1997.0, res.Events[0].SL)

	// price retreats: candidate 1996 is below the current 1997 stop
	in := inputAt(2, 50)
	in.Bar.Close = 1999
	in.Price = 1999
	res = inst.OnBarClose(in)
	assert.Empty(t, res.Events, "trailing stop moved adverse to the trade")
}

func TestInstance_PrevIndicatorStore(t *testing.T) {
	pb := testPlaybook()
	// cross-down entry: rsi < 30 now, >= 30 on the previous bar
	pb.Phases[0].Transitions[0].Condition = andCond(
		rule("ind.rsi.value", "<", "30"),
		rule("prev.rsi.value", ">=", "30"),
	)
	inst := NewInstance(pb, "XAUUSD", zerolog.Nop())

	// first bar: prev store empty, rule false even though rsi < 30
	res := inst.OnBarClose(inputAt(0, 25))
	assert.False(t, res.Transitioned)

	res = inst.OnBarClose(inputAt(1, 35))
	assert.False(t, res.Transitioned)

	res = inst.OnBarClose(inputAt(2, 25))
	assert.True(t, res.Transitioned, "cross-down through 30 not detected")
}

func TestInstance_FailedActionExprIsNoOp(t *testing.T) {
	pb := testPlaybook()
	pb.Phases[0].Transitions[0].Actions = []playbook.Action{
		{Type: playbook.ActionSetVar, Var: "stop", Value: "ind.missing.value"},
		{Type: playbook.ActionOpenTrade, Direction: types.DirectionLong, Lot: "1 / 0", SL: "", TP: ""},
	}
	inst := NewInstance(pb, "XAUUSD", zerolog.Nop())

	res := inst.OnBarClose(inputAt(0, 20))
	require.Len(t, res.Signals, 1)
	assert.Equal(t, 0.0, res.State.Vars["stop"], "failed set_var must be a no-op")
	assert.Equal(t, 0.01, res.Signals[0].Lot, "failed lot expression must fall back to the default")
}

func TestInstance_LotCappedByRisk(t *testing.T) {
	pb := testPlaybook()
	pb.Phases[0].Transitions[0].Actions = []playbook.Action{
		{Type: playbook.ActionOpenTrade, Direction: types.DirectionLong, Lot: "5"},
	}
	inst := NewInstance(pb, "XAUUSD", zerolog.Nop())
	res := inst.OnBarClose(inputAt(0, 20))
	require.Len(t, res.Signals, 1)
	assert.Equal(t, 1.0, res.Signals[0].Lot)
}
