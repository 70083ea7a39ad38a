package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *Context {
	return &Context{
		Price: 1.2345,
		Indicators: map[string]map[string]float64{
			"rsi_m15":  {"value": 28.5},
			"macd_h1":  {"macd": 0.0012, "signal": 0.0008, "histogram": 0.0004},
			"trend_h4": {"trend": 1},
		},
		Previous: map[string]map[string]float64{
			"rsi_m15": {"value": 32.1},
		},
		Vars: map[string]float64{
			"entry_level": 1.2300,
			"armed":       1,
		},
		Trade: map[string]float64{
			"open_price": 1.2200, "sl": 1.2150, "tp": 1.2400, "lot": 0.5, "pnl": 72.5,
		},
		Risk: map[string]float64{
			"max_lot": 1.0, "max_daily_trades": 5, "max_drawdown_pct": 10, "max_open_positions": 1,
		},
	}
}

func TestEvaluate_Arithmetic(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"2 ** 10", 1024},
		{"2 ** 3 ** 2", 512}, // right associative
		{"-5 + 3", -2},
		{"--5", 5},
		{"_price", 1.2345},
		{"ind.rsi_m15.value", 28.5},
		{"prev.rsi_m15.value", 32.1},
		{"var.entry_level", 1.23},
		{"trade.pnl", 72.5},
		{"risk.max_lot", 1.0},
		{"abs(-3.5)", 3.5},
		{"min(2, 7)", 2},
		{"max(2, 7)", 7},
		{"round(1.23456, 2)", 1.23},
		{"round(1.6)", 2},
		{"sqrt(16)", 4},
		{"clamp(15, 0, 10)", 10},
		{"clamp(-2, 0, 10)", 0},
		{"clamp(5, 0, 10)", 5},
		{"iff(ind.rsi_m15.value < 30, 1, 0)", 1},
		{"iff(_price > 2, 100, 200)", 200},
		{"1 < 2", 1},
		{"2 < 1", 0},
	}

	for _, tt := range tests {
		got, err := Evaluate(tt.expr, ctx)
		require.NoError(t, err, "expr %q", tt.expr)
		assert.InDelta(t, tt.want, got, 1e-9, "expr %q", tt.expr)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	ctx := testContext()

	cases := []struct {
		name string
		expr string
		want error
	}{
		{"division by zero", "1 / 0", ErrDivisionByZero},
		{"modulo by zero", "1 % 0", ErrDivisionByZero},
		{"unresolved indicator", "ind.nope.value", ErrUnresolvedName},
		{"unresolved field", "ind.rsi_m15.nope", ErrUnresolvedName},
		{"unresolved variable", "var.nope", ErrUnresolvedName},
		{"bad trade field", "trade.nope", ErrUnresolvedName},
		{"bad risk field", "risk.nope", ErrUnresolvedName},
		{"unknown function", "frobnicate(1)", ErrUnknownFunction},
		{"bad arity", "min(1)", ErrBadArity},
		{"bad root", "account.balance", ErrUnresolvedName},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Evaluate(tc.expr, ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestEvaluate_NoOpenTrade(t *testing.T) {
	ctx := testContext()
	ctx.Trade = nil

	_, err := Evaluate("trade.pnl", ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedName))
}

func TestEvaluate_IffRequiresComparison(t *testing.T) {
	_, err := Evaluate("iff(1, 2, 3)", testContext())
	require.Error(t, err)
}

func TestEvaluate_SyntaxErrors(t *testing.T) {
	for _, expr := range []string{"1 +", "(1 + 2", "1 = 2", "a b", "import os", "ind..value"} {
		_, err := Evaluate(expr, testContext())
		assert.Error(t, err, "expr %q", expr)
	}
}

func TestEvaluate_NonFinite(t *testing.T) {
	_, err := Evaluate("sqrt(-1)", testContext())
	assert.Error(t, err)

	_, err = Evaluate("log(0)", testContext())
	assert.Error(t, err)
}

func TestEvaluateCondition_EmptyRules(t *testing.T) {
	ctx := testContext()

	assert.False(t, EvaluateCondition(&Condition{Kind: "AND"}, ctx))
	assert.False(t, EvaluateCondition(&Condition{Kind: "OR"}, ctx))
	assert.False(t, EvaluateCondition(nil, ctx))
}

func TestEvaluateCondition_Junctions(t *testing.T) {
	ctx := testContext()

	oversoldRule := Rule{Left: "ind.rsi_m15.value", Op: "<", Right: "30", Description: "rsi oversold"}
	priceRule := Rule{Left: "_price", Op: ">", Right: "2", Description: "price above 2"}

	and := &Condition{Kind: "AND", Rules: []Rule{oversoldRule, priceRule}}
	or := &Condition{Kind: "OR", Rules: []Rule{oversoldRule, priceRule}}

	assert.False(t, EvaluateCondition(and, ctx))
	assert.True(t, EvaluateCondition(or, ctx))
}

func TestEvaluateCondition_FailedExpressionIsFalse(t *testing.T) {
	ctx := testContext()

	cond := &Condition{Kind: "AND", Rules: []Rule{
		{Left: "ind.warmup_only.value", Op: ">", Right: "0"},
	}}

	passed, results := EvaluateConditionDetailed(cond, ctx)
	assert.False(t, passed)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
}

func TestEvaluateConditionDetailed_Attribution(t *testing.T) {
	ctx := testContext()

	cond := &Condition{Kind: "AND", Rules: []Rule{
		{Left: "ind.rsi_m15.value", Op: "<", Right: "30", Description: "oversold"},
		{Left: "ind.trend_h4.trend", Op: "==", Right: "1", Description: "uptrend"},
	}}

	passed, results := EvaluateConditionDetailed(cond, ctx)
	require.True(t, passed)
	require.Len(t, results, 2)

	assert.Equal(t, "oversold", results[0].Description)
	assert.InDelta(t, 28.5, results[0].LeftVal, 1e-9)
	assert.InDelta(t, 30.0, results[0].RightVal, 1e-9)
	assert.True(t, results[0].Passed)
	assert.True(t, results[1].Passed)
}

func TestEvaluate_Determinism(t *testing.T) {
	ctx := testContext()
	expr := "iff(ind.rsi_m15.value < 30, _price * 2, _price / 2) + var.entry_level ** 2"

	first, err := Evaluate(expr, ctx)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := Evaluate(expr, ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
