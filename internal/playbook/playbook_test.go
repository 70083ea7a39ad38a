package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/pkg/types"
)

const trendPullbackYAML = `
id: trend-pullback
name: Trend Pullback
symbols: [XAUUSD]
initial_phase: idle
indicators:
  - id: trend
    name: smc_structure
    timeframe: H4
    params:
      swing_length: 10
  - id: rsi
    name: rsi
    timeframe: M15
    params:
      period: 14
variables:
  - name: entry_low
    type: float
risk:
  max_lot: 0.5
  max_daily_trades: 4
circuit_breaker:
  max_consecutive_losses: 3
phases:
  - name: idle
    evaluate_on: [M15]
    transitions:
      - target: wait
        condition:
          kind: AND
          rules:
            - left: ind.trend.trend
              op: "=="
              right: "1"
              description: H4 uptrend
        actions:
          - type: set_var
            var: entry_low
            value: ind.trend.ref_low
  - name: wait
    evaluate_on: [M15]
    timeout:
      timeframe: H4
      bars: 20
      target: idle
    transitions:
      - target: in_pos
        priority: 10
        condition:
          kind: AND
          rules:
            - left: ind.rsi.value
              op: "<"
              right: "30"
            - left: prev.rsi.value
              op: ">="
              right: "30"
        actions:
          - type: open_trade
            direction: LONG
            lot: "0.1"
            sl: var.entry_low
            tp: _price + 2 * (_price - var.entry_low)
      - target: idle
        condition:
          kind: AND
          rules:
            - left: ind.trend.trend
              op: "!="
              right: "1"
  - name: in_pos
    evaluate_on: [M15]
    on_trade_closed: idle
    position_management:
      - name: breakeven
        once: true
        when:
          kind: AND
          rules:
            - left: trade.pnl
              op: ">"
              right: "0"
            - left: _price
              op: ">"
              right: trade.open_price + (trade.open_price - trade.sl)
        modify_sl: trade.open_price
      - name: trail
        when:
          kind: AND
          rules:
            - left: trade.pnl
              op: ">"
              right: "0"
        trail_sl: "3.0"
    transitions:
      - target: idle
        condition:
          kind: AND
          rules:
            - left: ind.trend.choch_bear
              op: "=="
              right: "1"
        actions:
          - type: close_trade
`

func TestParseYAML(t *testing.T) {
	pb, err := ParseYAML([]byte(trendPullbackYAML))
	require.NoError(t, err)

	assert.Equal(t, "trend-pullback", pb.ID)
	assert.Equal(t, 1, pb.Version)
	assert.Equal(t, AutonomySignalOnly, pb.Autonomy)
	assert.Equal(t, "idle", pb.InitialPhase)
	assert.Len(t, pb.Phases, 3)
	assert.Equal(t, 0.5, pb.Risk.MaxLot)
	assert.Equal(t, 1, pb.Risk.MaxOpenPositions) // default
	assert.Equal(t, 60, pb.Breaker.CooldownMinutes)

	wait := pb.Phase("wait")
	require.NotNil(t, wait)
	require.NotNil(t, wait.Timeout)
	assert.Equal(t, types.TimeframeH4, wait.Timeout.Timeframe)
	assert.Equal(t, 20, wait.Timeout.Bars)

	inPos := pb.Phase("in_pos")
	require.NotNil(t, inPos)
	assert.Equal(t, "idle", inPos.OnTradeClosed)
	require.Len(t, inPos.Rules, 2)
	assert.True(t, inPos.Rules[0].Once)
	assert.Equal(t, "trade.open_price", inPos.Rules[0].ModifySL)

	tfs := pb.Timeframes()
	assert.Contains(t, tfs, types.TimeframeM15)
	assert.Contains(t, tfs, types.TimeframeH4)
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Playbook {
		pb, err := ParseYAML([]byte(trendPullbackYAML))
		require.NoError(t, err)
		return pb
	}

	tests := []struct {
		name    string
		mutate  func(*Playbook)
		wantErr string
	}{
		{
			name:    "unknown indicator",
			mutate:  func(p *Playbook) { p.Indicators[0].Name = "nope" },
			wantErr: "unknown indicator",
		},
		{
			name:    "bad timeframe",
			mutate:  func(p *Playbook) { p.Indicators[0].Timeframe = "H7" },
			wantErr: "bad timeframe",
		},
		{
			name:    "unresolved transition target",
			mutate:  func(p *Playbook) { p.Phases[0].Transitions[0].Target = "ghost" },
			wantErr: "not defined",
		},
		{
			name:    "unresolved initial phase",
			mutate:  func(p *Playbook) { p.InitialPhase = "ghost" },
			wantErr: "not defined",
		},
		{
			name:    "bad operator",
			mutate:  func(p *Playbook) { p.Phases[0].Transitions[0].Condition.Rules[0].Op = "~=" },
			wantErr: "unknown operator",
		},
		{
			name:    "bad expression",
			mutate:  func(p *Playbook) { p.Phases[0].Transitions[0].Condition.Rules[0].Left = "ind.trend." },
			wantErr: "left",
		},
		{
			name:    "undeclared set_var target",
			mutate:  func(p *Playbook) { p.Phases[0].Transitions[0].Actions[0].Var = "ghost" },
			wantErr: "undeclared variable",
		},
		{
			name: "rule with two effects",
			mutate: func(p *Playbook) {
				p.Phases[2].Rules[0].ModifyTP = "trade.tp + 1"
			},
			wantErr: "exactly one",
		},
		{
			name:    "duplicate phase",
			mutate:  func(p *Playbook) { p.Phases[1].Name = "idle" },
			wantErr: "duplicate phase",
		},
		{
			name:    "open_trade exit direction",
			mutate:  func(p *Playbook) { p.Phases[1].Transitions[0].Actions[0].Direction = types.DirectionExitLong },
			wantErr: "direction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := base()
			tt.mutate(pb)
			err := pb.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{
		"id": "min",
		"symbols": ["EURUSD"],
		"phases": [
			{"name": "idle", "evaluate_on": ["M15"]}
		]
	}`
	pb, err := ParseJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "idle", pb.InitialPhase) // defaulted to the first phase
}
