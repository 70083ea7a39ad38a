package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/bridge"
	"github.com/minhle87/playbook-bot/internal/engine"
	"github.com/minhle87/playbook-bot/internal/monitoring"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// orderTimeout bounds one broker round trip from the executor.
const orderTimeout = 10 * time.Second

// executor routes engine output to the broker. Signals from signal_only
// playbooks are logged, auto playbooks are executed; fills and failures are
// reported back into the engine so breaker and daily counters stay honest.
type executor struct {
	client *bridge.Client
	engine *engine.Engine
	health *monitoring.HealthChecker
	log    zerolog.Logger

	mu        sync.Mutex
	playbooks map[string]*playbook.Playbook
	tickets   map[string]int64 // symbol -> open ticket
	tripped   map[string]bool  // playbook|symbol -> breaker open
}

func newExecutor(client *bridge.Client, health *monitoring.HealthChecker, log zerolog.Logger) *executor {
	return &executor{
		client:    client,
		health:    health,
		log:       log.With().Str("component", "executor").Logger(),
		playbooks: make(map[string]*playbook.Playbook),
		tickets:   make(map[string]int64),
		tripped:   make(map[string]bool),
	}
}

func (x *executor) register(pb *playbook.Playbook) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.playbooks[pb.ID] = pb
}

func (x *executor) autonomy(playbookID string) playbook.AutonomyMode {
	x.mu.Lock()
	defer x.mu.Unlock()
	if pb, ok := x.playbooks[playbookID]; ok {
		return pb.Autonomy
	}
	return playbook.AutonomySignalOnly
}

func (x *executor) onSignal(sig engine.Signal) {
	monitoring.RecordSignal(sig.PlaybookID, string(sig.Direction))
	x.health.SignalSeen(sig.Time)
	x.log.Info().
		Str("playbook", sig.PlaybookID).
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Float64("price", sig.Price).
		Str("reasoning", sig.Reasoning).
		Msg("signal")

	if x.autonomy(sig.PlaybookID) != playbook.AutonomyAuto {
		return
	}
	if sig.Direction.IsEntry() {
		x.open(sig)
		return
	}
	x.close(sig)
}

func (x *executor) open(sig engine.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	orderType := "buy"
	if sig.Direction == types.DirectionShort {
		orderType = "sell"
	}
	var sl, tp *float64
	if sig.SL > 0 {
		sl = &sig.SL
	}
	if sig.TP > 0 {
		tp = &sig.TP
	}

	res, err := x.client.OpenOrder(ctx, sig.Symbol, orderType, sig.Lot, sl, tp)
	if err != nil || !res.Success {
		monitoring.RecordError("order")
		x.engine.RecordError(sig.PlaybookID, sig.Symbol, orderError(err, res.Error))
		x.log.Error().Err(err).Str("remote_error", res.Error).
			Str("symbol", sig.Symbol).Msg("open order failed")
		return
	}

	x.mu.Lock()
	x.tickets[sig.Symbol] = res.Ticket
	x.mu.Unlock()
	x.engine.TradeOpened(sig.PlaybookID, sig.Symbol, res.Ticket, sig.Direction, res.OpenPrice, sig.SL, sig.TP, sig.Lot)
	x.log.Info().Int64("ticket", res.Ticket).Float64("open_price", res.OpenPrice).
		Str("symbol", sig.Symbol).Msg("order opened")
}

func (x *executor) close(sig engine.Signal) {
	x.mu.Lock()
	ticket, ok := x.tickets[sig.Symbol]
	x.mu.Unlock()
	if !ok {
		x.log.Warn().Str("symbol", sig.Symbol).Msg("exit signal with no tracked ticket")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	pnl := x.positionPnL(ctx, ticket)
	if err := x.client.CloseOrder(ctx, ticket); err != nil {
		monitoring.RecordError("order")
		x.engine.RecordError(sig.PlaybookID, sig.Symbol, err)
		x.log.Error().Err(err).Int64("ticket", ticket).Msg("close order failed")
		return
	}

	x.mu.Lock()
	delete(x.tickets, sig.Symbol)
	x.mu.Unlock()
	x.engine.TradeClosed(sig.PlaybookID, sig.Symbol, pnl)
	x.log.Info().Int64("ticket", ticket).Float64("pnl", pnl).Msg("order closed")
}

// positionPnL reads the broker-side P&L before closing; zero when the
// position cannot be found.
func (x *executor) positionPnL(ctx context.Context, ticket int64) float64 {
	positions, err := x.client.GetPositions(ctx)
	if err != nil {
		x.log.Warn().Err(err).Msg("position query failed, recording zero pnl")
		return 0
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return p.PnL
		}
	}
	return 0
}

func (x *executor) onEvent(symbol string, ev engine.ManagementEvent) {
	x.mu.Lock()
	ticket, ok := x.tickets[symbol]
	x.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	switch ev.Kind {
	case engine.MgmtModifySL, engine.MgmtTrailSL:
		sl := ev.SL
		if err := x.client.ModifyOrder(ctx, ticket, &sl, nil); err != nil {
			monitoring.RecordError("order")
			x.log.Error().Err(err).Int64("ticket", ticket).Str("rule", ev.Rule).Msg("modify sl failed")
		}
	case engine.MgmtModifyTP:
		tp := ev.TP
		if err := x.client.ModifyOrder(ctx, ticket, nil, &tp); err != nil {
			monitoring.RecordError("order")
			x.log.Error().Err(err).Int64("ticket", ticket).Str("rule", ev.Rule).Msg("modify tp failed")
		}
	case engine.MgmtPartialClose:
		// the bridge protocol has no partial close; surface it for the operator
		x.log.Warn().Int64("ticket", ticket).Float64("percent", ev.Percent).
			Str("rule", ev.Rule).Msg("partial close not supported by bridge, skipped")
	}
}

func (x *executor) onState(st *engine.State) {
	x.mu.Lock()
	x.tripped[st.PlaybookID+"|"+st.Symbol] = st.CBTripped
	open := 0
	for _, t := range x.tripped {
		if t {
			open++
		}
	}
	x.mu.Unlock()
	monitoring.SetBreakersOpen(open)
}

type orderFailure struct {
	transport error
	remote    string
}

func (e orderFailure) Error() string {
	if e.transport != nil {
		return e.transport.Error()
	}
	return e.remote
}

func orderError(transport error, remote string) error {
	return orderFailure{transport: transport, remote: remote}
}
