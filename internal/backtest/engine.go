package backtest

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/engine"
	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/internal/multitf"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Engine replays a playbook over historical bars with the exact transition
// semantics of the live state machine: both drive the same instance code, so
// identical bars produce identical decisions. The replay is strictly
// deterministic: no randomness, no wall clock, no parallelism within a run.
type Engine struct {
	pb   *playbook.Playbook
	cfg  Config
	bars map[types.Timeframe][]types.Bar
	log  zerolog.Logger

	mtf  *multitf.Engine
	inst *engine.Instance

	balance float64
	pos     *position
	tickets int64

	result *Result
}

// position is the replayer's open-trade bookkeeping, mirrored onto the
// instance's trade snapshot through the opened/closed notifications.
type position struct {
	ticket      int64
	direction   types.Direction
	openIndex   int
	signalPrice float64
	openPrice   float64
	sl, tp      float64
	lot         float64 // remaining lot, reduced by partial closes
	openLot     float64
	phase       string
	vars        map[string]float64
	inds        map[string]map[string]float64

	// realizations from partial closes, folded into the trade record when
	// the remainder closes
	realized           float64
	realizedCommission float64
}

// New prepares a backtest run. Bars must contain the primary timeframe plus
// every timeframe the playbook's indicators and evaluate-on lists reference.
func New(pb *playbook.Playbook, cfg Config, bars map[types.Timeframe][]types.Bar, log zerolog.Logger) *Engine {
	return &Engine{
		pb:   pb,
		cfg:  cfg,
		bars: bars,
		log:  log.With().Str("component", "backtest").Str("playbook", pb.ID).Logger(),
	}
}

// Run executes the replay and returns the result. Configuration problems
// surface as an error before the loop runs; mid-replay failures close the
// open position at the last valid bar and surface in the result metadata.
func (e *Engine) Run() (*Result, error) {
	if err := e.prepare(); err != nil {
		return nil, err
	}

	primary := e.bars[e.cfg.Timeframe]
	warmup := indicators.Warmup(e.pb.Indicators, len(primary))
	e.result.WarmupBars = warmup

	e.balance = e.cfg.StartingBalance
	e.result.EquityCurve = append(e.result.EquityCurve, e.balance)

	secondary := e.secondaryTimeframes()
	nextClose := make(map[types.Timeframe]int, len(secondary))

	// position every secondary cursor at the first bar closing after the
	// warmup bar opens, so pre-warmup closes never fire evaluations
	warmupOpen := primary[warmup].Time
	for _, tf := range secondary {
		arr := e.bars[tf]
		j := 0
		for j < len(arr) && arr[j].Time.Add(tf.Duration()).Before(warmupOpen) {
			j++
		}
		nextClose[tf] = j
	}

	for i := warmup; i < len(primary); i++ {
		if err := e.step(i, secondary, nextClose); err != nil {
			e.failClosed(i, err)
			break
		}
		bar := primary[i]
		e.result.EquityCurve = append(e.result.EquityCurve, e.balance+e.unrealized(bar.Close))
		e.result.BarsReplayed++
	}

	if e.pos != nil {
		last := len(primary) - 1
		e.closePosition(last, primary[last].Close, ExitEndOfData)
		// the final point must reflect the realized balance
		e.result.EquityCurve[len(e.result.EquityCurve)-1] = e.balance
	}

	e.result.FinalState = e.inst.State()
	e.result.DrawdownCurve = drawdownCurve(e.result.EquityCurve)
	e.result.Metrics = ComputeMetrics(e.result.Trades, e.result.EquityCurve, e.cfg.StartingBalance)
	return e.result, nil
}

func (e *Engine) prepare() error {
	if e.cfg.StartingBalance <= 0 {
		return fmt.Errorf("backtest: starting balance must be positive")
	}
	if !e.cfg.Timeframe.Valid() {
		return fmt.Errorf("backtest: bad primary timeframe %q", e.cfg.Timeframe)
	}

	// clip every timeframe to the configured date range
	if !e.cfg.From.IsZero() || !e.cfg.To.IsZero() {
		clipped := make(map[types.Timeframe][]types.Bar, len(e.bars))
		for tf, arr := range e.bars {
			clipped[tf] = clipRange(arr, e.cfg)
		}
		e.bars = clipped
	}

	primary := e.bars[e.cfg.Timeframe]
	warmup := indicators.Warmup(e.pb.Indicators, len(primary))
	if len(primary) <= warmup+1 {
		return fmt.Errorf("backtest: not enough bars: have %d, warmup needs %d", len(primary), warmup)
	}

	e.mtf = multitf.New(e.cfg.Timeframe, e.bars)
	if err := e.mtf.Precompute(e.pb.Indicators); err != nil {
		return err
	}
	e.inst = engine.NewInstance(e.pb, e.cfg.Symbol, e.log)
	e.result = &Result{Config: e.cfg, PlaybookID: e.pb.ID}
	return nil
}

func clipRange(bars []types.Bar, cfg Config) []types.Bar {
	lo, hi := 0, len(bars)
	if !cfg.From.IsZero() {
		for lo < hi && bars[lo].Time.Before(cfg.From) {
			lo++
		}
	}
	if !cfg.To.IsZero() {
		for hi > lo && bars[hi-1].Time.After(cfg.To) {
			hi--
		}
	}
	return bars[lo:hi]
}

// secondaryTimeframes lists the playbook's non-primary evaluate-on
// timeframes that have bars loaded, longest duration first.
func (e *Engine) secondaryTimeframes() []types.Timeframe {
	var out []types.Timeframe
	for _, tf := range e.pb.Timeframes() {
		if tf == e.cfg.Timeframe {
			continue
		}
		if _, ok := e.bars[tf]; !ok {
			continue
		}
		evaluated := false
		for _, ph := range e.pb.Phases {
			if ph.EvaluatesOn(tf) {
				evaluated = true
				break
			}
		}
		if evaluated {
			out = append(out, tf)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].Duration() > out[b].Duration()
	})
	return out
}

// step replays one primary bar: SL/TP fills first, then evaluations for
// every timeframe whose bar closed by this primary close, higher timeframes
// first, primary last.
func (e *Engine) step(i int, secondary []types.Timeframe, nextClose map[types.Timeframe]int) error {
	primary := e.bars[e.cfg.Timeframe]
	bar := primary[i]
	closeTime := bar.Time.Add(e.cfg.Timeframe.Duration())

	if e.pos != nil {
		if hit, price, reason := e.checkStops(bar); hit {
			e.closePosition(i, price, reason)
		}
	}
	if e.pos != nil {
		e.inst.UpdatePnL(e.unrealized(bar.Close))
	}

	outputs, err := e.outputsAt(i)
	if err != nil {
		return err
	}

	for _, tf := range secondary {
		arr := e.bars[tf]
		for nextClose[tf] < len(arr) && !arr[nextClose[tf]].Time.Add(tf.Duration()).After(closeTime) {
			j := nextClose[tf]
			nextClose[tf]++
			res := e.inst.OnBarClose(engine.EvalInput{
				Timeframe:  tf,
				Bar:        arr[j],
				Price:      bar.Close,
				Indicators: outputs,
				Time:       closeTime,
			})
			e.handle(res, i, bar, outputs)
		}
	}

	res := e.inst.OnBarClose(engine.EvalInput{
		Timeframe:  e.cfg.Timeframe,
		Bar:        bar,
		Price:      bar.Close,
		Indicators: outputs,
		Time:       closeTime,
	})
	e.handle(res, i, bar, outputs)
	return nil
}

// outputsAt assembles the aligned indicator outputs at primary index i from
// the precomputed series, in the map shape expressions consume.
func (e *Engine) outputsAt(i int) (map[string]map[string]float64, error) {
	outputs := make(map[string]map[string]float64, len(e.pb.Indicators))
	for _, cfg := range e.pb.Indicators {
		out, err := e.mtf.Lookup(cfg.ID, i)
		if err != nil {
			return nil, err
		}
		if out != nil {
			outputs[cfg.ID] = out
		}
	}
	return outputs, nil
}

func (e *Engine) handle(res engine.Result, i int, bar types.Bar, outputs map[string]map[string]float64) {
	if !res.Evaluated {
		return
	}

	if res.TimedOut && e.pos != nil {
		e.closePosition(i, bar.Close, ExitTimeout)
		return
	}

	for _, sig := range res.Signals {
		if sig.Direction.IsEntry() {
			e.openPosition(i, sig, res.State, outputs)
		} else if e.pos != nil {
			e.closePosition(i, bar.Close, ExitTransition)
		}
	}

	if e.pos != nil {
		for _, ev := range res.Events {
			switch ev.Kind {
			case engine.MgmtModifySL, engine.MgmtTrailSL:
				e.pos.sl = ev.SL
			case engine.MgmtModifyTP:
				e.pos.tp = ev.TP
			case engine.MgmtPartialClose:
				e.partialClose(bar.Close, ev.Percent)
			}
		}
	}
}

// checkStops tests the bar range against the open position's SL and TP.
// When both lie within [low, high] the conservative assumption is that SL
// was hit first.
func (e *Engine) checkStops(bar types.Bar) (bool, float64, ExitReason) {
	pos := e.pos
	var slHit, tpHit bool
	if pos.direction == types.DirectionLong {
		slHit = pos.sl != 0 && bar.Low <= pos.sl
		tpHit = pos.tp != 0 && bar.High >= pos.tp
	} else {
		slHit = pos.sl != 0 && bar.High >= pos.sl
		tpHit = pos.tp != 0 && bar.Low <= pos.tp
	}
	if slHit {
		return true, pos.sl, ExitSL
	}
	if tpHit {
		return true, pos.tp, ExitTP
	}
	return false, 0, ""
}

// openPosition fills an entry signal, applying spread and slippage adversely
// to the signal price, and snapshots the entry context for journaling.
func (e *Engine) openPosition(i int, sig engine.Signal, state *engine.State, outputs map[string]map[string]float64) {
	adj := types.PipsToPrice(e.cfg.Symbol, e.cfg.SpreadPips/2+e.cfg.SlippagePips)
	entry := sig.Price + adj
	if sig.Direction == types.DirectionShort {
		entry = sig.Price - adj
	}

	e.tickets++
	vars := make(map[string]float64, len(state.Vars))
	for k, v := range state.Vars {
		vars[k] = v
	}
	inds := make(map[string]map[string]float64, len(outputs))
	for id, out := range outputs {
		cp := make(map[string]float64, len(out))
		for k, v := range out {
			cp[k] = v
		}
		inds[id] = cp
	}

	e.pos = &position{
		ticket:      e.tickets,
		direction:   sig.Direction,
		openIndex:   i,
		signalPrice: sig.Price,
		openPrice:   entry,
		sl:          sig.SL,
		tp:          sig.TP,
		lot:         sig.Lot,
		openLot:     sig.Lot,
		phase:       sig.Phase,
		vars:        vars,
		inds:        inds,
	}
	closeTime := e.bars[e.cfg.Timeframe][i].Time.Add(e.cfg.Timeframe.Duration())
	e.inst.TradeOpened(e.pos.ticket, sig.Direction, entry, sig.SL, sig.TP, sig.Lot, closeTime)
}

func (e *Engine) unrealized(price float64) float64 {
	if e.pos == nil {
		return 0
	}
	dist := price - e.pos.openPrice
	if e.pos.direction == types.DirectionShort {
		dist = -dist
	}
	return types.PnL(e.cfg.Symbol, dist, e.pos.lot)
}

func (e *Engine) closePosition(i int, price float64, reason ExitReason) {
	pos := e.pos
	e.pos = nil

	dist := price - pos.openPrice
	if pos.direction == types.DirectionShort {
		dist = -dist
	}
	gross := types.PnL(e.cfg.Symbol, dist, pos.lot)
	commission := e.cfg.CommissionPerLot * pos.lot
	net := gross - commission
	e.balance += net

	// the trade record carries the whole position, partial realizations
	// included, so summed trade P&L always reconciles with final equity
	total := net + pos.realized
	totalCommission := commission + pos.realizedCommission

	primary := e.bars[e.cfg.Timeframe]
	openBar := primary[pos.openIndex]
	closeBar := primary[i]
	tfDur := e.cfg.Timeframe.Duration()

	outcome := OutcomeBreakeven
	if total > 0 {
		outcome = OutcomeWin
	} else if total < 0 {
		outcome = OutcomeLoss
	}

	rr := 0.0
	if risk := abs(pos.openPrice - pos.sl); pos.sl != 0 && risk > 0 {
		rr = abs(price-pos.openPrice) / risk
		if total < 0 {
			rr = -rr
		}
	}

	e.result.Trades = append(e.result.Trades, Trade{
		Direction:         pos.direction,
		OpenIndex:         pos.openIndex,
		CloseIndex:        i,
		OpenTime:          openBar.Time.Add(tfDur),
		CloseTime:         closeBar.Time.Add(tfDur),
		SignalPrice:       pos.signalPrice,
		OpenPrice:         pos.openPrice,
		ClosePrice:        price,
		SL:                pos.sl,
		TP:                pos.tp,
		Lot:               pos.openLot,
		PnL:               total,
		PnLPips:           types.PriceToPips(e.cfg.Symbol, dist),
		Commission:        totalCommission,
		RRAchieved:        rr,
		Outcome:           outcome,
		ExitReason:        reason,
		PhaseAtEntry:      pos.phase,
		VariablesAtEntry:  pos.vars,
		IndicatorsAtEntry: pos.inds,
	})

	e.inst.TradeClosed(total, closeBar.Time.Add(tfDur))
}

// partialClose realizes the closed fraction at the given price, charging
// pro-rata commission, and keeps the remainder open. The realization is
// accumulated on the position and folded into the trade record when the
// remainder closes.
func (e *Engine) partialClose(price float64, percent float64) {
	pos := e.pos
	closedLot := pos.lot * percent / 100
	if closedLot <= 0 {
		return
	}
	if closedLot > pos.lot {
		closedLot = pos.lot
	}
	dist := price - pos.openPrice
	if pos.direction == types.DirectionShort {
		dist = -dist
	}
	commission := e.cfg.CommissionPerLot * closedLot
	net := types.PnL(e.cfg.Symbol, dist, closedLot) - commission
	e.balance += net
	pos.lot -= closedLot
	pos.realized += net
	pos.realizedCommission += commission
}

// failClosed handles a mid-replay error: close the open position at the
// previous valid bar and record the error in the result metadata.
func (e *Engine) failClosed(i int, err error) {
	e.log.Error().Err(err).Int("bar", i).Msg("backtest failed mid-replay")
	e.result.Error = err.Error()
	if e.pos != nil {
		last := i
		if last > 0 {
			last--
		}
		e.closePosition(last, e.bars[e.cfg.Timeframe][last].Close, ExitEndOfData)
	}
}

func drawdownCurve(equity []float64) []float64 {
	out := make([]float64, len(equity))
	peak := 0.0
	for i, eq := range equity {
		if i == 0 || eq > peak {
			peak = eq
		}
		out[i] = eq - peak
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
