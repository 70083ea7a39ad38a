package datamgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/monitoring"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// defaultRingSize is the bar history kept per (symbol, timeframe).
const defaultRingSize = 200

// BarSource supplies recent bars; in production this is the bridge client.
type BarSource interface {
	GetBars(ctx context.Context, symbol string, tf types.Timeframe, count int) ([]types.Bar, error)
}

// BarCloseHandler is invoked once per newly closed bar.
type BarCloseHandler func(symbol string, tf types.Timeframe, bar types.Bar)

// Config configures the data manager.
type Config struct {
	Symbols    []string
	Timeframes []types.Timeframe
	RingSize   int
}

// Manager holds per-(symbol, timeframe) bar history, the latest tick per
// symbol, and cached indicator outputs. Bar closes are detected by polling
// the last two bars on every tick: when the newest opening time moves past
// the stored one, the previous bar has closed.
//
// OnTick is driven by the single tick-stream goroutine; the mutex exists for
// readers on other goroutines.
type Manager struct {
	cfg    Config
	source BarSource
	log    zerolog.Logger

	mu          sync.RWMutex
	rings       map[string]*ring
	lastTick    map[string]types.Tick
	lastBarTime map[string]time.Time
	seeded      map[string]bool
	indCache    map[string]map[string][]float64

	handlers []BarCloseHandler
}

// New creates a data manager for the configured symbols and timeframes.
func New(cfg Config, source BarSource, log zerolog.Logger) *Manager {
	if cfg.RingSize <= 0 {
		cfg.RingSize = defaultRingSize
	}
	return &Manager{
		cfg:         cfg,
		source:      source,
		log:         log.With().Str("component", "datamgr").Logger(),
		rings:       make(map[string]*ring),
		lastTick:    make(map[string]types.Tick),
		lastBarTime: make(map[string]time.Time),
		seeded:      make(map[string]bool),
		indCache:    make(map[string]map[string][]float64),
	}
}

// OnBarClose registers a handler. Register before ticks start flowing.
func (m *Manager) OnBarClose(h BarCloseHandler) {
	m.handlers = append(m.handlers, h)
}

// Prime fills the rings with history so indicators have warmup data before
// the first live bar close.
func (m *Manager) Prime(ctx context.Context) error {
	for _, symbol := range m.cfg.Symbols {
		for _, tf := range m.cfg.Timeframes {
			bars, err := m.source.GetBars(ctx, symbol, tf, m.cfg.RingSize)
			if err != nil {
				return fmt.Errorf("datamgr: prime %s %s: %w", symbol, tf, err)
			}
			key := barKey(symbol, tf)
			r := newRing(m.cfg.RingSize)
			for _, b := range bars {
				r.append(b)
			}
			m.mu.Lock()
			m.rings[key] = r
			if len(bars) > 0 {
				m.lastBarTime[key] = bars[len(bars)-1].Time
				m.seeded[key] = true
			}
			m.mu.Unlock()
			m.log.Info().Str("symbol", symbol).Str("timeframe", string(tf)).
				Int("bars", len(bars)).Msg("primed bar history")
		}
	}
	return nil
}

// OnTick ingests one quote: refresh the tick cache, then check each
// subscribed timeframe for a bar close.
func (m *Manager) OnTick(ctx context.Context, tick types.Tick) {
	if !m.subscribed(tick.Symbol) {
		return
	}
	m.mu.Lock()
	m.lastTick[tick.Symbol] = tick
	m.mu.Unlock()
	monitoring.RecordTick(tick.Symbol, tick.Bid)

	for _, tf := range m.cfg.Timeframes {
		m.checkBarClose(ctx, tick.Symbol, tf)
	}
}

func (m *Manager) checkBarClose(ctx context.Context, symbol string, tf types.Timeframe) {
	bars, err := m.source.GetBars(ctx, symbol, tf, 2)
	if err != nil {
		monitoring.RecordError("bridge")
		m.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).
			Msg("bar query failed")
		return
	}
	if len(bars) == 0 {
		return
	}
	newest := bars[len(bars)-1]
	key := barKey(symbol, tf)

	m.mu.Lock()
	stored, known := m.lastBarTime[key]
	if known && !newest.Time.After(stored) {
		m.mu.Unlock()
		return
	}
	m.lastBarTime[key] = newest.Time
	firstDetection := !m.seeded[key]
	m.seeded[key] = true

	var closed types.Bar
	haveClosed := !firstDetection && len(bars) >= 2
	if haveClosed {
		closed = bars[len(bars)-2]
		r, ok := m.rings[key]
		if !ok {
			r = newRing(m.cfg.RingSize)
			m.rings[key] = r
		}
		r.append(closed)
	}
	m.mu.Unlock()

	if firstDetection {
		// reflects pre-existing state at startup, not a new close
		return
	}
	if !haveClosed {
		return
	}

	monitoring.RecordBarClose(symbol, string(tf))
	m.log.Debug().Str("symbol", symbol).Str("timeframe", string(tf)).
		Time("bar_time", closed.Time).Msg("bar closed")
	for _, h := range m.handlers {
		h(symbol, tf, closed)
	}
}

// LastTick returns the most recent quote for a symbol.
func (m *Manager) LastTick(symbol string) (types.Tick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastTick[symbol]
	return t, ok
}

// Bars returns a copy of the held history, oldest first.
func (m *Manager) Bars(symbol string, tf types.Timeframe) []types.Bar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rings[barKey(symbol, tf)]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// SetIndicatorOutputs caches computed outputs for (symbol, timeframe, id).
func (m *Manager) SetIndicatorOutputs(symbol string, tf types.Timeframe, id string, outputs map[string][]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indCache[indKey(symbol, tf, id)] = outputs
}

// IndicatorOutputs returns cached outputs, if present.
func (m *Manager) IndicatorOutputs(symbol string, tf types.Timeframe, id string) (map[string][]float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, ok := m.indCache[indKey(symbol, tf, id)]
	return out, ok
}

func (m *Manager) subscribed(symbol string) bool {
	for _, s := range m.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func barKey(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

func indKey(symbol string, tf types.Timeframe, id string) string {
	return symbol + "|" + string(tf) + "|" + id
}

// ring is a fixed-capacity bar window, oldest first.
type ring struct {
	cap  int
	bars []types.Bar
}

func newRing(capacity int) *ring {
	return &ring{cap: capacity}
}

func (r *ring) append(b types.Bar) {
	r.bars = append(r.bars, b)
	if len(r.bars) > r.cap {
		r.bars = r.bars[len(r.bars)-r.cap:]
	}
}

func (r *ring) snapshot() []types.Bar {
	out := make([]types.Bar, len(r.bars))
	copy(out, r.bars)
	return out
}
