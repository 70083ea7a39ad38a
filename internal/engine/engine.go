package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// SignalHandler receives emitted signals. Called from the instance's work
// queue, so per-instance delivery is ordered.
type SignalHandler func(Signal)

// EventHandler receives position-management events.
type EventHandler func(symbol string, ev ManagementEvent)

// StateHandler receives state snapshots after every evaluation for
// persistence.
type StateHandler func(*State)

// Engine hosts playbook instances, one per (playbook, symbol), each behind
// its own work queue. Across instances there are no ordering guarantees and
// no shared state.
type Engine struct {
	mu        sync.RWMutex
	instances map[string]*hostedInstance
	log       zerolog.Logger

	onSignal SignalHandler
	onEvent  EventHandler
	onState  StateHandler
}

type hostedInstance struct {
	inst  *Instance
	queue *workQueue
}

// New creates an empty engine.
func New(log zerolog.Logger, onSignal SignalHandler, onEvent EventHandler, onState StateHandler) *Engine {
	return &Engine{
		instances: make(map[string]*hostedInstance),
		log:       log,
		onSignal:  onSignal,
		onEvent:   onEvent,
		onState:   onState,
	}
}

func instanceKey(playbookID, symbol string) string {
	return playbookID + "|" + symbol
}

// Load creates instances for every symbol the playbook declares. Loading an
// already-loaded playbook is an error; unload it first.
func (e *Engine) Load(pb *playbook.Playbook) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, symbol := range pb.Symbols {
		key := instanceKey(pb.ID, symbol)
		if _, exists := e.instances[key]; exists {
			return fmt.Errorf("playbook %s already loaded for %s", pb.ID, symbol)
		}
	}
	for _, symbol := range pb.Symbols {
		e.instances[instanceKey(pb.ID, symbol)] = &hostedInstance{
			inst:  NewInstance(pb, symbol, e.log),
			queue: newWorkQueue(64),
		}
	}
	e.log.Info().Str("playbook", pb.ID).Strs("symbols", pb.Symbols).Msg("playbook loaded")
	return nil
}

// Unload stops and removes every instance of a playbook. Their state is
// discarded; persistence happened on each evaluation.
func (e *Engine) Unload(playbookID string) {
	e.mu.Lock()
	var closing []*hostedInstance
	for key, h := range e.instances {
		if h.inst.Playbook().ID == playbookID {
			closing = append(closing, h)
			delete(e.instances, key)
		}
	}
	e.mu.Unlock()
	for _, h := range closing {
		h.queue.Close()
	}
	e.log.Info().Str("playbook", playbookID).Msg("playbook unloaded")
}

// Close stops all instances.
func (e *Engine) Close() {
	e.mu.Lock()
	all := make([]*hostedInstance, 0, len(e.instances))
	for key, h := range e.instances {
		all = append(all, h)
		delete(e.instances, key)
	}
	e.mu.Unlock()
	for _, h := range all {
		h.queue.Close()
	}
}

func (e *Engine) hosted(playbookID, symbol string) *hostedInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instances[instanceKey(playbookID, symbol)]
}

// BarClosed schedules a bar-close evaluation on every instance of the
// symbol. Inputs are built per instance by the provider, which lets the
// caller assemble only the indicator outputs each playbook needs.
func (e *Engine) BarClosed(symbol string, tf types.Timeframe, provide func(pb *playbook.Playbook) (EvalInput, error)) {
	e.mu.RLock()
	var targets []*hostedInstance
	for _, h := range e.instances {
		if h.inst.Symbol() == symbol {
			targets = append(targets, h)
		}
	}
	e.mu.RUnlock()

	for _, h := range targets {
		h := h
		h.queue.Submit(func() {
			input, err := provide(h.inst.Playbook())
			if err != nil {
				h.inst.RecordError(err, time.Now())
				return
			}
			input.Timeframe = tf
			res := h.inst.OnBarClose(input)
			if !res.Evaluated {
				return
			}
			for _, sig := range res.Signals {
				if e.onSignal != nil {
					e.onSignal(sig)
				}
			}
			for _, ev := range res.Events {
				if e.onEvent != nil {
					e.onEvent(symbol, ev)
				}
			}
			if e.onState != nil {
				e.onState(res.State)
			}
		})
	}
}

// TradeOpened forwards a broker fill to the owning instance.
func (e *Engine) TradeOpened(playbookID, symbol string, ticket int64, dir types.Direction, openPrice, sl, tp, lot float64) {
	h := e.hosted(playbookID, symbol)
	if h == nil {
		return
	}
	h.queue.Submit(func() {
		h.inst.TradeOpened(ticket, dir, openPrice, sl, tp, lot, time.Now())
	})
}

// TradeClosed forwards a broker close to the owning instance and persists
// the resulting state.
func (e *Engine) TradeClosed(playbookID, symbol string, pnl float64) {
	h := e.hosted(playbookID, symbol)
	if h == nil {
		return
	}
	h.queue.Submit(func() {
		state := h.inst.TradeClosed(pnl, time.Now())
		if e.onState != nil {
			e.onState(state)
		}
	})
}

// RecordError forwards an execution failure (order rejection, bridge
// error) to the owning instance's error counter and breaker.
func (e *Engine) RecordError(playbookID, symbol string, err error) {
	h := e.hosted(playbookID, symbol)
	if h == nil {
		return
	}
	h.queue.Submit(func() {
		h.inst.RecordError(err, time.Now())
	})
}

// ResetBreaker manually resets one instance's circuit breaker.
func (e *Engine) ResetBreaker(playbookID, symbol string) {
	h := e.hosted(playbookID, symbol)
	if h == nil {
		return
	}
	h.queue.Submit(h.inst.ResetBreaker)
}

// States returns a snapshot of every loaded instance's state.
func (e *Engine) States() []*State {
	e.mu.RLock()
	hosts := make([]*hostedInstance, 0, len(e.instances))
	for _, h := range e.instances {
		hosts = append(hosts, h)
	}
	e.mu.RUnlock()

	states := make([]*State, 0, len(hosts))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, h := range hosts {
		h := h
		wg.Add(1)
		accepted := h.queue.Submit(func() {
			defer wg.Done()
			s := h.inst.State()
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		})
		if !accepted {
			wg.Done()
		}
	}
	wg.Wait()
	return states
}
