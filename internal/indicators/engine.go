package indicators

import (
	"fmt"
	"math"
	"sync"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// Config binds a named indicator algorithm to a timeframe with parameters.
// ID is the handle expressions use (`ind.<id>.<field>`).
type Config struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	Timeframe types.Timeframe `json:"timeframe" yaml:"timeframe"`
	Params    Params          `json:"params,omitempty" yaml:"params,omitempty"`
}

// Engine computes indicator outputs over bar windows, with point-in-time
// memoization. Caches are per-engine and not shared.
type Engine struct {
	mu    sync.Mutex
	cache map[string]Output
}

// NewEngine creates an indicator engine with an empty cache.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]Output)}
}

// ResetCache drops all memoized results, for reuse across bar reloads.
func (e *Engine) ResetCache() {
	e.mu.Lock()
	e.cache = make(map[string]Output)
	e.mu.Unlock()
}

// ComputeAt returns the outputs of cfg at bar index i, depending only on
// bars[0..i]. Warmup bars return a nil output (fields absent). Results are
// memoized by (bar index, indicator name, frozen params).
func (e *Engine) ComputeAt(cfg Config, bars []types.Bar, i int) (Output, error) {
	if i < 0 || i >= len(bars) {
		return nil, fmt.Errorf("indicator %s: bar index %d out of range [0,%d)", cfg.ID, i, len(bars))
	}

	ind, err := Lookup(cfg.Name)
	if err != nil {
		return nil, err
	}
	params := cfg.Params.Merged(ind.DefaultParams())

	key := fmt.Sprintf("%d|%s|%s", i, ind.Name(), params.Frozen())
	e.mu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return cached.Clone(), nil
	}
	e.mu.Unlock()

	out, err := ind.Compute(bars[:i+1], params)
	if err != nil {
		return nil, fmt.Errorf("indicator %s (%s): %w", cfg.ID, cfg.Name, err)
	}

	e.mu.Lock()
	e.cache[key] = out.Clone()
	e.mu.Unlock()
	return out, nil
}

// ComputeSeries returns full-series outputs over bars: for each output
// field an array of length len(bars) where entry k depends only on
// bars[0..k]. Indicators without a vectorized pass fall back to iterating
// the point-in-time computation.
func (e *Engine) ComputeSeries(cfg Config, bars []types.Bar) (Series, error) {
	ind, err := Lookup(cfg.Name)
	if err != nil {
		return nil, err
	}
	params := cfg.Params.Merged(ind.DefaultParams())

	if vectorized, ok := ind.(SeriesIndicator); ok {
		series, err := vectorized.ComputeSeries(bars, params)
		if err != nil {
			return nil, fmt.Errorf("indicator %s (%s): %w", cfg.ID, cfg.Name, err)
		}
		return series, nil
	}

	series := make(Series, len(ind.Fields()))
	for _, field := range ind.Fields() {
		values := make([]float64, len(bars))
		for i := range values {
			values[i] = math.NaN()
		}
		series[field] = values
	}
	for i := range bars {
		out, err := ind.Compute(bars[:i+1], params)
		if err != nil {
			return nil, fmt.Errorf("indicator %s (%s) at bar %d: %w", cfg.ID, cfg.Name, i, err)
		}
		for field, v := range out {
			if _, ok := series[field]; ok {
				series[field][i] = v
			}
		}
	}
	return series, nil
}

// Warmup derives the leading window to skip before producing outputs:
// clamp(maxPeriod * 1.2, 20, n/4) over the period-like parameters of all
// configured indicators (defaults included).
func Warmup(configs []Config, n int) int {
	maxPeriod := 0.0
	for _, cfg := range configs {
		ind, err := Lookup(cfg.Name)
		if err != nil {
			continue
		}
		params := cfg.Params.Merged(ind.DefaultParams())
		if p := params.MaxPeriod(); p > maxPeriod {
			maxPeriod = p
		}
	}

	warmup := maxPeriod * 1.2
	if warmup < 20 {
		warmup = 20
	}
	if limit := float64(n) / 4; warmup > limit {
		warmup = limit
	}
	return int(warmup)
}
