package multitf

import (
	"fmt"
	"sort"

	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Engine holds, per timeframe, a bar array plus per-indicator full-series
// precomputations, and maps a primary-timeframe bar index to the aligned
// index on any other timeframe. Alignment is strictly one-way: the aligned
// bar opened at or before the primary bar, so no future data from the higher
// timeframe leaks back.
type Engine struct {
	primary types.Timeframe
	bars    map[types.Timeframe][]types.Bar
	series  map[string]indicators.Series // indicator id -> precomputed series
	configs map[string]indicators.Config
	ind     *indicators.Engine
}

// New creates a multi-timeframe engine over the given bar arrays.
func New(primary types.Timeframe, bars map[types.Timeframe][]types.Bar) *Engine {
	return &Engine{
		primary: primary,
		bars:    bars,
		series:  make(map[string]indicators.Series),
		configs: make(map[string]indicators.Config),
		ind:     indicators.NewEngine(),
	}
}

// Primary returns the primary timeframe.
func (e *Engine) Primary() types.Timeframe {
	return e.primary
}

// Bars returns the bar array for a timeframe.
func (e *Engine) Bars(tf types.Timeframe) []types.Bar {
	return e.bars[tf]
}

// Precompute runs the full-series pass for every indicator configuration on
// its own timeframe. Must be called before Lookup.
func (e *Engine) Precompute(configs []indicators.Config) error {
	for _, cfg := range configs {
		bars, ok := e.bars[cfg.Timeframe]
		if !ok {
			return fmt.Errorf("multitf: no bars loaded for timeframe %s (indicator %s)", cfg.Timeframe, cfg.ID)
		}
		series, err := e.ind.ComputeSeries(cfg, bars)
		if err != nil {
			return fmt.Errorf("multitf: precompute %s: %w", cfg.ID, err)
		}
		e.series[cfg.ID] = series
		e.configs[cfg.ID] = cfg
	}
	return nil
}

// AlignedIndex maps primary-bar index i to the largest index j on tf whose
// open time is <= the primary bar's open time. Returns -1 when no bar on tf
// has opened yet.
func (e *Engine) AlignedIndex(i int, tf types.Timeframe) int {
	primaryBars := e.bars[e.primary]
	if i < 0 || i >= len(primaryBars) {
		return -1
	}
	if tf == e.primary {
		return i
	}
	target := primaryBars[i].Time
	other := e.bars[tf]
	// first bar opening after target; aligned index is the one before
	j := sort.Search(len(other), func(k int) bool {
		return other[k].Time.After(target)
	})
	return j - 1
}

// Lookup returns the outputs of a precomputed indicator aligned to
// primary-bar index i. Outputs from higher timeframes are constant across
// primary bars falling inside one higher-timeframe bar.
func (e *Engine) Lookup(id string, i int) (indicators.Output, error) {
	series, ok := e.series[id]
	if !ok {
		return nil, fmt.Errorf("multitf: indicator %q not precomputed", id)
	}
	cfg := e.configs[id]
	j := e.AlignedIndex(i, cfg.Timeframe)
	if j < 0 {
		return nil, nil
	}
	return series.At(j), nil
}

// LookupPrev returns the outputs one aligned bar earlier, used to populate
// the previous-bar indicator store.
func (e *Engine) LookupPrev(id string, i int) (indicators.Output, error) {
	series, ok := e.series[id]
	if !ok {
		return nil, fmt.Errorf("multitf: indicator %q not precomputed", id)
	}
	cfg := e.configs[id]
	j := e.AlignedIndex(i, cfg.Timeframe)
	if j <= 0 {
		return nil, nil
	}
	return series.At(j - 1), nil
}
