package backtest

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Axis is one swept dimension: an indicator parameter and the values to try.
type Axis struct {
	IndicatorID string    `json:"indicator_id"`
	Param       string    `json:"param"`
	Values      []float64 `json:"values"`
}

// SweepRun is one completed combination of the sweep.
type SweepRun struct {
	ID        string             `json:"id"`
	Overrides map[string]float64 `json:"overrides"` // "<indicator>.<param>" -> value
	Result    *Result            `json:"result,omitempty"`
	Err       error              `json:"-"`
}

// Sweep runs a playbook backtest across the cartesian product of the axes.
// Runs execute on a worker pool; cancellation is a flag the producer polls
// between submissions, so already-running backtests finish.
type Sweep struct {
	pb        *playbook.Playbook
	cfg       Config
	bars      map[types.Timeframe][]types.Bar
	axes      []Axis
	log       zerolog.Logger
	cancelled atomic.Bool
}

// NewSweep prepares a sweep over the given axes.
func NewSweep(pb *playbook.Playbook, cfg Config, bars map[types.Timeframe][]types.Bar, axes []Axis, log zerolog.Logger) *Sweep {
	return &Sweep{pb: pb, cfg: cfg, bars: bars, axes: axes, log: log}
}

// Cancel requests termination. In-flight runs complete; no further
// combinations are submitted.
func (s *Sweep) Cancel() { s.cancelled.Store(true) }

// Run executes the sweep with the given concurrency and returns every
// completed run, sorted by total P&L descending.
func (s *Sweep) Run(workers int) ([]SweepRun, error) {
	combos := s.combinations()
	if len(combos) == 0 {
		return nil, fmt.Errorf("sweep: no combinations to run")
	}

	pool := NewWorkerPool(workers, len(combos), s.log)
	pool.Start()

	submitted := 0
	byID := make(map[string]map[string]float64, len(combos))
	for i, overrides := range combos {
		if s.cancelled.Load() {
			break
		}
		id := fmt.Sprintf("run-%04d", i)
		byID[id] = overrides
		job := Job{
			ID:       id,
			Playbook: s.applyOverrides(overrides),
			Config:   s.cfg,
			Bars:     s.bars,
		}
		if err := pool.Submit(job); err != nil {
			break
		}
		submitted++
	}

	runs := make([]SweepRun, 0, submitted)
	for i := 0; i < submitted; i++ {
		jr := <-pool.Results()
		runs = append(runs, SweepRun{
			ID:        jr.ID,
			Overrides: byID[jr.ID],
			Result:    jr.Result,
			Err:       jr.Err,
		})
	}
	pool.Stop()

	sort.Slice(runs, func(a, b int) bool {
		pa, pb := -1e18, -1e18
		if runs[a].Result != nil {
			pa = runs[a].Result.Metrics.TotalPnL
		}
		if runs[b].Result != nil {
			pb = runs[b].Result.Metrics.TotalPnL
		}
		return pa > pb
	})
	return runs, nil
}

// combinations expands the axes into the full cartesian product of
// override maps keyed "<indicator>.<param>".
func (s *Sweep) combinations() []map[string]float64 {
	combos := []map[string]float64{{}}
	for _, axis := range s.axes {
		key := axis.IndicatorID + "." + axis.Param
		next := make([]map[string]float64, 0, len(combos)*len(axis.Values))
		for _, base := range combos {
			for _, v := range axis.Values {
				combo := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					combo[k] = bv
				}
				combo[key] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	if len(s.axes) == 0 {
		return combos // single unmodified run
	}
	return combos
}

// applyOverrides clones the playbook with the overridden indicator params.
// The clone shares phases and variables, which the instances never mutate.
func (s *Sweep) applyOverrides(overrides map[string]float64) *playbook.Playbook {
	clone := *s.pb
	clone.Indicators = make([]indicators.Config, len(s.pb.Indicators))
	for i, cfg := range s.pb.Indicators {
		params := make(indicators.Params, len(cfg.Params))
		for k, v := range cfg.Params {
			params[k] = v
		}
		for key, v := range overrides {
			id, param, ok := strings.Cut(key, ".")
			if ok && id == cfg.ID {
				params[param] = v
			}
		}
		cfg.Params = params
		clone.Indicators[i] = cfg
	}
	return &clone
}
