package indicators

import (
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Output maps an indicator's output-field names to scalars. Event-style
// fields (bos_bull, sweep_ssl, ...) are 1.0 only on the bar the event
// occurs and 0.0 otherwise.
type Output map[string]float64

// Clone returns a copy of the output map.
func (o Output) Clone() Output {
	if o == nil {
		return nil
	}
	out := make(Output, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Series holds full-series results: one slice per output field, each of the
// same length as the bar array. Entries on warmup bars are NaN.
type Series map[string][]float64

// At extracts the point-in-time output at index i from a series. Fields that
// are NaN at i are omitted, matching the point-in-time absent-field
// semantics.
func (s Series) At(i int) Output {
	out := make(Output, len(s))
	for field, values := range s {
		if i < len(values) && values[i] == values[i] { // not NaN
			out[field] = values[i]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Indicator computes per-bar outputs over a bar window. Compute is
// point-in-time: given bars[0..n-1] it must depend only on that prefix, so
// the value for bar i is Compute(bars[:i+1], params).
type Indicator interface {
	// Name is the registry key selecting this algorithm.
	Name() string

	// Fields enumerates the output-field names this indicator produces.
	Fields() []string

	// DefaultParams returns the indicator-specific parameter defaults.
	DefaultParams() Params

	// EmptyResult is the shape returned when there is not enough data:
	// every field present, set to its insufficient-data sentinel.
	EmptyResult() Output

	// Keywords describe the indicator for discovery/search.
	Keywords() []string

	// Compute returns the outputs for the most recent bar of the window.
	Compute(bars []types.Bar, params Params) (Output, error)
}

// SeriesIndicator is implemented by indicators with a vectorized full-series
// pass. The engine falls back to iterating Compute when absent. Both modes
// must agree pointwise.
type SeriesIndicator interface {
	Indicator

	// ComputeSeries returns, per output field, an array of length
	// len(bars) where entry k depends only on bars[0..k].
	ComputeSeries(bars []types.Bar, params Params) (Series, error)
}
