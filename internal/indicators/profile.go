package indicators

import (
	"math"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func init() {
	Register(&profileIndicator{})
}

// profileIndicator is a rolling TPO / market profile: over a lookback
// window it buckets bar ranges into price rows, takes the row with the most
// time-at-price as the point of control, and expands around it until the
// configured share of TPO counts is covered to get the value area bounds.
type profileIndicator struct{}

func (p *profileIndicator) Name() string { return "market_profile" }

func (p *profileIndicator) Fields() []string {
	return []string{"poc", "vah", "val"}
}

func (p *profileIndicator) DefaultParams() Params {
	return Params{
		"lookback":       120,
		"rows":           24,
		"value_area_pct": 0.7,
	}
}

func (p *profileIndicator) EmptyResult() Output {
	return Output{"poc": 0, "vah": 0, "val": 0}
}

func (p *profileIndicator) Keywords() []string {
	return []string{"tpo", "market profile", "value area", "poc"}
}

func (p *profileIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	lookback := params.GetInt("lookback", 120)
	rows := params.GetInt("rows", 24)
	vaPct := params.Get("value_area_pct", 0.7)

	if len(bars) == 0 || rows < 2 {
		return nil, nil
	}
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}
	window := bars[start:]
	if len(window) < 2 {
		return nil, nil
	}

	low, high := math.Inf(1), math.Inf(-1)
	for _, b := range window {
		low = math.Min(low, b.Low)
		high = math.Max(high, b.High)
	}
	if high <= low {
		return nil, nil
	}
	rowHeight := (high - low) / float64(rows)

	// each bar marks every row its range touches
	counts := make([]int, rows)
	total := 0
	for _, b := range window {
		first := int((b.Low - low) / rowHeight)
		last := int((b.High - low) / rowHeight)
		if first < 0 {
			first = 0
		}
		if last >= rows {
			last = rows - 1
		}
		for r := first; r <= last; r++ {
			counts[r]++
			total++
		}
	}
	if total == 0 {
		return nil, nil
	}

	pocRow := 0
	for r := 1; r < rows; r++ {
		if counts[r] > counts[pocRow] {
			pocRow = r
		}
	}

	// expand from the POC row toward the denser neighbor until the value
	// area share is reached
	covered := counts[pocRow]
	lowRow, highRow := pocRow, pocRow
	target := int(math.Ceil(vaPct * float64(total)))
	for covered < target && (lowRow > 0 || highRow < rows-1) {
		below, above := -1, -1
		if lowRow > 0 {
			below = counts[lowRow-1]
		}
		if highRow < rows-1 {
			above = counts[highRow+1]
		}
		if above >= below {
			highRow++
			covered += counts[highRow]
		} else {
			lowRow--
			covered += counts[lowRow]
		}
	}

	rowMid := func(r int) float64 { return low + (float64(r)+0.5)*rowHeight }
	return Output{
		"poc": rowMid(pocRow),
		"vah": low + float64(highRow+1)*rowHeight,
		"val": low + float64(lowRow)*rowHeight,
	}, nil
}
