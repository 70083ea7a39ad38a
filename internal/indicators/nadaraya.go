package indicators

import (
	"math"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func init() {
	Register(&nadarayaIndicator{})
}

// nadarayaIndicator is a causal Nadaraya-Watson envelope: a
// rational-quadratic kernel regression of closes, with upper/lower bands at
// near/avg/far multiples of a kernel-weighted ATR. Only past bars enter the
// weighting, so there is no repaint.
type nadarayaIndicator struct{}

func (n *nadarayaIndicator) Name() string { return "nadaraya_watson" }

func (n *nadarayaIndicator) Fields() []string {
	return []string{
		"estimate",
		"upper_near", "upper_avg", "upper_far",
		"lower_near", "lower_avg", "lower_far",
	}
}

func (n *nadarayaIndicator) DefaultParams() Params {
	return Params{
		"bandwidth":    8,   // h
		"rel_weight":   8,   // r
		"lookback":     100, // max bars entering the kernel sum
		"near_factor":  1.0,
		"avg_factor":   2.0,
		"far_factor":   3.0,
	}
}

func (n *nadarayaIndicator) EmptyResult() Output {
	out := Output{}
	for _, f := range n.Fields() {
		out[f] = 0
	}
	return out
}

func (n *nadarayaIndicator) Keywords() []string {
	return []string{"kernel", "regression", "envelope", "smoothing"}
}

// rationalQuadratic is the kernel weight for a sample d bars in the past.
func rationalQuadratic(d, h, r float64) float64 {
	return math.Pow(1+d*d/(2*r*h*h), -r)
}

func (n *nadarayaIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	count := len(bars)
	series := make(Series, len(n.Fields()))
	for _, f := range n.Fields() {
		values := make([]float64, count)
		for i := range values {
			values[i] = math.NaN()
		}
		series[f] = values
	}

	h := params.Get("bandwidth", 8)
	r := params.Get("rel_weight", 8)
	lookback := params.GetInt("lookback", 100)
	nearF := params.Get("near_factor", 1.0)
	avgF := params.Get("avg_factor", 2.0)
	farF := params.Get("far_factor", 3.0)

	// kernel weights are the same for every bar; precompute once
	weights := make([]float64, lookback+1)
	for d := 0; d <= lookback; d++ {
		weights[d] = rationalQuadratic(float64(d), h, r)
	}

	for i := 0; i < count; i++ {
		depth := i
		if depth > lookback {
			depth = lookback
		}
		var sumW, sumWY, sumWTR float64
		for d := 0; d <= depth; d++ {
			j := i - d
			w := weights[d]
			sumW += w
			sumWY += w * bars[j].Close

			tr := bars[j].High - bars[j].Low
			if j > 0 {
				hc := math.Abs(bars[j].High - bars[j-1].Close)
				lc := math.Abs(bars[j].Low - bars[j-1].Close)
				tr = math.Max(tr, math.Max(hc, lc))
			}
			sumWTR += w * tr
		}
		if sumW == 0 {
			continue
		}
		estimate := sumWY / sumW
		kernelATR := sumWTR / sumW

		series["estimate"][i] = estimate
		series["upper_near"][i] = estimate + kernelATR*nearF
		series["upper_avg"][i] = estimate + kernelATR*avgF
		series["upper_far"][i] = estimate + kernelATR*farF
		series["lower_near"][i] = estimate - kernelATR*nearF
		series["lower_avg"][i] = estimate - kernelATR*avgF
		series["lower_far"][i] = estimate - kernelATR*farF
	}

	return series, nil
}

func (n *nadarayaIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := n.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}
