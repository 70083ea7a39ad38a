package indicators

import (
	"math"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func init() {
	Register(&smcIndicator{})
}

// smcIndicator derives smart-money-concepts market structure: swing pivots
// promoted to major/internal structure, a running trend, break-of-structure
// and change-of-character events, OTE retracement zone, equilibrium, and
// liquidity pools with sweep events.
//
// The computation is a single causal forward pass: a pivot at index p with
// swing length L is confirmed at index p+L, and all levels derive from
// confirmed pivots only, so the value at bar i never looks past bar i.
type smcIndicator struct{}

func (s *smcIndicator) Name() string { return "smc_structure" }

func (s *smcIndicator) Fields() []string {
	return []string{
		"trend", "internal_trend",
		"ref_high", "ref_low", "strong_high", "strong_low",
		"bos_bull", "bos_bear", "choch_bull", "choch_bear",
		"internal_bos_bull", "internal_bos_bear",
		"ote_upper", "ote_lower", "equilibrium",
		"bsl_level", "ssl_level", "sweep_bsl", "sweep_ssl",
	}
}

func (s *smcIndicator) DefaultParams() Params {
	return Params{
		"swing_length":    10,
		"internal_length": 5,
		"use_wick":        0,
		"atr_period":      14,
		"eq_threshold":    0.1, // pool tolerance as a fraction of ATR
		"min_touches":     2,
	}
}

func (s *smcIndicator) EmptyResult() Output {
	out := Output{}
	for _, f := range s.Fields() {
		out[f] = 0
	}
	return out
}

func (s *smcIndicator) Keywords() []string {
	return []string{"smart money", "structure", "bos", "choch", "liquidity", "ote"}
}

// structureTracker runs the swing classification state machine for one
// swing length. The same machine serves the major and internal structure.
type structureTracker struct {
	length  int
	useWick bool

	trend      float64 // +1 bullish, -1 bearish, 0 undefined
	refHigh    float64
	refLow     float64
	strongHigh float64
	strongLow  float64
	hasHigh    bool
	hasLow     bool

	// per-bar event flags, reset each Step
	bosBull, bosBear     bool
	chochBull, chochBear bool
}

func newStructureTracker(length int, useWick bool) *structureTracker {
	return &structureTracker{length: length, useWick: useWick}
}

// confirmPivots detects pivots confirmed exactly at bar i (the pivot itself
// sits at i-length) and returns them.
func (t *structureTracker) confirmPivots(bars []types.Bar, i int) (pivotHigh, pivotLow *float64) {
	p := i - t.length
	if p < t.length {
		return nil, nil
	}
	isHigh, isLow := true, true
	for k := p - t.length; k <= p+t.length; k++ {
		if k == p {
			continue
		}
		if bars[k].High >= bars[p].High {
			isHigh = false
		}
		if bars[k].Low <= bars[p].Low {
			isLow = false
		}
	}
	if isHigh {
		v := bars[p].High
		pivotHigh = &v
	}
	if isLow {
		v := bars[p].Low
		pivotLow = &v
	}
	return pivotHigh, pivotLow
}

// Step advances the state machine by one bar.
func (t *structureTracker) Step(bars []types.Bar, i int) {
	t.bosBull, t.bosBear, t.chochBull, t.chochBear = false, false, false, false

	if high, low := t.confirmPivots(bars, i); high != nil || low != nil {
		if high != nil {
			t.refHigh = *high
			t.hasHigh = true
			if !t.hasLow || t.trend == 0 {
				t.strongHigh = *high
			}
		}
		if low != nil {
			t.refLow = *low
			t.hasLow = true
			if !t.hasHigh || t.trend == 0 {
				t.strongLow = *low
			}
		}
	}

	if !t.hasHigh || !t.hasLow {
		return
	}

	bar := bars[i]
	breakUp := bar.Close
	breakDown := bar.Close
	if t.useWick {
		breakUp = bar.High
		breakDown = bar.Low
	}

	switch t.trend {
	case 0:
		// first decisive break seeds the trend
		if breakUp > t.refHigh {
			t.trend = 1
			t.bosBull = true
			t.strongLow = t.refLow
			t.refHigh = bar.High
		} else if breakDown < t.refLow {
			t.trend = -1
			t.bosBear = true
			t.strongHigh = t.refHigh
			t.refLow = bar.Low
		}
	case 1:
		if breakDown < t.strongLow {
			// change of character: trend flips bearish, references reseed
			t.trend = -1
			t.chochBear = true
			t.strongHigh = t.refHigh
			t.refLow = bar.Low
		} else if breakUp > t.refHigh {
			t.bosBull = true
			t.strongLow = t.refLow
			t.refHigh = bar.High
		}
	case -1:
		if breakUp > t.strongHigh {
			t.trend = 1
			t.chochBull = true
			t.strongLow = t.refLow
			t.refHigh = bar.High
		} else if breakDown < t.refLow {
			t.bosBear = true
			t.strongHigh = t.refHigh
			t.refLow = bar.Low
		}
	}
}

// liquidityPool clusters near-equal pivot levels.
type liquidityPool struct {
	level   float64
	touches int
}

type poolTracker struct {
	tolerance func() float64
	minTouch  int
	highPools []liquidityPool
	lowPools  []liquidityPool
}

func (p *poolTracker) addHigh(level float64) {
	p.highPools = addToPools(p.highPools, level, p.tolerance())
}

func (p *poolTracker) addLow(level float64) {
	p.lowPools = addToPools(p.lowPools, level, p.tolerance())
}

func addToPools(pools []liquidityPool, level, tol float64) []liquidityPool {
	for idx := range pools {
		if math.Abs(pools[idx].level-level) <= tol {
			// running average keeps the pool centered on its touches
			n := float64(pools[idx].touches)
			pools[idx].level = (pools[idx].level*n + level) / (n + 1)
			pools[idx].touches++
			return pools
		}
	}
	return append(pools, liquidityPool{level: level, touches: 1})
}

// sweeps checks each armed pool against the bar: a sweep pierces the level
// intrabar but closes back through it. Swept pools are removed.
func (p *poolTracker) sweeps(bar types.Bar) (sweptBSL, sweptSSL bool) {
	kept := p.highPools[:0]
	for _, pool := range p.highPools {
		if pool.touches >= p.minTouch && bar.High > pool.level && bar.Close < pool.level {
			sweptBSL = true
			continue
		}
		kept = append(kept, pool)
	}
	p.highPools = kept

	keptLow := p.lowPools[:0]
	for _, pool := range p.lowPools {
		if pool.touches >= p.minTouch && bar.Low < pool.level && bar.Close > pool.level {
			sweptSSL = true
			continue
		}
		keptLow = append(keptLow, pool)
	}
	p.lowPools = keptLow
	return sweptBSL, sweptSSL
}

// nearest returns the closest armed pool above and below the price; NaN
// when none exists.
func (p *poolTracker) nearest(price float64) (bsl, ssl float64) {
	bsl, ssl = math.NaN(), math.NaN()
	for _, pool := range p.highPools {
		if pool.touches >= p.minTouch && pool.level > price {
			if math.IsNaN(bsl) || pool.level < bsl {
				bsl = pool.level
			}
		}
	}
	for _, pool := range p.lowPools {
		if pool.touches >= p.minTouch && pool.level < price {
			if math.IsNaN(ssl) || pool.level > ssl {
				ssl = pool.level
			}
		}
	}
	return bsl, ssl
}

func (s *smcIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	n := len(bars)
	series := make(Series, len(s.Fields()))
	for _, f := range s.Fields() {
		values := make([]float64, n)
		for i := range values {
			values[i] = math.NaN()
		}
		series[f] = values
	}

	swingLen := params.GetInt("swing_length", 10)
	internalLen := params.GetInt("internal_length", 5)
	useWick := params.GetBool("use_wick", false)
	atrPeriod := params.GetInt("atr_period", 14)
	eqThreshold := params.Get("eq_threshold", 0.1)
	minTouches := params.GetInt("min_touches", 2)

	major := newStructureTracker(swingLen, useWick)
	internal := newStructureTracker(internalLen, useWick)

	atr := newRollingATR(atrPeriod)
	pools := &poolTracker{
		tolerance: func() float64 { return atr.Value() * eqThreshold },
		minTouch:  minTouches,
	}

	for i := 0; i < n; i++ {
		atr.Step(bars, i)

		// pools collect the major pivots before sweep checks on this bar
		if high, low := major.confirmPivots(bars, i); high != nil || low != nil {
			if high != nil {
				pools.addHigh(*high)
			}
			if low != nil {
				pools.addLow(*low)
			}
		}

		major.Step(bars, i)
		internal.Step(bars, i)

		sweptBSL, sweptSSL := pools.sweeps(bars[i])

		series["trend"][i] = major.trend
		series["internal_trend"][i] = internal.trend
		series["bos_bull"][i] = boolFlag(major.bosBull)
		series["bos_bear"][i] = boolFlag(major.bosBear)
		series["choch_bull"][i] = boolFlag(major.chochBull)
		series["choch_bear"][i] = boolFlag(major.chochBear)
		series["internal_bos_bull"][i] = boolFlag(internal.bosBull || internal.chochBull)
		series["internal_bos_bear"][i] = boolFlag(internal.bosBear || internal.chochBear)
		series["sweep_bsl"][i] = boolFlag(sweptBSL)
		series["sweep_ssl"][i] = boolFlag(sweptSSL)

		if major.hasHigh {
			series["ref_high"][i] = major.refHigh
			series["strong_high"][i] = major.strongHigh
		}
		if major.hasLow {
			series["ref_low"][i] = major.refLow
			series["strong_low"][i] = major.strongLow
		}
		if major.hasHigh && major.hasLow {
			series["equilibrium"][i] = (major.refHigh + major.refLow) / 2

			// OTE: the 0.618-0.786 retracement of the current impulse
			switch major.trend {
			case 1:
				impulse := major.refHigh - major.strongLow
				if impulse > 0 {
					series["ote_upper"][i] = major.refHigh - 0.618*impulse
					series["ote_lower"][i] = major.refHigh - 0.786*impulse
				}
			case -1:
				impulse := major.strongHigh - major.refLow
				if impulse > 0 {
					series["ote_lower"][i] = major.refLow + 0.618*impulse
					series["ote_upper"][i] = major.refLow + 0.786*impulse
				}
			}
		}

		bsl, ssl := pools.nearest(bars[i].Close)
		series["bsl_level"][i] = bsl
		series["ssl_level"][i] = ssl
	}

	return series, nil
}

func (s *smcIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := s.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

func boolFlag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// rollingATR is a causal Wilder-smoothed average true range.
type rollingATR struct {
	period int
	value  float64
	count  int
}

func newRollingATR(period int) *rollingATR {
	return &rollingATR{period: period}
}

func (a *rollingATR) Step(bars []types.Bar, i int) {
	tr := bars[i].High - bars[i].Low
	if i > 0 {
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr = math.Max(tr, math.Max(hc, lc))
	}
	a.count++
	if a.count <= a.period {
		// simple average during seeding
		a.value += (tr - a.value) / float64(a.count)
		return
	}
	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
}

func (a *rollingATR) Value() float64 {
	return a.value
}
