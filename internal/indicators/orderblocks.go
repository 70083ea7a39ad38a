package indicators

import (
	"math"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func init() {
	Register(&orderBlockIndicator{})
}

// Order-block lifecycle states.
const (
	obActive   = 0.0
	obTested   = 1.0
	obBreaker  = 2.0
	obReversed = 3.0
)

// orderBlockIndicator detects bullish/bearish order blocks via gap-and-sweep
// patterns at bar offsets {2, 3}, tracks each block through
// active -> tested -> breaker -> reversed, and detects the associated
// three-bar fair value gaps. Per bar it emits the nearest block and gap
// levels relative to the current close.
type orderBlockIndicator struct{}

func (o *orderBlockIndicator) Name() string { return "order_blocks" }

func (o *orderBlockIndicator) Fields() []string {
	return []string{
		"bull_ob_top", "bull_ob_bottom", "bull_ob_state",
		"bear_ob_top", "bear_ob_bottom", "bear_ob_state",
		"bull_ob_created", "bear_ob_created",
		"fvg_bull_top", "fvg_bull_bottom",
		"fvg_bear_top", "fvg_bear_bottom",
		"fvg_bull_created", "fvg_bear_created",
	}
}

func (o *orderBlockIndicator) DefaultParams() Params {
	return Params{
		"tested_pct": 0.5, // penetration depth, as a fraction of block range
		"fill_pct":   0.5, // gap fill threshold, as a fraction of gap height
		"max_blocks": 20,
	}
}

func (o *orderBlockIndicator) EmptyResult() Output {
	out := Output{}
	for _, f := range o.Fields() {
		out[f] = 0
	}
	return out
}

func (o *orderBlockIndicator) Keywords() []string {
	return []string{"order block", "fvg", "fair value gap", "breaker", "smart money"}
}

type orderBlock struct {
	bullish bool
	top     float64
	bottom  float64
	state   float64
}

func (b *orderBlock) rng() float64 {
	return b.top - b.bottom
}

// update advances the block lifecycle on one bar close.
func (b *orderBlock) update(bar types.Bar, testedPct float64) {
	switch b.state {
	case obActive:
		if b.bullish {
			if bar.Close < b.bottom {
				b.state = obBreaker
			} else if bar.Low <= b.top-b.rng()*testedPct {
				b.state = obTested
			}
		} else {
			if bar.Close > b.top {
				b.state = obBreaker
			} else if bar.High >= b.bottom+b.rng()*testedPct {
				b.state = obTested
			}
		}
	case obTested:
		if b.bullish && bar.Close < b.bottom {
			b.state = obBreaker
		} else if !b.bullish && bar.Close > b.top {
			b.state = obBreaker
		}
	case obBreaker:
		// a breaker reverses when price closes back through the block
		if b.bullish && bar.Close > b.top {
			b.state = obReversed
		} else if !b.bullish && bar.Close < b.bottom {
			b.state = obReversed
		}
	}
}

type fairValueGap struct {
	bullish bool
	top     float64
	bottom  float64
	filled  bool
}

func (g *fairValueGap) update(bar types.Bar, fillPct float64) {
	if g.filled {
		return
	}
	height := g.top - g.bottom
	if g.bullish {
		if bar.Low <= g.top-height*fillPct {
			g.filled = true
		}
	} else {
		if bar.High >= g.bottom+height*fillPct {
			g.filled = true
		}
	}
}

func (o *orderBlockIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	n := len(bars)
	series := make(Series, len(o.Fields()))
	for _, f := range o.Fields() {
		values := make([]float64, n)
		for i := range values {
			values[i] = math.NaN()
		}
		series[f] = values
	}

	testedPct := params.Get("tested_pct", 0.5)
	fillPct := params.Get("fill_pct", 0.5)
	maxBlocks := params.GetInt("max_blocks", 20)

	var blocks []*orderBlock
	var gaps []*fairValueGap

	for i := 0; i < n; i++ {
		bar := bars[i]

		for _, b := range blocks {
			b.update(bar, testedPct)
		}
		for _, g := range gaps {
			g.update(bar, fillPct)
		}

		bullCreated, bearCreated := false, false
		if b := detectOrderBlock(bars, i, true); b != nil {
			blocks = append(blocks, b)
			bullCreated = true
		}
		if b := detectOrderBlock(bars, i, false); b != nil {
			blocks = append(blocks, b)
			bearCreated = true
		}
		if len(blocks) > maxBlocks {
			blocks = blocks[len(blocks)-maxBlocks:]
		}

		fvgBull, fvgBear := false, false
		if i >= 2 {
			// three-bar gap: the current bar's range does not overlap the
			// range two bars back
			if bars[i].Low > bars[i-2].High {
				gaps = append(gaps, &fairValueGap{bullish: true, top: bars[i].Low, bottom: bars[i-2].High})
				fvgBull = true
			}
			if bars[i].High < bars[i-2].Low {
				gaps = append(gaps, &fairValueGap{bullish: false, top: bars[i-2].Low, bottom: bars[i].High})
				fvgBear = true
			}
		}
		if len(gaps) > maxBlocks {
			gaps = gaps[len(gaps)-maxBlocks:]
		}

		series["bull_ob_created"][i] = boolFlag(bullCreated)
		series["bear_ob_created"][i] = boolFlag(bearCreated)
		series["fvg_bull_created"][i] = boolFlag(fvgBull)
		series["fvg_bear_created"][i] = boolFlag(fvgBear)

		if b := nearestBlock(blocks, bar.Close, true); b != nil {
			series["bull_ob_top"][i] = b.top
			series["bull_ob_bottom"][i] = b.bottom
			series["bull_ob_state"][i] = b.state
		}
		if b := nearestBlock(blocks, bar.Close, false); b != nil {
			series["bear_ob_top"][i] = b.top
			series["bear_ob_bottom"][i] = b.bottom
			series["bear_ob_state"][i] = b.state
		}
		if g := nearestGap(gaps, bar.Close, true); g != nil {
			series["fvg_bull_top"][i] = g.top
			series["fvg_bull_bottom"][i] = g.bottom
		}
		if g := nearestGap(gaps, bar.Close, false); g != nil {
			series["fvg_bear_top"][i] = g.top
			series["fvg_bear_bottom"][i] = g.bottom
		}
	}

	return series, nil
}

func (o *orderBlockIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := o.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// detectOrderBlock looks for the gap-and-sweep pattern ending at bar i: a
// candidate candle at offset 2 or 3 whose liquidity is swept by a later bar,
// followed by a displacement close through the candidate's far side.
func detectOrderBlock(bars []types.Bar, i int, bullish bool) *orderBlock {
	for _, offset := range []int{2, 3} {
		c := i - offset
		if c < 0 {
			continue
		}
		candidate := bars[c]
		if bullish {
			// last down candle before an up displacement: its low is swept
			// and the displacement closes above its high
			if candidate.Bullish() {
				continue
			}
			swept := false
			for k := c + 1; k < i; k++ {
				if bars[k].Low < candidate.Low {
					swept = true
					break
				}
			}
			if swept && bars[i].Close > candidate.High {
				return &orderBlock{bullish: true, top: candidate.High, bottom: candidate.Low}
			}
		} else {
			if !candidate.Bullish() {
				continue
			}
			swept := false
			for k := c + 1; k < i; k++ {
				if bars[k].High > candidate.High {
					swept = true
					break
				}
			}
			if swept && bars[i].Close < candidate.Low {
				return &orderBlock{bullish: false, top: candidate.High, bottom: candidate.Low}
			}
		}
	}
	return nil
}

// nearestBlock picks the live block closest to price on the matching side.
// Reversed blocks are no longer emitted.
func nearestBlock(blocks []*orderBlock, price float64, bullish bool) *orderBlock {
	var best *orderBlock
	bestDist := math.Inf(1)
	for _, b := range blocks {
		if b.bullish != bullish || b.state == obReversed {
			continue
		}
		dist := math.Min(math.Abs(price-b.top), math.Abs(price-b.bottom))
		if b.bottom <= price && price <= b.top {
			dist = 0
		}
		if dist < bestDist {
			best = b
			bestDist = dist
		}
	}
	return best
}

func nearestGap(gaps []*fairValueGap, price float64, bullish bool) *fairValueGap {
	var best *fairValueGap
	bestDist := math.Inf(1)
	for _, g := range gaps {
		if g.bullish != bullish || g.filled {
			continue
		}
		dist := math.Min(math.Abs(price-g.top), math.Abs(price-g.bottom))
		if g.bottom <= price && price <= g.top {
			dist = 0
		}
		if dist < bestDist {
			best = g
			bestDist = dist
		}
	}
	return best
}
