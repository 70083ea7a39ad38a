package marketdata

import (
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Aggregator builds bars from a tick stream. Ticks are bucketed by flooring
// their timestamp to the timeframe length; a bar is emitted when the first
// tick of the next bucket arrives. Bid prices drive OHLC and volume counts
// ticks, which is how MT-style chart bars are built.
type Aggregator struct {
	symbol string
	tf     types.Timeframe
	cur    *types.Bar
}

// NewAggregator creates a tick-to-bar aggregator for one (symbol, timeframe).
func NewAggregator(symbol string, tf types.Timeframe) *Aggregator {
	return &Aggregator{symbol: symbol, tf: tf}
}

// Add folds one tick in. When the tick opens a new bucket the completed bar
// of the previous bucket is returned with ok=true.
func (a *Aggregator) Add(t types.Tick) (types.Bar, bool) {
	bucket := a.tf.BucketStart(t.Timestamp)
	price := t.Bid

	if a.cur == nil || !a.cur.Time.Equal(bucket) {
		done := a.cur
		a.cur = &types.Bar{
			Symbol:    a.symbol,
			Timeframe: a.tf,
			Time:      bucket,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		}
		if done != nil {
			return *done, true
		}
		return types.Bar{}, false
	}

	if price > a.cur.High {
		a.cur.High = price
	}
	if price < a.cur.Low {
		a.cur.Low = price
	}
	a.cur.Close = price
	a.cur.Volume++
	return types.Bar{}, false
}

// Flush returns the in-progress bar, if any. Call it at end of stream; the
// returned bar is the still-forming final bucket.
func (a *Aggregator) Flush() (types.Bar, bool) {
	if a.cur == nil {
		return types.Bar{}, false
	}
	done := *a.cur
	a.cur = nil
	return done, true
}

// AggregateTicks converts an ordered tick slice into bars, including the
// final partial bar.
func AggregateTicks(ticks []types.Tick, symbol string, tf types.Timeframe) []types.Bar {
	agg := NewAggregator(symbol, tf)
	var bars []types.Bar
	for _, t := range ticks {
		if b, ok := agg.Add(t); ok {
			bars = append(bars, b)
		}
	}
	if b, ok := agg.Flush(); ok {
		bars = append(bars, b)
	}
	return bars
}
