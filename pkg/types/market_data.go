package types

import "time"

// Bar is an immutable OHLCV sample tagged with symbol, timeframe and the
// opening instant of the bar (UTC). Bars of one (symbol, timeframe) form an
// ordered sequence, oldest first.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Time      time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Mid returns the midpoint of the bar range.
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}

// Range returns high minus low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Tick is a single top-of-book quote for a symbol.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Spread    float64   `json:"spread"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the quote midpoint.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Account mirrors the broker account snapshot reported by the bridge.
type Account struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Profit      float64 `json:"profit"`
}

// Position mirrors an open broker position reported by the bridge.
type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"`
	Lot          float64   `json:"lot"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	SL           float64   `json:"sl"`
	TP           float64   `json:"tp"`
	PnL          float64   `json:"pnl"`
	OpenTime     time.Time `json:"open_time"`
}

// Direction of a trade or signal.
type Direction string

const (
	DirectionLong      Direction = "LONG"
	DirectionShort     Direction = "SHORT"
	DirectionExitLong  Direction = "EXIT_LONG"
	DirectionExitShort Direction = "EXIT_SHORT"
)

// IsEntry reports whether the direction opens a position.
func (d Direction) IsEntry() bool {
	return d == DirectionLong || d == DirectionShort
}

// Opposite maps an entry direction to its exit and vice versa.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionExitLong
	case DirectionShort:
		return DirectionExitShort
	case DirectionExitLong:
		return DirectionLong
	case DirectionExitShort:
		return DirectionShort
	}
	return d
}
