package bridge

import (
	"time"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// Request commands understood by the broker terminal.
const (
	cmdGetTick      = "GET_TICK"
	cmdGetBars      = "GET_BARS"
	cmdGetIndicator = "GET_INDICATOR"
	cmdOpenOrder    = "OPEN_ORDER"
	cmdCloseOrder   = "CLOSE_ORDER"
	cmdModifyOrder  = "MODIFY_ORDER"
	cmdGetPositions = "GET_POSITIONS"
	cmdGetAccount   = "GET_ACCOUNT"
	cmdSubscribe    = "SUBSCRIBE"
)

// request is the flat JSON frame sent on the request/reply channel. Fields
// irrelevant to a command are omitted.
type request struct {
	Command   string             `json:"command"`
	Symbol    string             `json:"symbol,omitempty"`
	Timeframe string             `json:"timeframe,omitempty"`
	Count     int                `json:"count,omitempty"`
	Name      string             `json:"name,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	Type      string             `json:"type,omitempty"`
	Lot       float64            `json:"lot,omitempty"`
	SL        *float64           `json:"sl,omitempty"`
	TP        *float64           `json:"tp,omitempty"`
	Ticket    int64              `json:"ticket,omitempty"`
	Symbols   []string           `json:"symbols,omitempty"`
}

// wireTick is a quote frame; timestamps on the wire are Unix seconds.
type wireTick struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Spread    float64 `json:"spread"`
	Timestamp int64   `json:"timestamp"`
}

func (w wireTick) toTick(symbol string) types.Tick {
	if w.Symbol != "" {
		symbol = w.Symbol
	}
	return types.Tick{
		Symbol:    symbol,
		Bid:       w.Bid,
		Ask:       w.Ask,
		Spread:    w.Spread,
		Timestamp: time.Unix(w.Timestamp, 0).UTC(),
	}
}

type wireBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"volume"`
}

func (w wireBar) toBar(symbol string, tf types.Timeframe) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		Time:      time.Unix(w.Time, 0).UTC(),
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
		Close:     w.Close,
		Volume:    w.Volume,
	}
}

type wirePosition struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Lot          float64 `json:"lot"`
	OpenPrice    float64 `json:"open_price"`
	CurrentPrice float64 `json:"current_price"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	PnL          float64 `json:"pnl"`
	OpenTime     int64   `json:"open_time"`
}

func (w wirePosition) toPosition() types.Position {
	return types.Position{
		Ticket:       w.Ticket,
		Symbol:       w.Symbol,
		Type:         w.Type,
		Lot:          w.Lot,
		OpenPrice:    w.OpenPrice,
		CurrentPrice: w.CurrentPrice,
		SL:           w.SL,
		TP:           w.TP,
		PnL:          w.PnL,
		OpenTime:     time.Unix(w.OpenTime, 0).UTC(),
	}
}

// OrderResult is the broker's answer to order commands.
type OrderResult struct {
	Success   bool    `json:"success"`
	Ticket    int64   `json:"ticket,omitempty"`
	OpenPrice float64 `json:"open_price,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ack is the minimal success/error reply frame.
type ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
