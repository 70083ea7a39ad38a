package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// ErrRemote wraps a broker-side rejection carried in the reply frame.
var ErrRemote = errors.New("bridge: remote error")

// Config configures the bridge client.
type Config struct {
	// RequestURL is the websocket endpoint of the request/reply channel.
	RequestURL string
	// StreamURL is the websocket endpoint of the tick pub/sub channel.
	StreamURL string
	// RequestTimeout bounds one request/reply exchange. Default 5s.
	RequestTimeout time.Duration
}

// Client is the broker-terminal bridge: JSON request/reply over one
// websocket plus a separate tick stream. One exchange is in flight at a
// time; the mutex serializes callers. A timed-out or failed exchange resets
// the socket so the next request starts on a fresh connection.
type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a bridge client. No connection is made until the first
// request.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    "bridge",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log.With().Str("component", "bridge").Logger(),
	}
}

// Close tears down the request connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// exchange sends one request and decodes the reply into out. The socket is
// replaced on any failure so a wedged terminal never leaves a stale reply
// queued for the next caller.
func (c *Client) exchange(ctx context.Context, req request, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.exchangeLocked(ctx, req, out)
	})
	return err
}

func (c *Client) exchangeLocked(ctx context.Context, req request, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.conn == nil {
		if err := c.dial(ctx); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.reset()
		return fmt.Errorf("bridge: send %s: %w", req.Command, err)
	}
	c.conn.SetReadDeadline(deadline)
	if err := c.conn.ReadJSON(out); err != nil {
		c.reset()
		return fmt.Errorf("bridge: reply %s: %w", req.Command, err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.RequestURL, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", c.cfg.RequestURL, err)
	}
	c.conn = conn
	return nil
}

// reset drops the connection; callers hold c.mu.
func (c *Client) reset() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.log.Warn().Msg("bridge socket reset")
}

// GetTick fetches the current quote for a symbol.
func (c *Client) GetTick(ctx context.Context, symbol string) (types.Tick, error) {
	var w wireTick
	if err := c.exchange(ctx, request{Command: cmdGetTick, Symbol: symbol}, &w); err != nil {
		return types.Tick{}, err
	}
	return w.toTick(symbol), nil
}

// GetBars fetches the last count bars, oldest first.
func (c *Client) GetBars(ctx context.Context, symbol string, tf types.Timeframe, count int) ([]types.Bar, error) {
	var ws []wireBar
	req := request{Command: cmdGetBars, Symbol: symbol, Timeframe: string(tf), Count: count}
	if err := c.exchange(ctx, req, &ws); err != nil {
		return nil, err
	}
	bars := make([]types.Bar, len(ws))
	for i, w := range ws {
		bars[i] = w.toBar(symbol, tf)
	}
	return bars, nil
}

// GetIndicator asks the terminal to compute an indicator series remotely.
func (c *Client) GetIndicator(ctx context.Context, symbol string, tf types.Timeframe, name string, params map[string]float64, count int) (map[string][]float64, error) {
	var out map[string][]float64
	req := request{
		Command: cmdGetIndicator, Symbol: symbol, Timeframe: string(tf),
		Name: name, Params: params, Count: count,
	}
	if err := c.exchange(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenOrder places a market order. A broker rejection comes back as an
// OrderResult with Success=false, not a transport error.
func (c *Client) OpenOrder(ctx context.Context, symbol, orderType string, lot float64, sl, tp *float64) (OrderResult, error) {
	var res OrderResult
	req := request{Command: cmdOpenOrder, Symbol: symbol, Type: orderType, Lot: lot, SL: sl, TP: tp}
	if err := c.exchange(ctx, req, &res); err != nil {
		return OrderResult{Error: err.Error()}, err
	}
	return res, nil
}

// CloseOrder closes an open position by ticket.
func (c *Client) CloseOrder(ctx context.Context, ticket int64) error {
	var res ack
	if err := c.exchange(ctx, request{Command: cmdCloseOrder, Ticket: ticket}, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: close order %d: %s", ErrRemote, ticket, res.Error)
	}
	return nil
}

// ModifyOrder updates SL and/or TP on an open position.
func (c *Client) ModifyOrder(ctx context.Context, ticket int64, sl, tp *float64) error {
	var res ack
	if err := c.exchange(ctx, request{Command: cmdModifyOrder, Ticket: ticket, SL: sl, TP: tp}, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: modify order %d: %s", ErrRemote, ticket, res.Error)
	}
	return nil
}

// GetPositions lists open broker positions.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	var ws []wirePosition
	if err := c.exchange(ctx, request{Command: cmdGetPositions}, &ws); err != nil {
		return nil, err
	}
	positions := make([]types.Position, len(ws))
	for i, w := range ws {
		positions[i] = w.toPosition()
	}
	return positions, nil
}

// GetAccount fetches the account snapshot.
func (c *Client) GetAccount(ctx context.Context) (types.Account, error) {
	var acc types.Account
	if err := c.exchange(ctx, request{Command: cmdGetAccount}, &acc); err != nil {
		return types.Account{}, err
	}
	return acc, nil
}

// Subscribe registers symbols on the tick stream.
func (c *Client) Subscribe(ctx context.Context, symbols []string) error {
	var res ack
	if err := c.exchange(ctx, request{Command: cmdSubscribe, Symbols: symbols}, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: subscribe: %s", ErrRemote, res.Error)
	}
	return nil
}
