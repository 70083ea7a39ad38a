package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// TickHandler receives each published quote.
type TickHandler func(types.Tick)

const (
	streamBackoffMin = time.Second
	streamBackoffMax = 30 * time.Second
)

// Stream consumes the tick pub/sub channel. It reconnects with capped
// exponential backoff until the context ends; ticks are delivered on the
// reader goroutine, so handlers must be fast or hand off.
type Stream struct {
	url     string
	handler TickHandler
	log     zerolog.Logger
}

// NewStream creates a tick stream consumer.
func NewStream(url string, handler TickHandler, log zerolog.Logger) *Stream {
	return &Stream{
		url:     url,
		handler: handler,
		log:     log.With().Str("component", "bridge_stream").Logger(),
	}
}

// Run blocks until ctx is cancelled, reading ticks and invoking the handler.
func (s *Stream) Run(ctx context.Context) error {
	backoff := streamBackoffMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("tick stream disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamBackoffMax {
			backoff = streamBackoffMax
		}
	}
}

// consume runs one connection to exhaustion.
func (s *Stream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock the read loop when the context ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.log.Info().Str("url", s.url).Msg("tick stream connected")
	for {
		var w wireTick
		if err := conn.ReadJSON(&w); err != nil {
			return err
		}
		s.handler(w.toTick(w.Symbol))
	}
}
