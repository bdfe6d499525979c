package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddsfair/arbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectBase is the base delay for full-jitter reconnect backoff.
	reconnectBase = 5 * time.Second

	// reconnectCap bounds the reconnect backoff.
	reconnectCap = 60 * time.Second
)

// SubscribeBook streams book snapshots and deltas for the given tokens into
// sink until ctx is cancelled. Each reconnect resubscribes, which makes the
// venue resend full snapshots, so the sink always resyncs after a gap.
func (c *Client) SubscribeBook(ctx context.Context, tokenIDs []string, sink domain.BookSink) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	for attempt := 0; ; attempt++ {
		err := c.streamBooks(ctx, tokenIDs, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := jitterBackoff(attempt)
		c.logger.Warn("book stream disconnected, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", delay),
			slog.Int("tokens", len(tokenIDs)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// streamBooks runs one WebSocket session: dial, subscribe, read until the
// connection drops or ctx is cancelled.
func (c *Client) streamBooks(ctx context.Context, tokenIDs []string, sink domain.BookSink) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket: ws connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := WSCommand{Type: "subscribe", Channel: "market", Assets: tokenIDs}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("polymarket: ws subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go pingLoop(conn, done)

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// Session-local sequence counters. Snapshots reset the sink's ordering
	// baseline, so restarting from zero on reconnect is safe.
	seqs := make(map[string]uint64, len(tokenIDs))
	next := func(tokenID string) uint64 {
		seqs[tokenID]++
		return seqs[tokenID]
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket: ws read: %w", err)
		}
		c.dispatch(raw, sink, next)
	}
}

// dispatch routes one WebSocket frame to the sink. Frames may carry a single
// event or an array of events.
func (c *Client) dispatch(raw []byte, sink domain.BookSink, next func(string) uint64) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		batch = []json.RawMessage{raw}
	}

	for _, msg := range batch {
		var envelope struct {
			EventType string `json:"event_type"`
			MsgType   string `json:"msg_type"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			continue
		}
		kind := envelope.EventType
		if kind == "" {
			kind = envelope.MsgType
		}

		switch kind {
		case "book":
			var book BookMessage
			if err := json.Unmarshal(msg, &book); err != nil || book.AssetID == "" {
				continue
			}
			sink.OnSnapshot(book.ToSnapshot(next(book.AssetID)))

		case "price_change":
			var pc PriceChangeMessage
			if err := json.Unmarshal(msg, &pc); err != nil || pc.AssetID == "" {
				continue
			}
			sink.OnDelta(pc.ToDelta(next(pc.AssetID)))
		}
	}
}

// pingLoop keeps the WebSocket alive until done closes.
func pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// jitterBackoff returns a full-jitter delay for the given attempt.
func jitterBackoff(attempt int) time.Duration {
	max := reconnectBase << uint(attempt)
	if max > reconnectCap || max <= 0 {
		max = reconnectCap
	}
	return time.Duration(rand.Int63n(int64(max)) + 1)
}
