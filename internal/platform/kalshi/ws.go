package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddsfair/arbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectBase is the base delay for full-jitter reconnect backoff.
	reconnectBase = 5 * time.Second

	// reconnectCap bounds the reconnect backoff.
	reconnectCap = 60 * time.Second
)

// ladder is a cents -> contracts bid ladder for one side of a market.
type ladder map[int64]int64

// marketBook aggregates the yes and no bid ladders of one ticker. Kalshi
// only publishes bids per side; the ask ladder of each side is the mirror of
// the complement's bids at 100 minus the price.
type marketBook struct {
	yes ladder
	no  ladder
}

// SubscribeBook streams book snapshots and deltas for the given synthetic
// tokens into sink until ctx is cancelled. Deltas are relative on Kalshi, so
// the client keeps the per-ticker ladders itself and emits full snapshots
// for both synthetic tokens on every change.
func (c *Client) SubscribeBook(ctx context.Context, tokenIDs []string, sink domain.BookSink) error {
	tickers := tickersOf(tokenIDs)
	if len(tickers) == 0 {
		return nil
	}

	for attempt := 0; ; attempt++ {
		err := c.streamBooks(ctx, tickers, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := jitterBackoff(attempt)
		c.logger.Warn("book stream disconnected, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", delay),
			slog.Int("tickers", len(tickers)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// tickersOf deduplicates the tickers behind a set of synthetic tokens.
func tickersOf(tokenIDs []string) []string {
	seen := make(map[string]struct{}, len(tokenIDs))
	var out []string
	for _, id := range tokenIDs {
		ticker, _, ok := splitToken(id)
		if !ok {
			continue
		}
		if _, dup := seen[ticker]; dup {
			continue
		}
		seen[ticker] = struct{}{}
		out = append(out, ticker)
	}
	return out
}

// streamBooks runs one WebSocket session: dial, subscribe, apply messages
// until the connection drops or ctx is cancelled.
func (c *Client) streamBooks(ctx context.Context, tickers []string, sink domain.BookSink) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, c.wsHeaders())
	if err != nil {
		return fmt.Errorf("kalshi: ws connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := WSSubscribeCmd{
		ID:  1,
		Cmd: "subscribe",
		Params: WSSubscribeParams{
			Channels: []string{"orderbook_delta"},
			Tickers:  tickers,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("kalshi: ws subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	books := make(map[string]*marketBook, len(tickers))
	seqs := make(map[string]uint64, len(tickers))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kalshi: ws read: %w", err)
		}

		var envelope WSMessage
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case "orderbook_snapshot":
			var snap WSOrderbookSnapshot
			if err := json.Unmarshal(envelope.Msg, &snap); err != nil || snap.Ticker == "" {
				continue
			}
			books[snap.Ticker] = &marketBook{
				yes: ladderFrom(snap.Yes),
				no:  ladderFrom(snap.No),
			}
			seqs[snap.Ticker]++
			emitBooks(sink, snap.Ticker, books[snap.Ticker], seqs[snap.Ticker])

		case "orderbook_delta":
			var delta WSOrderbookDelta
			if err := json.Unmarshal(envelope.Msg, &delta); err != nil || delta.Ticker == "" {
				continue
			}
			mb, ok := books[delta.Ticker]
			if !ok {
				// Delta before the snapshot, wait for the resync.
				continue
			}
			mb.apply(delta)
			seqs[delta.Ticker]++
			emitBooks(sink, delta.Ticker, mb, seqs[delta.Ticker])
		}
	}
}

// ladderFrom builds a ladder from [price, quantity] pairs.
func ladderFrom(levels []APIBookLevel) ladder {
	l := make(ladder, len(levels))
	for _, lvl := range levels {
		if lvl[1] > 0 {
			l[lvl[0]] = lvl[1]
		}
	}
	return l
}

// apply folds a relative quantity change into the ladder.
func (mb *marketBook) apply(d WSOrderbookDelta) {
	side := mb.yes
	if d.Side == "no" {
		side = mb.no
	}
	qty := side[d.Price] + d.Delta
	if qty <= 0 {
		delete(side, d.Price)
	} else {
		side[d.Price] = qty
	}
}

// emitBooks publishes both synthetic token books for a ticker. The YES book
// bids come from the yes ladder; its asks are the no ladder mirrored at
// 100 minus the cent price, and symmetrically for the NO book.
func emitBooks(sink domain.BookSink, ticker string, mb *marketBook, seq uint64) {
	now := time.Now()
	sink.OnSnapshot(domain.BookSnapshot{
		TokenID:   YesToken(ticker),
		Bids:      bidLevels(mb.yes),
		Asks:      mirroredAsks(mb.no),
		Seq:       seq,
		Timestamp: now,
	})
	sink.OnSnapshot(domain.BookSnapshot{
		TokenID:   NoToken(ticker),
		Bids:      bidLevels(mb.no),
		Asks:      mirroredAsks(mb.yes),
		Seq:       seq,
		Timestamp: now,
	})
}

// bidLevels converts a ladder to fixed-point levels, best (highest) first.
func bidLevels(l ladder) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(l))
	for cents, qty := range l {
		out = append(out, domain.PriceLevel{
			PriceTicks: centsToTicks(cents),
			SizeUnits:  contractsToUnits(qty),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceTicks > out[j].PriceTicks })
	return out
}

// mirroredAsks derives an ask ladder from the complement side's bids, best
// (lowest) first.
func mirroredAsks(l ladder) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(l))
	for cents, qty := range l {
		out = append(out, domain.PriceLevel{
			PriceTicks: centsToTicks(100 - cents),
			SizeUnits:  contractsToUnits(qty),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceTicks < out[j].PriceTicks })
	return out
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
