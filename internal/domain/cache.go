package domain

import (
	"context"
	"time"
)

// StaleQuoteAge is how old a cached quote may be before readers should
// treat it as missing.
const StaleQuoteAge = 10 * time.Second

// PriceCache provides fast access to the latest best bid/ask per token.
type PriceCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, tokenID string) (Quote, error)
	GetQuotes(ctx context.Context, tokenIDs []string) (map[string]Quote, error)
}

// SignalBus provides pub/sub fan-out and durable streams for events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Fresh reports whether the quote is recent enough to price against.
func (q Quote) Fresh(now time.Time) bool {
	return !q.Timestamp.IsZero() && now.Sub(q.Timestamp) <= StaleQuoteAge
}
