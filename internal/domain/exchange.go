package domain

import "context"

// BookSink receives orderbook snapshots and deltas from a venue feed.
// Implementations must tolerate out-of-order deltas (stale seq is dropped).
type BookSink interface {
	OnSnapshot(snap BookSnapshot)
	OnDelta(delta BookDelta)
}

// ExchangeClient is the venue-agnostic trading surface. Implementations:
// internal/platform/polymarket, internal/platform/kalshi.
type ExchangeClient interface {
	// Name returns the venue identifier ("polymarket", "kalshi").
	Name() string

	// ListMarkets fetches active binary markets ordered by volume.
	ListMarkets(ctx context.Context, limit int) ([]Market, error)

	// SubscribeBook streams book snapshots and deltas for the given tokens
	// into sink until ctx is cancelled. Reconnects internally with
	// full-jitter exponential backoff (5s base, 60s cap), requesting fresh
	// snapshots on each reconnect.
	SubscribeBook(ctx context.Context, tokenIDs []string, sink BookSink) error

	// PlaceOrder submits an order and blocks until a terminal result or the
	// context deadline. FOK orders either fill completely or are rejected.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// GetBalance returns the available trading balance in dollars.
	GetBalance(ctx context.Context) (float64, error)
}
