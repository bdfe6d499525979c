package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists executed legs. Inserts are idempotent on
// (exchange, venue_order_id).
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	SumFeesSince(ctx context.Context, since time.Time) (int64, error)
}

// PositionStore persists paired positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
	SumRealizedSince(ctx context.Context, since time.Time) (int64, error)
}
