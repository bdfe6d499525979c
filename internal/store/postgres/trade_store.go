package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsfair/arbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, exchange, venue_order_id, position_id, market_id,
	token_id, side, price_ticks, size_units, fee_micro, executed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t     domain.Trade
			posID *string
		)
		if err := rows.Scan(
			&t.ID, &t.Exchange, &t.VenueOrderID, &posID, &t.MarketID,
			&t.TokenID, &t.Side, &t.PriceTicks, &t.SizeUnits, &t.FeeMicro,
			&t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		if posID != nil {
			t.PositionID = *posID
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts executed legs using pgx Batch. Duplicate legs (same
// exchange and venue order ID) are silently skipped via ON CONFLICT DO
// NOTHING so retried reconciliations stay idempotent.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			id, exchange, venue_order_id, position_id, market_id,
			token_id, side, price_ticks, size_units, fee_micro, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		) ON CONFLICT (exchange, venue_order_id) DO NOTHING`

	for _, t := range trades {
		var posID *string
		if t.PositionID != "" {
			posID = &t.PositionID
		}
		batch.Queue(query,
			t.ID, t.Exchange, t.VenueOrderID, posID, t.MarketID,
			t.TokenID, t.Side, t.PriceTicks, t.SizeUnits, t.FeeMicro,
			t.ExecutedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByMarket returns trades for a given market with pagination and
// optional time filtering.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades executed strictly before the given time,
// oldest first, for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes all trades executed before the given time. Returns
// the number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SumFeesSince totals venue fees paid since the given time, micro-dollars.
func (s *TradeStore) SumFeesSince(ctx context.Context, since time.Time) (int64, error) {
	var sum *int64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(fee_micro) FROM trades WHERE executed_at >= $1`, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum fees: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
