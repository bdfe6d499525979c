package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsfair/arbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, kind, key, title, yes_exchange, no_exchange,
	yes_market_id, no_market_id, yes_token, no_token, size_units,
	yes_avg_ticks, no_avg_ticks, entry_micro, high_water_micro,
	realized_micro, status, exit_reason, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ID, &p.Kind, &p.Key, &p.Title, &p.YesExchange, &p.NoExchange,
		&p.YesMarketID, &p.NoMarketID, &p.YesToken, &p.NoToken, &p.SizeUnits,
		&p.YesAvgTicks, &p.NoAvgTicks, &p.EntryMicro, &p.HighWaterM,
		&p.RealizedMicro, &p.Status, &p.ExitReason, &p.OpenedAt, &p.ClosedAt,
	)
	return p, err
}

// Create inserts a freshly opened position.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, kind, key, title, yes_exchange, no_exchange,
			yes_market_id, no_market_id, yes_token, no_token, size_units,
			yes_avg_ticks, no_avg_ticks, entry_micro, high_water_micro,
			realized_micro, status, exit_reason, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20
		)`
	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Kind, pos.Key, pos.Title, pos.YesExchange, pos.NoExchange,
		pos.YesMarketID, pos.NoMarketID, pos.YesToken, pos.NoToken, pos.SizeUnits,
		pos.YesAvgTicks, pos.NoAvgTicks, pos.EntryMicro, pos.HighWaterM,
		pos.RealizedMicro, pos.Status, pos.ExitReason, pos.OpenedAt, pos.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, pos domain.Position) error {
	const query = `
		UPDATE positions SET
			size_units = $2, high_water_micro = $3, realized_micro = $4,
			status = $5, exit_reason = $6, closed_at = $7
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		pos.ID, pos.SizeUnits, pos.HighWaterM, pos.RealizedMicro,
		pos.Status, pos.ExitReason, pos.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches one position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// ListOpen returns all positions not yet closed, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status != $1 ORDER BY opened_at ASC`, domain.PositionStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListHistory returns closed positions newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = $1`
	args := []any{domain.PositionStatusClosed}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY closed_at DESC"
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
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position history: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SumRealizedSince totals realized P&L of positions closed since the given
// time, micro-dollars.
func (s *PositionStore) SumRealizedSince(ctx context.Context, since time.Time) (int64, error) {
	var sum *int64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(realized_micro) FROM positions
		 WHERE status = $1 AND closed_at >= $2`,
		domain.PositionStatusClosed, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum realized: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
