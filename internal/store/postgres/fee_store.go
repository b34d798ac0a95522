package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polymirror/internal/domain"
)

// FeeEventStore implements domain.FeeEventStore using PostgreSQL.
type FeeEventStore struct {
	pool *pgxpool.Pool
}

// NewFeeEventStore creates a new FeeEventStore backed by the given pool.
func NewFeeEventStore(pool *pgxpool.Pool) *FeeEventStore {
	return &FeeEventStore{pool: pool}
}

const feeEventSelectCols = `id, trade_id, account, trader, profit_usd,
	lister_addr, platform_addr, lister_usd, platform_usd,
	lister_ref, platform_ref, status, reason, created_at, settled_at`

func scanFeeEvent(row pgx.Row) (*domain.FeeDistribution, error) {
	var ev domain.FeeDistribution
	var settledAt sql.NullTime

	err := row.Scan(
		&ev.ID, &ev.TradeID, &ev.Account, &ev.Trader, &ev.ProfitUSD,
		&ev.ListerAddr, &ev.PlatformAddr, &ev.ListerUSD, &ev.PlatformUSD,
		&ev.ListerRef, &ev.PlatformRef, &ev.Status, &ev.Reason,
		&ev.CreatedAt, &settledAt,
	)
	if err != nil {
		return nil, err
	}
	if settledAt.Valid {
		ev.SettledAt = settledAt.Time
	}
	return &ev, nil
}

// SaveFeeEvent upserts a fee distribution keyed by trade id. Settlement refs
// only ever fill in, so replaying a partially settled event cannot erase a
// recorded payment.
func (s *FeeEventStore) SaveFeeEvent(ctx context.Context, ev *domain.FeeDistribution) error {
	const query = `
		INSERT INTO fee_events (
			id, trade_id, account, trader, profit_usd,
			lister_addr, platform_addr, lister_usd, platform_usd,
			lister_ref, platform_ref, status, reason, created_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (trade_id) DO UPDATE SET
			lister_ref   = CASE WHEN fee_events.lister_ref = '' THEN EXCLUDED.lister_ref ELSE fee_events.lister_ref END,
			platform_ref = CASE WHEN fee_events.platform_ref = '' THEN EXCLUDED.platform_ref ELSE fee_events.platform_ref END,
			status       = EXCLUDED.status,
			reason       = EXCLUDED.reason,
			settled_at   = EXCLUDED.settled_at`

	var settledAt any
	if !ev.SettledAt.IsZero() {
		settledAt = ev.SettledAt
	}

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.TradeID, ev.Account, ev.Trader, ev.ProfitUSD,
		ev.ListerAddr, ev.PlatformAddr, ev.ListerUSD, ev.PlatformUSD,
		ev.ListerRef, ev.PlatformRef, ev.Status, ev.Reason,
		ev.CreatedAt, settledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save fee event %s: %w", ev.TradeID, err)
	}
	return nil
}

// FeeEventByTrade returns the fee distribution for a closed trade, or
// domain.ErrNotFound when none exists.
func (s *FeeEventStore) FeeEventByTrade(ctx context.Context, tradeID string) (*domain.FeeDistribution, error) {
	query := `SELECT ` + feeEventSelectCols + ` FROM fee_events WHERE trade_id = $1`

	ev, err := scanFeeEvent(s.pool.QueryRow(ctx, query, tradeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fee event by trade %s: %w", tradeID, err)
	}
	return ev, nil
}

// PendingFeeEvents returns unsettled fee events oldest first, up to limit.
func (s *FeeEventStore) PendingFeeEvents(ctx context.Context, limit int) ([]domain.FeeDistribution, error) {
	query := `SELECT ` + feeEventSelectCols + `
		FROM fee_events WHERE status <> 'settled' ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending fee events: %w", err)
	}
	defer rows.Close()

	var events []domain.FeeDistribution
	for rows.Next() {
		var ev domain.FeeDistribution
		var settledAt sql.NullTime
		if err := rows.Scan(
			&ev.ID, &ev.TradeID, &ev.Account, &ev.Trader, &ev.ProfitUSD,
			&ev.ListerAddr, &ev.PlatformAddr, &ev.ListerUSD, &ev.PlatformUSD,
			&ev.ListerRef, &ev.PlatformRef, &ev.Status, &ev.Reason,
			&ev.CreatedAt, &settledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fee event: %w", err)
		}
		if settledAt.Valid {
			ev.SettledAt = settledAt.Time
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate fee events: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.FeeEventStore = (*FeeEventStore)(nil)
