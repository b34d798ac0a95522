package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polymirror/internal/domain"
)

// CopyTradeStore implements domain.CopyTradeStore using PostgreSQL.
type CopyTradeStore struct {
	pool *pgxpool.Pool
}

// NewCopyTradeStore creates a new CopyTradeStore backed by the given pool.
func NewCopyTradeStore(pool *pgxpool.Pool) *CopyTradeStore {
	return &CopyTradeStore{pool: pool}
}

const copyTradeSelectCols = `id, account, signal_id, trader, market_id, token_id,
	outcome, title, side, intended_usd, executed_usd, price, shares,
	status, reason, order_id, source, signal_at, executed_at`

func scanCopyTradeRows(rows pgx.Rows) ([]domain.CopyTrade, error) {
	var trades []domain.CopyTrade
	for rows.Next() {
		var t domain.CopyTrade
		if err := rows.Scan(
			&t.ID, &t.Account, &t.SignalID, &t.Trader, &t.MarketID, &t.TokenID,
			&t.Outcome, &t.Title, &t.Side, &t.IntendedUSD, &t.ExecutedUSD,
			&t.Price, &t.Shares, &t.Status, &t.Reason, &t.OrderID, &t.Source,
			&t.SignalAt, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveCopyTrade inserts one copy attempt record. A duplicate (account,
// signal_id) pair is silently skipped so a replayed signal never produces a
// second row.
func (s *CopyTradeStore) SaveCopyTrade(ctx context.Context, trade *domain.CopyTrade) error {
	const query = `
		INSERT INTO copy_trades (
			id, account, signal_id, trader, market_id, token_id,
			outcome, title, side, intended_usd, executed_usd, price, shares,
			status, reason, order_id, source, signal_at, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19
		) ON CONFLICT (account, signal_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		trade.ID, trade.Account, trade.SignalID, trade.Trader, trade.MarketID,
		trade.TokenID, trade.Outcome, trade.Title, trade.Side,
		trade.IntendedUSD, trade.ExecutedUSD, trade.Price, trade.Shares,
		trade.Status, trade.Reason, trade.OrderID, trade.Source,
		trade.SignalAt, trade.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save copy trade %s: %w", trade.SignalID, err)
	}
	return nil
}

// CopyTradesByAccount returns the most recent copy attempts for an account,
// newest first.
func (s *CopyTradeStore) CopyTradesByAccount(ctx context.Context, account string, limit int) ([]domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeSelectCols + `
		FROM copy_trades WHERE account = $1 ORDER BY executed_at DESC`
	args := []any{account}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades for %s: %w", account, err)
	}
	defer rows.Close()

	trades, err := scanCopyTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan copy trades for %s: %w", account, err)
	}
	return trades, nil
}

// CopyTradeExists reports whether a signal has already been recorded for the
// account.
func (s *CopyTradeStore) CopyTradeExists(ctx context.Context, account, signalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM copy_trades WHERE account = $1 AND signal_id = $2)",
		account, signalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: copy trade exists %s: %w", signalID, err)
	}
	return exists, nil
}

// ListBefore returns copy trades executed strictly before the given time,
// oldest first, for archiving.
func (s *CopyTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeSelectCols + `
		FROM copy_trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades before: %w", err)
	}
	defer rows.Close()
	return scanCopyTradeRows(rows)
}

// DeleteBefore deletes copy trades executed before the given time and returns
// the number of rows removed.
func (s *CopyTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM copy_trades WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete copy trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.CopyTradeStore = (*CopyTradeStore)(nil)
