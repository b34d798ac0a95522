package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"polymirror/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// SavePosition upserts an open position keyed by (account, token_id). A BUY
// that averages into an existing position overwrites the row.
func (s *PositionStore) SavePosition(ctx context.Context, account string, pos *domain.ActivePosition) error {
	const query = `
		INSERT INTO positions (
			account, token_id, market_id, outcome, title,
			entry_price, size_usd, shares, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (account, token_id) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			size_usd    = EXCLUDED.size_usd,
			shares      = EXCLUDED.shares,
			updated_at  = NOW()`

	_, err := s.pool.Exec(ctx, query,
		account, pos.TokenID, pos.MarketID, pos.Outcome, pos.Title,
		pos.EntryPrice, pos.SizeUSD, pos.Shares, pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", pos.TokenID, err)
	}
	return nil
}

// DeletePosition removes a position after it is fully exited.
func (s *PositionStore) DeletePosition(ctx context.Context, account, tokenID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE account = $1 AND token_id = $2`,
		account, tokenID,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", tokenID, err)
	}
	return nil
}

// PositionsByAccount returns all open positions for an account, oldest first.
func (s *PositionStore) PositionsByAccount(ctx context.Context, account string) ([]domain.ActivePosition, error) {
	const query = `
		SELECT market_id, token_id, outcome, title,
		       entry_price, size_usd, shares, opened_at
		FROM positions WHERE account = $1 ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", account, err)
	}
	defer rows.Close()

	var positions []domain.ActivePosition
	for rows.Next() {
		var p domain.ActivePosition
		if err := rows.Scan(
			&p.MarketID, &p.TokenID, &p.Outcome, &p.Title,
			&p.EntryPrice, &p.SizeUSD, &p.Shares, &p.OpenedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
