package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polymirror/internal/domain"
)

// StatStore implements domain.StatStore using PostgreSQL.
type StatStore struct {
	pool *pgxpool.Pool
}

// NewStatStore creates a new StatStore backed by the given pool.
func NewStatStore(pool *pgxpool.Pool) *StatStore {
	return &StatStore{pool: pool}
}

// SaveStats upserts the aggregate row for an account.
func (s *StatStore) SaveStats(ctx context.Context, stats *domain.AccountStats) error {
	const query = `
		INSERT INTO account_stats (
			account, copied, skipped, failed, volume_usd, realized_pnl,
			fastest_copy_ns, slowest_copy_ns, last_copy_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (account) DO UPDATE SET
			copied          = EXCLUDED.copied,
			skipped         = EXCLUDED.skipped,
			failed          = EXCLUDED.failed,
			volume_usd      = EXCLUDED.volume_usd,
			realized_pnl    = EXCLUDED.realized_pnl,
			fastest_copy_ns = EXCLUDED.fastest_copy_ns,
			slowest_copy_ns = EXCLUDED.slowest_copy_ns,
			last_copy_at    = EXCLUDED.last_copy_at,
			updated_at      = NOW()`

	var lastCopy any
	if !stats.LastCopyAt.IsZero() {
		lastCopy = stats.LastCopyAt
	}

	_, err := s.pool.Exec(ctx, query,
		stats.Account, stats.Copied, stats.Skipped, stats.Failed,
		stats.VolumeUSD, stats.RealizedPnL,
		stats.FastestCopy.Nanoseconds(), stats.SlowestCopy.Nanoseconds(),
		lastCopy,
	)
	if err != nil {
		return fmt.Errorf("postgres: save stats for %s: %w", stats.Account, err)
	}
	return nil
}

// StatsByAccount returns the aggregates for an account, or domain.ErrNotFound
// when the account has no recorded activity.
func (s *StatStore) StatsByAccount(ctx context.Context, account string) (*domain.AccountStats, error) {
	const query = `
		SELECT account, copied, skipped, failed, volume_usd, realized_pnl,
		       fastest_copy_ns, slowest_copy_ns, last_copy_at
		FROM account_stats WHERE account = $1`

	var stats domain.AccountStats
	var fastestNs, slowestNs int64
	var lastCopy sql.NullTime

	err := s.pool.QueryRow(ctx, query, account).Scan(
		&stats.Account, &stats.Copied, &stats.Skipped, &stats.Failed,
		&stats.VolumeUSD, &stats.RealizedPnL,
		&fastestNs, &slowestNs, &lastCopy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: stats for %s: %w", account, err)
	}

	stats.FastestCopy = time.Duration(fastestNs)
	stats.SlowestCopy = time.Duration(slowestNs)
	if lastCopy.Valid {
		stats.LastCopyAt = lastCopy.Time
	}
	return &stats, nil
}

// Compile-time interface check.
var _ domain.StatStore = (*StatStore)(nil)
