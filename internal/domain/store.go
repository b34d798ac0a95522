package domain

import (
	"context"
	"time"
)

// CopyTradeStore persists copy attempts and their outcomes.
type CopyTradeStore interface {
	SaveCopyTrade(ctx context.Context, trade *CopyTrade) error
	CopyTradesByAccount(ctx context.Context, account string, limit int) ([]CopyTrade, error)
	CopyTradeExists(ctx context.Context, account, signalID string) (bool, error)
}

// PositionStore persists open positions so a restart can resume them.
type PositionStore interface {
	SavePosition(ctx context.Context, account string, pos *ActivePosition) error
	DeletePosition(ctx context.Context, account, tokenID string) error
	PositionsByAccount(ctx context.Context, account string) ([]ActivePosition, error)
}

// FeeEventStore persists fee distributions with dedup on trade id.
type FeeEventStore interface {
	SaveFeeEvent(ctx context.Context, ev *FeeDistribution) error
	FeeEventByTrade(ctx context.Context, tradeID string) (*FeeDistribution, error)
	PendingFeeEvents(ctx context.Context, limit int) ([]FeeDistribution, error)
}

// StatStore persists per-account aggregates.
type StatStore interface {
	SaveStats(ctx context.Context, stats *AccountStats) error
	StatsByAccount(ctx context.Context, account string) (*AccountStats, error)
}

// HighWaterStore records the newest trade timestamp seen per trader so a
// restart does not replay old activity.
type HighWaterStore interface {
	HighWater(ctx context.Context, trader string) (time.Time, error)
	SetHighWater(ctx context.Context, trader string, ts time.Time) error
}
