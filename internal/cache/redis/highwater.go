package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"polymirror/internal/domain"
)

// HighWaterStore persists per-trader high-water marks so a restart does not
// replay activity that was already mirrored.
type HighWaterStore struct {
	rdb *redis.Client
}

// NewHighWaterStore creates a HighWaterStore backed by the given Client.
func NewHighWaterStore(c *Client) *HighWaterStore {
	return &HighWaterStore{rdb: c.Underlying()}
}

func highWaterKey(trader string) string {
	return "highwater:" + strings.ToLower(trader)
}

// HighWater returns the newest trade timestamp recorded for trader. A trader
// with no recorded mark yields the zero time and no error.
func (s *HighWaterStore) HighWater(ctx context.Context, trader string) (time.Time, error) {
	val, err := s.rdb.Get(ctx, highWaterKey(trader)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: high water %s: %w", trader, err)
	}

	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: high water %s: parse %q: %w", trader, val, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// SetHighWater records ts as the newest trade timestamp for trader. Stale
// writes are ignored so the mark only ever advances.
func (s *HighWaterStore) SetHighWater(ctx context.Context, trader string, ts time.Time) error {
	current, err := s.HighWater(ctx, trader)
	if err != nil {
		return err
	}
	if !ts.After(current) {
		return nil
	}

	val := strconv.FormatInt(ts.UnixNano(), 10)
	if err := s.rdb.Set(ctx, highWaterKey(trader), val, 0).Err(); err != nil {
		return fmt.Errorf("redis: set high water %s: %w", trader, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.HighWaterStore = (*HighWaterStore)(nil)
