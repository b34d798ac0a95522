package trader

import (
	"context"
	"sync"
	"time"
)

// balanceCache memoizes balance reads per subject address. Entries are
// valid for the TTL; a cache miss triggers the caller-supplied fetch.
// Owned per-account so concurrently run accounts stay isolated.
type balanceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]balanceEntry
}

type balanceEntry struct {
	value     float64
	fetchedAt time.Time
}

const defaultBalanceTTL = 5 * time.Minute

func newBalanceCache(ttl time.Duration) *balanceCache {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &balanceCache{
		ttl:     ttl,
		entries: make(map[string]balanceEntry),
	}
}

// Get returns the cached balance for subject, fetching on miss or expiry.
// fresh reports whether fetch ran, so callers can reconcile state that is
// only valid against a fresh snapshot.
func (c *balanceCache) Get(ctx context.Context, subject string, fetch func(context.Context) (float64, error)) (value float64, fresh bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[subject]; ok && time.Since(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.value, false, nil
	}
	c.mu.Unlock()

	value, err = fetch(ctx)
	if err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	c.entries[subject] = balanceEntry{value: value, fetchedAt: time.Now()}
	c.mu.Unlock()
	return value, true, nil
}

// Invalidate drops the subject's entry so the next Get refetches.
func (c *balanceCache) Invalidate(subject string) {
	c.mu.Lock()
	delete(c.entries, subject)
	c.mu.Unlock()
}
