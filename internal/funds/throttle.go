// Package funds watches the account's on-chain balance and sweeps excess
// funds out, throttled to protect RPC quota.
package funds

import (
	"context"
	"sync"
	"time"
)

// Throttle enforces a minimum interval between executions of an expensive
// check. It is safe for concurrent use.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewThrottle returns a Throttle with the given minimum interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Do runs fn if the interval has elapsed since the last run, or
// unconditionally when bypass is set (e.g. right after a trade). It reports
// whether fn ran. A failed fn does not consume the interval, so the next
// call retries.
func (t *Throttle) Do(ctx context.Context, bypass bool, fn func(context.Context) error) (bool, error) {
	t.mu.Lock()
	now := time.Now()
	if !bypass && !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return false, nil
	}
	t.last = now
	t.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.mu.Lock()
		t.last = time.Time{}
		t.mu.Unlock()
		return true, err
	}
	return true, nil
}
