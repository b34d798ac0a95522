package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polymirror/internal/domain"
)

type fakeFetcher struct {
	mu     sync.Mutex
	trades map[string][]domain.PublicTrade
	errs   map[string]error
	calls  int
}

func (f *fakeFetcher) FetchTrades(ctx context.Context, trader string, since time.Time) ([]domain.PublicTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[trader]; err != nil {
		return nil, err
	}
	return f.trades[trader], nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trade(id, trader string, age time.Duration) domain.PublicTrade {
	return domain.PublicTrade{
		ID:        id,
		Trader:    trader,
		MarketID:  "m1",
		TokenID:   "tok1",
		Side:      domain.SideBuy,
		Outcome:   "Yes",
		SizeUSD:   500,
		Price:     0.40,
		Timestamp: time.Now().UTC().Add(-age),
	}
}

func collect(ch <-chan domain.TradeSignal, timeout time.Duration) []domain.TradeSignal {
	var out []domain.TradeSignal
	deadline := time.After(timeout)
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, sig)
		case <-deadline:
			return out
		}
	}
}

func TestTickEmitsNewTrades(t *testing.T) {
	f := &fakeFetcher{trades: map[string][]domain.PublicTrade{
		"0xabc": {trade("t1", "0xabc", time.Minute)},
	}}
	m := New(Config{}, f, []string{"0xabc"}, nil, discard())

	m.tick(context.Background())

	sigs := collect(m.signals, 100*time.Millisecond)
	require.Len(t, sigs, 1)
	assert.Equal(t, "t1", sigs[0].ID)
	assert.Equal(t, "0xabc", sigs[0].Trader)
	assert.Equal(t, "poll", sigs[0].Source)
	assert.False(t, sigs[0].DetectedAt.IsZero())
}

func TestTickDeduplicatesAcrossFetches(t *testing.T) {
	f := &fakeFetcher{trades: map[string][]domain.PublicTrade{
		"0xabc": {trade("t1", "0xabc", time.Minute)},
	}}
	m := New(Config{}, f, []string{"0xabc"}, nil, discard())

	m.tick(context.Background())
	m.tick(context.Background())
	m.tick(context.Background())

	sigs := collect(m.signals, 100*time.Millisecond)
	assert.Len(t, sigs, 1, "same identity must be emitted at most once")
}

func TestTickDropsStaleTrades(t *testing.T) {
	f := &fakeFetcher{trades: map[string][]domain.PublicTrade{
		"0xabc": {
			trade("old", "0xabc", time.Hour),
			trade("fresh", "0xabc", time.Minute),
		},
	}}
	m := New(Config{Window: 5 * time.Minute}, f, []string{"0xabc"}, nil, discard())

	m.tick(context.Background())

	sigs := collect(m.signals, 100*time.Millisecond)
	require.Len(t, sigs, 1)
	assert.Equal(t, "fresh", sigs[0].ID)
}

func TestWindowFloorKeepsLaggedFills(t *testing.T) {
	// A 30s configured window still accepts a fill the feed delivered
	// 8 minutes late.
	f := &fakeFetcher{trades: map[string][]domain.PublicTrade{
		"0xabc": {trade("lagged", "0xabc", 8*time.Minute)},
	}}
	m := New(Config{Window: 30 * time.Second}, f, []string{"0xabc"}, nil, discard())

	m.tick(context.Background())

	sigs := collect(m.signals, 100*time.Millisecond)
	assert.Len(t, sigs, 1)
}

func TestHighWaterMarkDropsReplayedHistory(t *testing.T) {
	newer := trade("t2", "0xabc", 30*time.Second)
	older := trade("t1", "0xabc", 2*time.Minute)

	f := &fakeFetcher{trades: map[string][]domain.PublicTrade{
		"0xabc": {newer},
	}}
	m := New(Config{}, f, []string{"0xabc"}, nil, discard())

	m.tick(context.Background())

	// The feed now replays an older fill that was never seen. It is at or
	// before the high-water mark, so it must not be emitted.
	f.mu.Lock()
	f.trades["0xabc"] = []domain.PublicTrade{older}
	f.mu.Unlock()

	m.tick(context.Background())

	sigs := collect(m.signals, 100*time.Millisecond)
	require.Len(t, sigs, 1)
	assert.Equal(t, "t2", sigs[0].ID)
}

func TestFetchErrorSkipsTraderForTick(t *testing.T) {
	f := &fakeFetcher{
		trades: map[string][]domain.PublicTrade{
			"0xgood": {trade("t1", "0xgood", time.Minute)},
		},
		errs: map[string]error{"0xbad": fmt.Errorf("read: connection reset")},
	}
	m := New(Config{}, f, []string{"0xbad", "0xgood"}, nil, discard())

	m.tick(context.Background())

	sigs := collect(m.signals, 100*time.Millisecond)
	require.Len(t, sigs, 1)
	assert.Equal(t, "0xgood", sigs[0].Trader)
}

func TestSeenTableBoundedByCapacitySweep(t *testing.T) {
	s := newSeenTable(100)
	cutoff := time.Now().UTC().Add(-time.Minute)

	for i := 0; i < 1000; i++ {
		s.MarkSeen(fmt.Sprintf("id-%d", i), cutoff)
	}
	// Entries are all newer than the cutoff, so the sweep cannot evict
	// them; the table still contains everything inserted.
	assert.Equal(t, 1000, s.Len())

	// Now sweep against a future cutoff: the over-capacity insert drops
	// the stale entries in one pass.
	future := time.Now().UTC().Add(time.Minute)
	s.MarkSeen("new", future)
	assert.LessOrEqual(t, s.Len(), 2)
}

func TestSeenTableMarkSeen(t *testing.T) {
	s := newSeenTable(0)
	cutoff := time.Now().UTC().Add(-time.Minute)

	assert.False(t, s.MarkSeen("a", cutoff))
	assert.True(t, s.MarkSeen("a", cutoff))
	assert.False(t, s.MarkSeen("b", cutoff))
}

func TestIngestAndPollShareDedup(t *testing.T) {
	fill := trade("t1", "0xabc", time.Minute)
	f := &fakeFetcher{trades: map[string][]domain.PublicTrade{
		"0xabc": {fill},
	}}
	m := New(Config{}, f, []string{"0xabc"}, nil, discard())

	// The WebSocket feed wins the race, then polling sees the same fill.
	m.Ingest(context.Background(), fill)
	m.tick(context.Background())

	sigs := collect(m.signals, 100*time.Millisecond)
	require.Len(t, sigs, 1)
	assert.Equal(t, "ws", sigs[0].Source)
}

func TestIngestDropsStale(t *testing.T) {
	m := New(Config{}, &fakeFetcher{}, []string{"0xabc"}, nil, discard())
	m.Ingest(context.Background(), trade("old", "0xabc", time.Hour))
	assert.Empty(t, collect(m.signals, 50*time.Millisecond))
}

type memHighWater struct {
	mu    sync.Mutex
	marks map[string]time.Time
	sets  int
}

func (m *memHighWater) HighWater(ctx context.Context, trader string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[trader], nil
}

func (m *memHighWater) SetHighWater(ctx context.Context, trader string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[trader] = ts
	m.sets++
	return nil
}

func TestHighWaterPersistedThroughStore(t *testing.T) {
	store := &memHighWater{marks: make(map[string]time.Time)}
	f := &fakeFetcher{trades: map[string][]domain.PublicTrade{
		"0xabc": {trade("t1", "0xabc", time.Minute)},
	}}
	m := New(Config{}, f, []string{"0xabc"}, store, discard())

	m.tick(context.Background())
	collect(m.signals, 100*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.sets)
	assert.False(t, store.marks["0xabc"].IsZero())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{}
	m := New(Config{PollInterval: 10 * time.Millisecond}, f, []string{"0xabc"}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	// Channel closes on shutdown.
	_, ok := <-m.Signals()
	assert.False(t, ok)
}
