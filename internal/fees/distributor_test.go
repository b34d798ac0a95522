package fees

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polymirror/internal/domain"
)

type fakeLookup struct {
	listers map[string]string
	err     error
}

func (f *fakeLookup) ListerFor(ctx context.Context, trader string) (string, error) {
	return f.listers[trader], f.err
}

type fakeTransferer struct {
	refs    []string
	failAt  int // fail the nth transfer (1-based), 0 disables
	calls   int
	amounts map[string]float64
}

func (f *fakeTransferer) Transfer(ctx context.Context, to string, amountUSD float64) (string, error) {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return "", fmt.Errorf("relayer: transfer reverted")
	}
	if f.amounts == nil {
		f.amounts = make(map[string]float64)
	}
	f.amounts[to] += amountUSD
	ref := fmt.Sprintf("0xref%d", f.calls)
	f.refs = append(f.refs, ref)
	return ref, nil
}

type memFeeStore struct {
	events map[string]*domain.FeeDistribution
	saves  int
}

func newMemFeeStore() *memFeeStore {
	return &memFeeStore{events: make(map[string]*domain.FeeDistribution)}
}

func (m *memFeeStore) SaveFeeEvent(ctx context.Context, ev *domain.FeeDistribution) error {
	cp := *ev
	m.events[ev.TradeID] = &cp
	m.saves++
	return nil
}

func (m *memFeeStore) FeeEventByTrade(ctx context.Context, tradeID string) (*domain.FeeDistribution, error) {
	ev, ok := m.events[tradeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *memFeeStore) PendingFeeEvents(ctx context.Context, limit int) ([]domain.FeeDistribution, error) {
	var out []domain.FeeDistribution
	for _, ev := range m.events {
		if ev.Status != domain.FeeEventSettled {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDistributor(t *testing.T, lookup ListerLookup, tr Transferer, store domain.FeeEventStore, cfg Config) *Distributor {
	t.Helper()
	d, err := New(lookup, tr, store, cfg, discard())
	require.NoError(t, err)
	return d
}

func defaultCfg() Config {
	return Config{ListerPct: 0.05, PlatformPct: 0.05, PlatformAddr: "0xplatform", DustUSD: 0.10}
}

func TestDistributeSplitsProfit(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{"0xtrader": "0xlister"}}
	tr := &fakeTransferer{}
	store := newMemFeeStore()
	d := newTestDistributor(t, lookup, tr, store, defaultCfg())

	ev, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, domain.FeeEventSettled, ev.Status)
	assert.True(t, ev.Settled())
	assert.InDelta(t, 5.0, tr.amounts["0xlister"], 1e-9)
	assert.InDelta(t, 5.0, tr.amounts["0xplatform"], 1e-9)
	// Distributed total equals profit times the combined share.
	assert.InDelta(t, 100*0.10, ev.ListerUSD+ev.PlatformUSD, 1e-9)
}

func TestDistributeNoListerNoEvent(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{}}
	tr := &fakeTransferer{}
	store := newMemFeeStore()
	d := newTestDistributor(t, lookup, tr, store, defaultCfg())

	ev, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Zero(t, tr.calls)
	assert.Zero(t, store.saves)
}

func TestDistributeSkipsLossAndDust(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{"0xtrader": "0xlister"}}
	d := newTestDistributor(t, lookup, &fakeTransferer{}, newMemFeeStore(), defaultCfg())

	for _, profit := range []float64{-50, 0, 0.50} { // 0.50 * 10% < dust 0.10
		ev, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", profit)
		require.NoError(t, err)
		assert.Nil(t, ev, "profit %v must not distribute", profit)
	}
}

func TestDistributeDedupByTradeID(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{"0xtrader": "0xlister"}}
	tr := &fakeTransferer{}
	store := newMemFeeStore()
	d := newTestDistributor(t, lookup, tr, store, defaultCfg())

	_, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.NoError(t, err)
	ev, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.NoError(t, err)

	require.NotNil(t, ev)
	assert.Equal(t, 2, tr.calls, "settled trade must not pay again")
}

func TestTransferFailureWithholdsEvent(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{"0xtrader": "0xlister"}}
	tr := &fakeTransferer{failAt: 2} // lister leg settles, platform leg fails
	store := newMemFeeStore()
	d := newTestDistributor(t, lookup, tr, store, defaultCfg())

	_, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.Error(t, err)

	saved, err := store.FeeEventByTrade(context.Background(), "trade1")
	require.NoError(t, err)
	assert.Equal(t, domain.FeeEventFailed, saved.Status)
	assert.NotEmpty(t, saved.ListerRef, "settled leg must keep its reference")
	assert.Empty(t, saved.PlatformRef)
}

func TestReplayPaysOnlyMissingLeg(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{"0xtrader": "0xlister"}}
	tr := &fakeTransferer{failAt: 2}
	store := newMemFeeStore()
	d := newTestDistributor(t, lookup, tr, store, defaultCfg())

	_, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.Error(t, err)

	require.NoError(t, d.ReplayPending(context.Background(), 10))

	saved, err := store.FeeEventByTrade(context.Background(), "trade1")
	require.NoError(t, err)
	assert.Equal(t, domain.FeeEventSettled, saved.Status)
	// One lister payment, one failed platform attempt, one platform retry.
	assert.InDelta(t, 5.0, tr.amounts["0xlister"], 1e-9, "lister leg must not be paid twice")
	assert.InDelta(t, 5.0, tr.amounts["0xplatform"], 1e-9)
}

// flakySettleStore accepts every save except the first settled-status one.
type flakySettleStore struct {
	*memFeeStore
	settledFailures int
}

func (f *flakySettleStore) SaveFeeEvent(ctx context.Context, ev *domain.FeeDistribution) error {
	if ev.Status == domain.FeeEventSettled && f.settledFailures > 0 {
		f.settledFailures--
		return fmt.Errorf("pg: connection reset")
	}
	return f.memFeeStore.SaveFeeEvent(ctx, ev)
}

func TestReplayAfterSettledSaveFailurePaysOnce(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{"0xtrader": "0xlister"}}
	tr := &fakeTransferer{}
	store := &flakySettleStore{memFeeStore: newMemFeeStore(), settledFailures: 1}
	d := newTestDistributor(t, lookup, tr, store, defaultCfg())

	_, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.Error(t, err, "settled mark could not be persisted")

	// Both legs paid and their refs persisted, so the replay must only
	// re-mark the event settled without moving money again.
	require.NoError(t, d.ReplayPending(context.Background(), 10))

	saved, err := store.FeeEventByTrade(context.Background(), "trade1")
	require.NoError(t, err)
	assert.Equal(t, domain.FeeEventSettled, saved.Status)
	assert.Equal(t, 2, tr.calls, "each leg must be paid exactly once")
	assert.InDelta(t, 5.0, tr.amounts["0xlister"], 1e-9)
	assert.InDelta(t, 5.0, tr.amounts["0xplatform"], 1e-9)
}

func TestRefSaveFailureStopsBeforeNextLeg(t *testing.T) {
	lookup := &fakeLookup{listers: map[string]string{"0xtrader": "0xlister"}}
	tr := &fakeTransferer{}
	store := &countingFailStore{memFeeStore: newMemFeeStore(), failAt: 2} // pending save ok, lister ref save fails
	d := newTestDistributor(t, lookup, tr, store, defaultCfg())

	_, err := d.Distribute(context.Background(), "0xacct", "0xtrader", "trade1", 100)
	require.Error(t, err)
	assert.Equal(t, 1, tr.calls, "platform leg must not be attempted with an unrecorded lister ref")
}

type countingFailStore struct {
	*memFeeStore
	failAt int
}

func (c *countingFailStore) SaveFeeEvent(ctx context.Context, ev *domain.FeeDistribution) error {
	if c.memFeeStore.saves+1 == c.failAt {
		return fmt.Errorf("pg: connection reset")
	}
	return c.memFeeStore.SaveFeeEvent(ctx, ev)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(&fakeLookup{}, &fakeTransferer{}, newMemFeeStore(), Config{ListerPct: 0.8, PlatformPct: 0.5}, discard())
	assert.Error(t, err)

	_, err = New(&fakeLookup{}, &fakeTransferer{}, newMemFeeStore(), Config{PlatformPct: 0.1}, discard())
	assert.Error(t, err)
}
