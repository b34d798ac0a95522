package trader

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
	"polymirror/internal/executor"
	"polymirror/internal/liquidity"
	"polymirror/internal/sizing"
)

// fakeExchange is an in-memory venue with per-address balances and one
// book per token.
type fakeExchange struct {
	mu           sync.Mutex
	balances     map[string]float64
	books        map[string]*domain.OrderBook
	balanceCalls map[string]int
	placed       []domain.OrderParams
	orderErr     error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balances:     make(map[string]float64),
		books:        make(map[string]*domain.OrderBook),
		balanceCalls: make(map[string]int),
	}
}

func (f *fakeExchange) FetchBalance(ctx context.Context, address string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls[address]++
	bal, ok := f.balances[address]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return bal, nil
}

func (f *fakeExchange) FetchOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[tokenID]
	if !ok {
		return &domain.OrderBook{TokenID: tokenID}, nil
	}
	return book, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, params domain.OrderParams) (*domain.OrderReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.placed = append(f.placed, params)
	return &domain.OrderReceipt{
		OrderID:      fmt.Sprintf("ord-%d", len(f.placed)),
		FilledShares: params.Shares,
		AvgPrice:     params.Price,
		Status:       "matched",
	}, nil
}

func (f *fakeExchange) FetchPositions(ctx context.Context, address string) ([]domain.ExchangePosition, error) {
	return nil, nil
}

func (f *fakeExchange) FetchTrades(ctx context.Context, trader string, since time.Time) ([]domain.PublicTrade, error) {
	return nil, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTrader(t *testing.T, exch *fakeExchange, events Events) *Trader {
	t.Helper()
	sizer, err := sizing.New(sizing.Params{Multiplier: 1.0, MaxTradeUSD: 500})
	require.NoError(t, err)
	guard := liquidity.New(domain.LiquidityCritical, nil, discard())
	exec := executor.New(exch, executor.Config{RetryPause: time.Millisecond}, discard())
	return New(Config{Account: "0xself"}, exch, sizer, guard, exec, nil, nil, events, discard())
}

func buySignal(id string, sizeUSD, price float64) domain.TradeSignal {
	return domain.TradeSignal{
		ID:         id,
		Trader:     "0xtracked",
		MarketID:   "m1",
		TokenID:    "tok1",
		Side:       domain.SideBuy,
		Outcome:    "Yes",
		SizeUSD:    sizeUSD,
		Price:      price,
		Timestamp:  time.Now().UTC(),
		DetectedAt: time.Now().UTC(),
		Source:     "poll",
	}
}

func TestCopyBuyProportional(t *testing.T) {
	exch := newFakeExchange()
	exch.balances["0xself"] = 1000
	exch.balances["0xtracked"] = 10000
	exch.books["tok1"] = &domain.OrderBook{
		Asks: []domain.PriceLevel{{Price: 0.41, Size: 10000}},
		Bids: []domain.PriceLevel{{Price: 0.39, Size: 10000}},
	}

	var mu sync.Mutex
	var recorded []domain.CopyTrade
	tr := newTestTrader(t, exch, Events{
		TradeRecorded: func(trade domain.CopyTrade) {
			mu.Lock()
			recorded = append(recorded, trade)
			mu.Unlock()
		},
	})

	tr.handleSignal(context.Background(), buySignal("s1", 500, 0.40))

	// Ratio 1000/10500, target about $47.6 at signal price 0.40.
	require.Len(t, exch.placed, 1)
	assert.InDelta(t, 119.0, exch.placed[0].Shares, 0.5)
	assert.LessOrEqual(t, exch.placed[0].Price, 0.42, "sweep must start at ask within protection")

	positions := tr.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.41, positions[0].EntryPrice, 1e-9)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(recorded) == 1 && recorded[0].Status == domain.CopyTradeExecuted
	}, time.Second, 10*time.Millisecond)
}

func TestPendingSpendShrinksCachedBalance(t *testing.T) {
	exch := newFakeExchange()
	exch.balances["0xself"] = 100
	tr := newTestTrader(t, exch, Events{})
	ctx := context.Background()

	avail, err := tr.availableBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, avail, 1e-9)

	// An overlapping execution commits funds while the snapshot is still
	// cached; the next read must not hand out the same dollars twice.
	tr.pending.Add(45)
	avail, err = tr.availableBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 55.0, avail, 1e-9, "outstanding spend must shrink the cached snapshot")
	assert.Equal(t, 1, exch.balanceCalls["0xself"], "cached read must not hit the venue")

	// Once the venue reflects the debit a fresh snapshot absorbs it.
	tr.balances.Invalidate(tr.cfg.Account)
	exch.mu.Lock()
	exch.balances["0xself"] = 55
	exch.mu.Unlock()
	avail, err = tr.availableBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 55.0, avail, 1e-9)
	assert.Zero(t, tr.pending.Outstanding(), "fresh snapshot must absorb pending spend")
}

func TestFilledBuyRefreshesBalanceSnapshot(t *testing.T) {
	exch := newFakeExchange()
	exch.balances["0xself"] = 1000
	exch.balances["0xtracked"] = 10000
	exch.books["tok1"] = &domain.OrderBook{
		Asks: []domain.PriceLevel{{Price: 0.40, Size: 10000}},
	}

	tr := newTestTrader(t, exch, Events{})
	tr.handleSignal(context.Background(), buySignal("s1", 500, 0.40))
	require.Len(t, exch.placed, 1)

	// The venue now reflects the debit; the fill dropped the cached entry.
	exch.mu.Lock()
	exch.balances["0xself"] = 950
	exch.mu.Unlock()

	sig2 := buySignal("s2", 500, 0.40)
	sig2.TokenID = "tok2"
	exch.books["tok2"] = exch.books["tok1"]
	tr.handleSignal(context.Background(), sig2)

	assert.Equal(t, 2, exch.balanceCalls["0xself"], "second signal must size against a refetched balance")
	assert.Zero(t, tr.pending.Outstanding(), "fresh snapshot must absorb the first fill's spend")
}

func TestSellWithoutPositionSkipped(t *testing.T) {
	exch := newFakeExchange()
	tr := newTestTrader(t, exch, Events{})

	sig := buySignal("s1", 500, 0.40)
	sig.Side = domain.SideSell
	tr.handleSignal(context.Background(), sig)

	assert.Empty(t, exch.placed)
	assert.Equal(t, int64(1), tr.Stats().Skipped)
}

func TestSellClosesPositionAndRealizesPnL(t *testing.T) {
	exch := newFakeExchange()
	exch.balances["0xself"] = 1000
	exch.balances["0xtracked"] = 10000
	exch.books["tok1"] = &domain.OrderBook{
		Asks: []domain.PriceLevel{{Price: 0.40, Size: 10000}},
		Bids: []domain.PriceLevel{{Price: 0.39, Size: 10000}},
	}

	var mu sync.Mutex
	var closedPnL float64
	closed := make(chan struct{})
	tr := newTestTrader(t, exch, Events{
		PositionClosed: func(account string, pos domain.ActivePosition, pnl float64) {
			mu.Lock()
			closedPnL = pnl
			mu.Unlock()
			close(closed)
		},
	})

	tr.handleSignal(context.Background(), buySignal("s1", 500, 0.40))
	require.Len(t, tr.Positions(), 1)

	// Price moved up; the tracked trader exits.
	exch.mu.Lock()
	exch.books["tok1"] = &domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 0.60, Size: 10000}},
	}
	exch.mu.Unlock()

	sell := buySignal("s2", 300, 0.60)
	sell.Side = domain.SideSell
	tr.handleSignal(context.Background(), sell)

	assert.Empty(t, tr.Positions())
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("position close callback not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, closedPnL, 0.0)
	assert.Greater(t, tr.Stats().RealizedPnL, 0.0)
}

func TestUnknownTraderBalanceUsesFallback(t *testing.T) {
	exch := newFakeExchange()
	exch.balances["0xself"] = 1000
	// tracked trader's balance intentionally missing
	exch.books["tok1"] = &domain.OrderBook{
		Asks: []domain.PriceLevel{{Price: 0.40, Size: 100000}},
	}

	tr := newTestTrader(t, exch, Events{})
	tr.handleSignal(context.Background(), buySignal("s1", 500, 0.40))

	// Fallback bankroll is large, so the copy is small but not rejected.
	require.Len(t, exch.placed, 1)
	notional := exch.placed[0].Shares * exch.placed[0].Price
	assert.Less(t, notional, 10.0)
	assert.GreaterOrEqual(t, notional, 1.0)
}

func TestTakeProfitForcedExit(t *testing.T) {
	exch := newFakeExchange()
	exch.balances["0xself"] = 1000
	exch.balances["0xtracked"] = 10000
	exch.books["tok1"] = &domain.OrderBook{
		Asks: []domain.PriceLevel{{Price: 0.40, Size: 10000}},
		Bids: []domain.PriceLevel{{Price: 0.39, Size: 10000}},
	}

	sizer, err := sizing.New(sizing.Params{Multiplier: 1.0})
	require.NoError(t, err)
	guard := liquidity.New(domain.LiquidityCritical, nil, discard())
	exec := executor.New(exch, executor.Config{RetryPause: time.Millisecond}, discard())
	tr := New(Config{Account: "0xself", TakeProfitPct: 0.25}, exch, sizer, guard, exec, nil, nil, Events{}, discard())

	tr.handleSignal(context.Background(), buySignal("s1", 500, 0.40))
	require.Len(t, tr.Positions(), 1)

	// Best bid rises past entry * 1.25.
	exch.mu.Lock()
	exch.books["tok1"] = &domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 0.55, Size: 10000}},
	}
	exch.mu.Unlock()

	tr.checkTakeProfit(context.Background())
	assert.Empty(t, tr.Positions())
	assert.Greater(t, tr.Stats().RealizedPnL, 0.0)
}

func TestRunDrainsInFlightOnChannelClose(t *testing.T) {
	exch := newFakeExchange()
	exch.balances["0xself"] = 1000
	exch.balances["0xtracked"] = 10000
	exch.books["tok1"] = &domain.OrderBook{
		Asks: []domain.PriceLevel{{Price: 0.40, Size: 10000}},
	}

	tr := newTestTrader(t, exch, Events{})
	signals := make(chan domain.TradeSignal, 1)
	signals <- buySignal("s1", 500, 0.40)
	close(signals)

	require.NoError(t, tr.Run(context.Background(), signals))
	assert.Len(t, tr.Positions(), 1, "in-flight signal must reach its terminal state")
}

type fakeResolver struct {
	closed map[string]bool
	err    error
}

func (f *fakeResolver) MarketClosed(ctx context.Context, marketID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.closed[marketID], nil
}

func TestPruneClosedMarketsForceExits(t *testing.T) {
	exch := newFakeExchange()
	exch.books["tok1"] = &domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 0.30, Size: 10000}},
	}

	tr := newTestTrader(t, exch, Events{})
	tr.Restore([]domain.ActivePosition{
		{MarketID: "m1", TokenID: "tok1", EntryPrice: 0.40, SizeUSD: 40, Shares: 100},
	})

	tr.PruneClosedMarkets(context.Background(), &fakeResolver{closed: map[string]bool{"m1": true}})

	assert.Empty(t, tr.Positions())
	require.Len(t, exch.placed, 1)
	assert.Equal(t, domain.SideSell, exch.placed[0].Side)
}

func TestPruneClosedMarketsDropsWhenBookGone(t *testing.T) {
	exch := newFakeExchange() // no book registered: empty book, sell hard-fails

	var mu sync.Mutex
	var closedPnL []float64
	tr := newTestTrader(t, exch, Events{
		PositionClosed: func(account string, pos domain.ActivePosition, pnl float64) {
			mu.Lock()
			closedPnL = append(closedPnL, pnl)
			mu.Unlock()
		},
	})
	tr.Restore([]domain.ActivePosition{
		{MarketID: "m1", TokenID: "tok1", EntryPrice: 0.40, SizeUSD: 40, Shares: 100},
	})

	tr.PruneClosedMarkets(context.Background(), &fakeResolver{closed: map[string]bool{"m1": true}})

	assert.Empty(t, tr.Positions(), "unsellable position is still pruned")
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(closedPnL) == 1 && closedPnL[0] == -40
	}, time.Second, 10*time.Millisecond)
}

func TestPruneClosedMarketsLeavesOpenMarkets(t *testing.T) {
	exch := newFakeExchange()
	tr := newTestTrader(t, exch, Events{})
	tr.Restore([]domain.ActivePosition{
		{MarketID: "m1", TokenID: "tok1", EntryPrice: 0.40, SizeUSD: 40, Shares: 100},
	})

	tr.PruneClosedMarkets(context.Background(), &fakeResolver{})

	assert.Len(t, tr.Positions(), 1)
	assert.Empty(t, exch.placed)
}
