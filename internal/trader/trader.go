// Package trader runs one copy-trading loop per follower account: it
// consumes detected signals, gates and sizes them, executes orders, and
// owns the account's positions and pending spend.
package trader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymirror/internal/domain"
	"polymirror/internal/executor"
	"polymirror/internal/fees"
	"polymirror/internal/funds"
	"polymirror/internal/liquidity"
	"polymirror/internal/sizing"
)

// Config holds per-account loop settings.
type Config struct {
	// Account is the follower's wallet address.
	Account string
	// BalanceTTL bounds balance cache staleness.
	BalanceTTL time.Duration
	// TakeProfitPct closes a position once the best bid exceeds entry by
	// this fraction. Zero disables the check.
	TakeProfitPct float64
	// TakeProfitInterval is the pause between take-profit scans.
	TakeProfitInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TakeProfitInterval <= 0 {
		out.TakeProfitInterval = time.Minute
	}
	return out
}

// Trader is the per-account orchestrator. It is the sole owner of the
// account's ActivePosition set and PendingSpend counter.
type Trader struct {
	cfg    Config
	exch   domain.Exchange
	sizer  *sizing.Sizer
	guard  *liquidity.Guard
	exec   *executor.Executor
	fees   *fees.Distributor // nil when fee distribution is disabled
	funds  *funds.Watcher    // nil when auto-cashout is disabled
	events Events
	logger *slog.Logger

	balances *balanceCache
	pending  *pendingSpend

	mu        sync.Mutex
	positions map[string]*domain.ActivePosition // keyed by token id
	inflight  map[string]bool                   // tokens with an executing signal
	stats     domain.AccountStats

	wg sync.WaitGroup
}

// New assembles a Trader. fees and fundsWatcher may be nil.
func New(cfg Config, exch domain.Exchange, sizer *sizing.Sizer, guard *liquidity.Guard, exec *executor.Executor, feeDist *fees.Distributor, fundsWatcher *funds.Watcher, events Events, logger *slog.Logger) *Trader {
	cfg = cfg.withDefaults()
	return &Trader{
		cfg:       cfg,
		exch:      exch,
		sizer:     sizer,
		guard:     guard,
		exec:      exec,
		fees:      feeDist,
		funds:     fundsWatcher,
		events:    events,
		logger:    logger.With(slog.String("component", "trader"), slog.String("account", cfg.Account)),
		balances:  newBalanceCache(cfg.BalanceTTL),
		pending:   &pendingSpend{},
		positions: make(map[string]*domain.ActivePosition),
		inflight:  make(map[string]bool),
		stats:     domain.AccountStats{Account: cfg.Account},
	}
}

// Restore seeds positions persisted by a previous run.
func (t *Trader) Restore(positions []domain.ActivePosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range positions {
		pos := positions[i]
		t.positions[pos.TokenID] = &pos
	}
	if len(positions) > 0 {
		t.logger.Info("positions restored", slog.Int("count", len(positions)))
	}
}

// Run consumes signals until the channel closes or ctx is cancelled.
// In-flight executions run to their own terminal state before Run returns.
func (t *Trader) Run(ctx context.Context, signals <-chan domain.TradeSignal) error {
	var tpTick <-chan time.Time
	if t.cfg.TakeProfitPct > 0 {
		ticker := time.NewTicker(t.cfg.TakeProfitInterval)
		defer ticker.Stop()
		tpTick = ticker.C
	}

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				t.wg.Wait()
				return nil
			}
			t.dispatch(ctx, sig)
		case <-tpTick:
			t.checkTakeProfit(ctx)
		case <-ctx.Done():
			t.wg.Wait()
			return ctx.Err()
		}
	}
}

// dispatch runs the signal on its own goroutine. Signals for a token that
// is already executing are dropped rather than queued: by the time the
// first sweep finishes, the follow-up's book state is stale anyway.
func (t *Trader) dispatch(ctx context.Context, sig domain.TradeSignal) {
	t.mu.Lock()
	if t.inflight[sig.TokenID] {
		t.mu.Unlock()
		t.recordSkip(sig, "execution already in flight for token")
		return
	}
	t.inflight[sig.TokenID] = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.inflight, sig.TokenID)
			t.mu.Unlock()
		}()
		t.handleSignal(ctx, sig)
	}()
}

func (t *Trader) handleSignal(ctx context.Context, sig domain.TradeSignal) {
	switch sig.Side {
	case domain.SideBuy:
		t.handleBuy(ctx, sig)
	case domain.SideSell:
		t.handleSell(ctx, sig)
	default:
		t.recordSkip(sig, "unknown side")
	}
}

func (t *Trader) handleBuy(ctx context.Context, sig domain.TradeSignal) {
	if res := t.guard.Check(ctx, sig.TokenID); res != nil {
		t.record(sig, domain.SizingResult{}, *res)
		return
	}

	available, err := t.availableBalance(ctx)
	if err != nil {
		t.recordFail(sig, "balance fetch failed: "+err.Error())
		return
	}

	traderBalance, _, err := t.balances.Get(ctx, sig.Trader, func(ctx context.Context) (float64, error) {
		return t.exch.FetchBalance(ctx, sig.Trader)
	})
	if err != nil {
		// The sizer substitutes a conservative bankroll.
		t.logger.Warn("trader balance unavailable",
			slog.String("trader", sig.Trader),
			slog.String("error", err.Error()))
		traderBalance = 0
	}

	sized := t.sizer.Size(&sig, available, traderBalance)
	if sized.Rejected() {
		t.record(sig, sized, domain.ExecutionResult{Status: domain.ExecSkipped, Reason: sized.Reason})
		return
	}

	res := t.exec.Execute(ctx, executor.Request{
		TokenID:     sig.TokenID,
		Side:        domain.SideBuy,
		SignalPrice: sig.Price,
		Shares:      sized.TargetShares,
	})
	t.record(sig, sized, res)
	if res.Shares <= 0 {
		return
	}

	t.pending.Add(res.SizeUSD)
	t.openPosition(sig, res)
	t.afterTrade(ctx)
}

func (t *Trader) handleSell(ctx context.Context, sig domain.TradeSignal) {
	t.mu.Lock()
	pos, ok := t.positions[sig.TokenID]
	if !ok {
		t.mu.Unlock()
		t.recordSkip(sig, "no position to exit")
		return
	}
	snapshot := *pos
	t.mu.Unlock()

	res := t.exec.Execute(ctx, executor.Request{
		TokenID:     sig.TokenID,
		Side:        domain.SideSell,
		SignalPrice: sig.Price,
		Shares:      snapshot.Shares,
	})
	t.record(sig, domain.SizingResult{TargetShares: snapshot.Shares}, res)
	if res.Shares <= 0 {
		return
	}

	pnl := t.closePosition(sig.TokenID, res)
	t.distributeFees(ctx, sig.Trader, sig.ID, pnl)
	t.afterTrade(ctx)
}

// availableBalance is the fresh-or-cached exchange balance minus USD
// already committed to in-flight buys. A fresh snapshot absorbs the
// pending counter, which is the only reconciliation point.
func (t *Trader) availableBalance(ctx context.Context) (float64, error) {
	balance, fresh, err := t.balances.Get(ctx, t.cfg.Account, func(ctx context.Context) (float64, error) {
		return t.exch.FetchBalance(ctx, t.cfg.Account)
	})
	if err != nil {
		return 0, err
	}
	if fresh {
		t.pending.Reset()
	}
	return balance - t.pending.Outstanding(), nil
}

func (t *Trader) openPosition(sig domain.TradeSignal, res domain.ExecutionResult) {
	t.mu.Lock()
	pos, ok := t.positions[sig.TokenID]
	if ok {
		// Average into the existing position.
		total := pos.Shares + res.Shares
		pos.EntryPrice = (pos.EntryPrice*pos.Shares + res.Price*res.Shares) / total
		pos.Shares = total
		pos.SizeUSD += res.SizeUSD
	} else {
		pos = &domain.ActivePosition{
			MarketID:   sig.MarketID,
			TokenID:    sig.TokenID,
			Outcome:    sig.Outcome,
			Title:      sig.Title,
			EntryPrice: res.Price,
			SizeUSD:    res.SizeUSD,
			Shares:     res.Shares,
			OpenedAt:   time.Now().UTC(),
		}
		t.positions[sig.TokenID] = pos
	}
	snapshot := *pos
	t.mu.Unlock()

	t.events.positionOpened(t.cfg.Account, snapshot)
}

// closePosition shrinks or removes the position and returns realized PnL
// against the proportional cost basis of the sold shares.
func (t *Trader) closePosition(tokenID string, res domain.ExecutionResult) float64 {
	t.mu.Lock()
	pos, ok := t.positions[tokenID]
	if !ok {
		t.mu.Unlock()
		return 0
	}
	fraction := res.Shares / pos.Shares
	if fraction > 1 {
		fraction = 1
	}
	costBasis := pos.SizeUSD * fraction
	pnl := res.SizeUSD - costBasis

	pos.Shares -= res.Shares
	pos.SizeUSD -= costBasis
	snapshot := *pos
	closed := pos.Shares < 0.01
	if closed {
		delete(t.positions, tokenID)
	}
	t.stats.RealizedPnL += pnl
	t.mu.Unlock()

	if closed {
		t.events.positionClosed(t.cfg.Account, snapshot, pnl)
	}
	return pnl
}

func (t *Trader) distributeFees(ctx context.Context, trader, tradeID string, pnl float64) {
	if t.fees == nil || pnl <= 0 {
		return
	}
	ev, err := t.fees.Distribute(ctx, t.cfg.Account, trader, tradeID, pnl)
	if err != nil {
		t.logger.Error("fee distribution failed",
			slog.String("trade_id", tradeID),
			slog.String("error", err.Error()))
		return
	}
	if ev != nil {
		t.events.feeDistributed(*ev)
	}
}

// afterTrade runs post-execution hooks once an execution settled.
func (t *Trader) afterTrade(ctx context.Context) {
	// The fill changed the venue balance; drop the cached entry so the
	// next signal sizes against a refetched snapshot.
	t.balances.Invalidate(t.cfg.Account)
	if t.funds != nil {
		// Bypass the throttle: the balance just changed.
		_ = t.funds.Check(ctx, true)
	}
}

// checkTakeProfit force-exits any position whose best bid clears the
// configured gain.
func (t *Trader) checkTakeProfit(ctx context.Context) {
	t.mu.Lock()
	candidates := make([]domain.ActivePosition, 0, len(t.positions))
	for _, pos := range t.positions {
		candidates = append(candidates, *pos)
	}
	t.mu.Unlock()

	for _, pos := range candidates {
		book, err := t.exch.FetchOrderBook(ctx, pos.TokenID)
		if err != nil {
			continue
		}
		bid, ok := book.BestBid()
		if !ok || bid.Price < pos.EntryPrice*(1+t.cfg.TakeProfitPct) {
			continue
		}
		t.logger.Info("take-profit triggered",
			slog.String("token_id", pos.TokenID),
			slog.Float64("entry", pos.EntryPrice),
			slog.Float64("bid", bid.Price))
		res := t.exec.Execute(ctx, executor.Request{
			TokenID:     pos.TokenID,
			Side:        domain.SideSell,
			SignalPrice: bid.Price,
			Shares:      pos.Shares,
			ForceExit:   true,
		})
		if res.Shares > 0 {
			t.closePosition(pos.TokenID, res)
			t.afterTrade(ctx)
		}
	}
}

// MarketResolver reports whether a market has closed or resolved.
type MarketResolver interface {
	MarketClosed(ctx context.Context, marketID string) (bool, error)
}

// PruneClosedMarkets drops positions whose markets have closed. A force exit
// is attempted first; when the book is already gone the position is removed
// anyway since the shares can only be redeemed on chain at that point.
func (t *Trader) PruneClosedMarkets(ctx context.Context, resolver MarketResolver) {
	for _, pos := range t.Positions() {
		closed, err := resolver.MarketClosed(ctx, pos.MarketID)
		if err != nil {
			t.logger.Warn("market closure check failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()))
			continue
		}
		if !closed {
			continue
		}

		res := t.exec.Execute(ctx, executor.Request{
			TokenID:     pos.TokenID,
			Side:        domain.SideSell,
			SignalPrice: pos.EntryPrice,
			Shares:      pos.Shares,
			ForceExit:   true,
		})
		if res.Shares > 0 {
			t.closePosition(pos.TokenID, res)
			t.afterTrade(ctx)
			continue
		}

		t.mu.Lock()
		snapshot := pos
		delete(t.positions, pos.TokenID)
		t.mu.Unlock()
		t.logger.Warn("closed-market position dropped, redeem on chain",
			slog.String("market_id", pos.MarketID),
			slog.String("token_id", pos.TokenID),
			slog.Float64("shares", pos.Shares))
		t.events.positionClosed(t.cfg.Account, snapshot, -pos.SizeUSD)
	}
}

// RunPruneLoop runs PruneClosedMarkets on each interval tick until ctx ends.
func (t *Trader) RunPruneLoop(ctx context.Context, resolver MarketResolver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.PruneClosedMarkets(ctx, resolver)
		}
	}
}

// record persists the copy attempt and updates stats via callbacks.
func (t *Trader) record(sig domain.TradeSignal, sized domain.SizingResult, res domain.ExecutionResult) {
	status := copyStatus(res.Status)

	t.mu.Lock()
	switch res.Status {
	case domain.ExecFilled, domain.ExecPartial:
		t.stats.RecordCopy(time.Since(sig.DetectedAt), res.SizeUSD)
	case domain.ExecFailed:
		t.stats.Failed++
	default:
		t.stats.Skipped++
	}
	stats := t.stats
	t.mu.Unlock()

	orderID := ""
	if len(res.OrderIDs) > 0 {
		orderID = res.OrderIDs[0]
	}
	t.events.tradeRecorded(domain.CopyTrade{
		ID:          uuid.NewString(),
		Account:     t.cfg.Account,
		SignalID:    sig.ID,
		Trader:      sig.Trader,
		MarketID:    sig.MarketID,
		TokenID:     sig.TokenID,
		Outcome:     sig.Outcome,
		Title:       sig.Title,
		Side:        sig.Side,
		IntendedUSD: sized.TargetUSD,
		ExecutedUSD: res.SizeUSD,
		Price:       res.Price,
		Shares:      res.Shares,
		Status:      status,
		Reason:      res.Reason,
		OrderID:     orderID,
		Source:      sig.Source,
		SignalAt:    sig.Timestamp,
		ExecutedAt:  time.Now().UTC(),
	})
	t.events.statsUpdated(stats)
}

func (t *Trader) recordSkip(sig domain.TradeSignal, reason string) {
	t.logger.Info("signal skipped",
		slog.String("signal_id", sig.ID),
		slog.String("reason", reason))
	t.record(sig, domain.SizingResult{}, domain.ExecutionResult{Status: domain.ExecSkipped, Reason: reason})
}

func (t *Trader) recordFail(sig domain.TradeSignal, reason string) {
	t.logger.Error("signal failed",
		slog.String("signal_id", sig.ID),
		slog.String("reason", reason))
	t.record(sig, domain.SizingResult{}, domain.ExecutionResult{Status: domain.ExecFailed, Reason: reason})
}

func copyStatus(s domain.ExecStatus) domain.CopyTradeStatus {
	switch s {
	case domain.ExecFilled:
		return domain.CopyTradeExecuted
	case domain.ExecPartial:
		return domain.CopyTradePartial
	case domain.ExecFailed:
		return domain.CopyTradeFailed
	default:
		return domain.CopyTradeSkipped
	}
}

// Positions returns a snapshot of open positions.
func (t *Trader) Positions() []domain.ActivePosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ActivePosition, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}

// Stats returns a snapshot of the account's aggregates.
func (t *Trader) Stats() domain.AccountStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
