package funds

import (
	"context"
	"log/slog"
	"time"
)

// BalanceReader reads an on-chain USDC balance. Implemented by ChainReader.
type BalanceReader interface {
	USDCBalance(ctx context.Context, address string) (float64, error)
}

// Sweeper moves excess funds off the trading wallet. The amount is the
// portion above the configured reserve.
type Sweeper interface {
	Sweep(ctx context.Context, from string, amountUSD float64) (string, error)
}

// WatcherConfig controls the auto-cashout check.
type WatcherConfig struct {
	// Interval is the minimum time between on-chain reads.
	Interval time.Duration
	// ThresholdUSD triggers a sweep when the balance exceeds it.
	ThresholdUSD float64
	// ReserveUSD stays on the wallet after a sweep.
	ReserveUSD float64
}

func (c *WatcherConfig) withDefaults() WatcherConfig {
	out := *c
	if out.Interval <= 0 {
		out.Interval = time.Hour
	}
	return out
}

// Watcher runs the throttled auto-cashout check. Unthrottled per-signal
// polling would exhaust RPC quota, so every path goes through the Throttle;
// trade completions use the bypass so a freshly grown balance is noticed
// immediately.
type Watcher struct {
	cfg      WatcherConfig
	reader   BalanceReader
	sweeper  Sweeper
	throttle *Throttle
	account  string
	onSweep  func(amountUSD float64, ref string)
	logger   *slog.Logger
}

// NewWatcher builds a Watcher for one account. onSweep may be nil.
func NewWatcher(cfg WatcherConfig, reader BalanceReader, sweeper Sweeper, account string, onSweep func(float64, string), logger *slog.Logger) *Watcher {
	cfg = cfg.withDefaults()
	return &Watcher{
		cfg:      cfg,
		reader:   reader,
		sweeper:  sweeper,
		throttle: NewThrottle(cfg.Interval),
		account:  account,
		onSweep:  onSweep,
		logger:   logger.With(slog.String("component", "funds")),
	}
}

// Check reads the balance and sweeps the excess if over threshold. Calls
// inside the throttle interval are no-ops unless bypass is set.
func (w *Watcher) Check(ctx context.Context, bypass bool) error {
	ran, err := w.throttle.Do(ctx, bypass, w.check)
	if err != nil {
		w.logger.Warn("cashout check failed", slog.String("error", err.Error()))
		return err
	}
	if !ran {
		w.logger.Debug("cashout check throttled")
	}
	return nil
}

func (w *Watcher) check(ctx context.Context) error {
	balance, err := w.reader.USDCBalance(ctx, w.account)
	if err != nil {
		return err
	}
	if balance <= w.cfg.ThresholdUSD {
		w.logger.Debug("balance under cashout threshold",
			slog.Float64("balance_usd", balance),
			slog.Float64("threshold_usd", w.cfg.ThresholdUSD))
		return nil
	}

	amount := balance - w.cfg.ReserveUSD
	if amount <= 0 {
		return nil
	}
	ref, err := w.sweeper.Sweep(ctx, w.account, amount)
	if err != nil {
		return err
	}
	w.logger.Info("excess funds swept",
		slog.Float64("amount_usd", amount),
		slog.String("ref", ref))
	if w.onSweep != nil {
		w.onSweep(amount, ref)
	}
	return nil
}
