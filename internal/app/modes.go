package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"polymirror/internal/config"
	"polymirror/internal/crypto"
	"polymirror/internal/domain"
	"polymirror/internal/executor"
	"polymirror/internal/fees"
	"polymirror/internal/funds"
	"polymirror/internal/liquidity"
	"polymirror/internal/monitor"
	"polymirror/internal/platform/polymarket"
	"polymirror/internal/sizing"
	"polymirror/internal/trader"
)

// tradingLockTTL bounds how long a dead instance can block the account.
// SETNX cannot be extended, so the TTL must cover a full session; a crashed
// instance leaves the key to expire (or the operator deletes lock:trade:<addr>).
const tradingLockTTL = 24 * time.Hour

// Data API polling budget shared by every monitor tick.
const (
	dataAPIRateKey   = "data_api"
	dataAPIRateLimit = 30 // requests per second
)

// TradeMode runs the full copy loop: trade detection, sizing, execution,
// position management, fee distribution, and optional cashout and archival.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Int("traders", len(a.cfg.Traders)),
	)

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("trade mode: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return fmt.Errorf("trade mode: create signer: %w", err)
	}
	funder := a.cfg.Wallet.FunderAddress
	if funder == "" {
		funder = signer.Address().Hex()
	}
	account := strings.ToLower(funder)

	// Single-writer guarantee: two instances copying into the same account
	// would double every position.
	unlock, err := deps.LockManager.Acquire(ctx, "trade:"+account, tradingLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("trade mode: another instance is already trading %s: %w", account, err)
		}
		return fmt.Errorf("trade mode: acquire trading lock: %w", err)
	}
	defer unlock()

	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, funder)
	if err := clob.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("trade mode: derive API key: %w", err)
	}
	data := polymarket.NewDataClient(a.cfg.Polymarket.DataHost)
	exch := polymarket.NewClient(clob, data, funder)

	sizer, err := sizing.New(sizing.Params{
		Multiplier:            a.cfg.Sizing.Multiplier,
		MaxTradeUSD:           a.cfg.Sizing.MaxTradeUSD,
		MinTradeUSD:           a.cfg.Sizing.MinTradeUSD,
		FallbackTraderBalance: a.cfg.Sizing.FallbackTraderBalance,
	})
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	guard := liquidity.New(domain.ParseLiquidityHealth(a.cfg.Liquidity.MinHealth), exch, a.logger)
	exec := executor.New(exch, executor.Config{
		RetryBudget: a.cfg.Executor.RetryBudget,
		RetryPause:  a.cfg.Executor.RetryPause.Duration,
		MinOrderUSD: a.cfg.Executor.MinOrderUSD,
	}, a.logger)

	var relayer *polymarket.RelayerClient
	if a.cfg.Fees.Enabled || a.cfg.Cashout.Enabled {
		relayer = polymarket.NewRelayerClient(a.cfg.Polymarket.RelayerHost, signer, funder)
	}

	var dist *fees.Distributor
	if a.cfg.Fees.Enabled {
		dist, err = fees.New(configListers{a.cfg}, relayer, deps.FeeEventStore, fees.Config{
			ListerPct:    a.cfg.Fees.ListerPct,
			PlatformPct:  a.cfg.Fees.PlatformPct,
			PlatformAddr: a.cfg.Fees.PlatformAddr,
			DustUSD:      a.cfg.Fees.DustUSD,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("trade mode: %w", err)
		}
	}

	var watcher *funds.Watcher
	if a.cfg.Cashout.Enabled {
		reader, err := funds.NewChainReader(a.cfg.Polymarket.RPCURL, a.cfg.Polymarket.USDCContract)
		if err != nil {
			return fmt.Errorf("trade mode: %w", err)
		}
		defer reader.Close()
		sweeper := &polymarket.Sweep{Relayer: relayer, To: a.cfg.Cashout.Destination}
		watcher = funds.NewWatcher(funds.WatcherConfig{
			Interval:     a.cfg.Cashout.Interval.Duration,
			ThresholdUSD: a.cfg.Cashout.ThresholdUSD,
			ReserveUSD:   a.cfg.Cashout.ReserveUSD,
		}, reader, sweeper, account, func(amount float64, ref string) {
			deps.Alerts.CashoutExecuted(account, amount, ref)
		}, a.logger)
	}

	tr := trader.New(trader.Config{
		Account:            account,
		BalanceTTL:         a.cfg.Copy.BalanceTTL.Duration,
		TakeProfitPct:      a.cfg.Copy.TakeProfitPct,
		TakeProfitInterval: a.cfg.Copy.TakeProfitInterval.Duration,
	}, exch, sizer, guard, exec, dist, watcher, a.tradeEvents(deps), a.logger)

	if deps.PositionStore != nil {
		positions, err := deps.PositionStore.PositionsByAccount(ctx, account)
		if err != nil {
			a.logger.WarnContext(ctx, "position restore failed, starting empty",
				slog.String("error", err.Error()))
		} else {
			tr.Restore(positions)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	mon := monitor.New(a.monitorConfig(),
		&throttledFetcher{fetcher: exch, limiter: deps.RateLimiter},
		a.cfg.TrackedAddresses(), deps.HighWaterStore, a.logger)
	g.Go(func() error {
		return mon.Run(ctx)
	})
	g.Go(func() error {
		return tr.Run(ctx, mon.Signals())
	})

	a.startLiveFeed(ctx, g, mon)

	// Settle fee events a previous run left mid-flight.
	if dist != nil {
		g.Go(func() error {
			if err := dist.ReplayPending(ctx, 100); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "fee replay failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if a.cfg.Polymarket.GammaHost != "" && a.cfg.Copy.PruneInterval.Duration > 0 {
		gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
		g.Go(func() error {
			tr.RunPruneLoop(ctx, gamma, a.cfg.Copy.PruneInterval.Duration)
			return nil
		})
	}

	// Periodic cashout check. Per-trade checks bypass the watcher's
	// throttle; this loop is the slow path that catches idle growth.
	if watcher != nil {
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.Cashout.Interval.Duration)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					_ = watcher.Check(ctx, false)
				}
			}
		})
	}

	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			err := deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.RetentionDays)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// MonitorMode runs detection only: signals are logged and dropped, no wallet
// or database is required.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Int("traders", len(a.cfg.Traders)),
	)

	data := polymarket.NewDataClient(a.cfg.Polymarket.DataHost)
	mon := monitor.New(a.monitorConfig(),
		&throttledFetcher{fetcher: dataFetcher{data}, limiter: deps.RateLimiter},
		a.cfg.TrackedAddresses(), deps.HighWaterStore, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(ctx)
	})
	a.startLiveFeed(ctx, g, mon)

	// Detection already logs each signal; this mode has no consumer.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-mon.Signals():
				if !ok {
					return nil
				}
			}
		}
	})

	return g.Wait()
}

// ArchiveMode runs one archival pass immediately, then repeats on the
// configured interval until cancelled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage and trade store are required")
	}
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		slog.Duration("interval", a.cfg.Archive.Interval.Duration),
	)

	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	if _, err := deps.Archiver.ArchiveCopyTrades(ctx, before); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.RetentionDays)
}

// startLiveFeed connects the low-latency fill feed when enabled. Failure is
// not fatal: the poller alone still catches every trade.
func (a *App) startLiveFeed(ctx context.Context, g *errgroup.Group, mon *monitor.Monitor) {
	if !a.cfg.Monitor.WsEnabled || a.cfg.Polymarket.WsHost == "" {
		return
	}
	feed := polymarket.NewLiveFeed(a.cfg.Polymarket.WsHost, a.cfg.TrackedAddresses())
	feed.OnTrade(func(tr domain.PublicTrade) {
		mon.Ingest(ctx, tr)
	})
	if err := feed.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "live feed unavailable, relying on polling",
			slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "live feed connected", slog.String("ws_host", a.cfg.Polymarket.WsHost))
	g.Go(func() error {
		<-ctx.Done()
		_ = feed.Close()
		return nil
	})
}

func (a *App) monitorConfig() monitor.Config {
	return monitor.Config{
		PollInterval: a.cfg.Monitor.PollInterval.Duration,
		Window:       a.cfg.Monitor.Window.Duration,
		BatchSize:    a.cfg.Monitor.BatchSize,
		SeenCapacity: a.cfg.Monitor.SeenCapacity,
	}
}

// tradeEvents builds the persistence and alerting callbacks the trading loop
// fires. Each callback runs on its own goroutine, so persistence uses a short
// background context instead of the loop's.
func (a *App) tradeEvents(deps *Dependencies) trader.Events {
	persistCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 10*time.Second)
	}
	return trader.Events{
		TradeRecorded: func(trade domain.CopyTrade) {
			ctx, cancel := persistCtx()
			defer cancel()
			if deps.CopyTradeStore != nil {
				if err := deps.CopyTradeStore.SaveCopyTrade(ctx, &trade); err != nil {
					a.logger.Error("persist copy trade failed",
						slog.String("signal_id", trade.SignalID),
						slog.String("error", err.Error()))
				}
			}
			deps.Alerts.TradeRecorded(trade)
		},
		PositionOpened: func(account string, pos domain.ActivePosition) {
			ctx, cancel := persistCtx()
			defer cancel()
			if deps.PositionStore != nil {
				if err := deps.PositionStore.SavePosition(ctx, account, &pos); err != nil {
					a.logger.Error("persist position failed",
						slog.String("token_id", pos.TokenID),
						slog.String("error", err.Error()))
				}
			}
		},
		PositionClosed: func(account string, pos domain.ActivePosition, pnlUSD float64) {
			ctx, cancel := persistCtx()
			defer cancel()
			if deps.PositionStore != nil {
				if err := deps.PositionStore.DeletePosition(ctx, account, pos.TokenID); err != nil {
					a.logger.Error("delete position failed",
						slog.String("token_id", pos.TokenID),
						slog.String("error", err.Error()))
				}
			}
			deps.Alerts.PositionClosed(account, pos, pnlUSD)
		},
		StatsUpdated: func(stats domain.AccountStats) {
			ctx, cancel := persistCtx()
			defer cancel()
			if deps.StatStore != nil {
				if err := deps.StatStore.SaveStats(ctx, &stats); err != nil {
					a.logger.Error("persist stats failed",
						slog.String("account", stats.Account),
						slog.String("error", err.Error()))
				}
			}
		},
		FeeDistributed: deps.Alerts.FeeDistributed,
	}
}

// throttledFetcher gates Data API polling through the shared rate limiter so
// concurrent per-trader fetches never burst past the venue's courtesy limit.
type throttledFetcher struct {
	fetcher monitor.TradeFetcher
	limiter domain.RateLimiter
}

func (t *throttledFetcher) FetchTrades(ctx context.Context, trader string, since time.Time) ([]domain.PublicTrade, error) {
	allowed, err := t.limiter.Allow(ctx, dataAPIRateKey, dataAPIRateLimit, time.Second)
	if err != nil {
		// A limiter outage must not stop trade detection; fetch anyway.
		return t.fetcher.FetchTrades(ctx, trader, since)
	}
	if !allowed {
		return nil, fmt.Errorf("app: data api budget exhausted: %w", domain.ErrRateLimited)
	}
	return t.fetcher.FetchTrades(ctx, trader, since)
}

// dataFetcher adapts the public Data API client to the monitor's fetch
// interface for wallet-less modes.
type dataFetcher struct {
	data *polymarket.DataClient
}

func (d dataFetcher) FetchTrades(ctx context.Context, trader string, since time.Time) ([]domain.PublicTrade, error) {
	return d.data.GetTrades(ctx, trader, since)
}

// configListers resolves listers from the static trader list in the config.
type configListers struct {
	cfg *config.Config
}

func (c configListers) ListerFor(_ context.Context, trader string) (string, error) {
	return c.cfg.ListerFor(trader), nil
}
