// Package fees splits realized profit between the referring lister and the
// platform after a profitable exit.
package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polymirror/internal/domain"
)

// ListerLookup resolves the referring lister for a tracked trader. An empty
// address means no lister is registered and no fee is owed.
type ListerLookup interface {
	ListerFor(ctx context.Context, trader string) (string, error)
}

// Transferer settles one USD transfer and returns its reference.
type Transferer interface {
	Transfer(ctx context.Context, to string, amountUSD float64) (string, error)
}

// Config sets the fee split.
type Config struct {
	ListerPct    float64 // fraction of net profit owed to the lister
	PlatformPct  float64
	PlatformAddr string
	// DustUSD skips distributions whose combined payout is below it.
	DustUSD float64
}

func (c *Config) validate() error {
	if c.ListerPct < 0 || c.PlatformPct < 0 || c.ListerPct+c.PlatformPct > 1 {
		return fmt.Errorf("fees: shares must be non-negative and sum to at most 1")
	}
	if c.PlatformPct > 0 && c.PlatformAddr == "" {
		return fmt.Errorf("fees: platform share configured without platform address")
	}
	return nil
}

// Distributor computes and settles fee splits. Events are persisted before
// any transfer so a crash mid-settlement can be replayed without paying a
// leg twice.
type Distributor struct {
	lookup   ListerLookup
	transfer Transferer
	store    domain.FeeEventStore
	cfg      Config
	logger   *slog.Logger
}

// New validates cfg and returns a Distributor.
func New(lookup ListerLookup, transfer Transferer, store domain.FeeEventStore, cfg Config, logger *slog.Logger) (*Distributor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Distributor{
		lookup:   lookup,
		transfer: transfer,
		store:    store,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "fees")),
	}, nil
}

// Distribute settles the fee split for one profitable closed trade. It
// returns the settled event, or nil when no distribution is owed. Trade ids
// are the dedup key: a trade already settled returns its existing event.
func (d *Distributor) Distribute(ctx context.Context, account, trader, tradeID string, profitUSD float64) (*domain.FeeDistribution, error) {
	if profitUSD <= 0 {
		return nil, nil
	}

	existing, err := d.store.FeeEventByTrade(ctx, tradeID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("fees: lookup event: %w", err)
	}
	if existing != nil && existing.Status == domain.FeeEventSettled {
		return existing, nil
	}

	ev := existing
	if ev == nil {
		ev, err = d.buildEvent(ctx, account, trader, tradeID, profitUSD)
		if err != nil || ev == nil {
			return nil, err
		}
		if err := d.store.SaveFeeEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("fees: persist pending event: %w", err)
		}
	}

	return d.settle(ctx, ev)
}

// ReplayPending retries fee events that failed mid-settlement. Legs that
// already carry a reference are not paid again.
func (d *Distributor) ReplayPending(ctx context.Context, limit int) error {
	events, err := d.store.PendingFeeEvents(ctx, limit)
	if err != nil {
		return fmt.Errorf("fees: list pending: %w", err)
	}
	for i := range events {
		if _, err := d.settle(ctx, &events[i]); err != nil {
			d.logger.Warn("fee replay failed",
				slog.String("trade_id", events[i].TradeID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (d *Distributor) buildEvent(ctx context.Context, account, trader, tradeID string, profitUSD float64) (*domain.FeeDistribution, error) {
	lister, err := d.lookup.ListerFor(ctx, trader)
	if err != nil {
		return nil, fmt.Errorf("fees: resolve lister: %w", err)
	}
	if lister == "" {
		return nil, nil
	}

	listerUSD := profitUSD * d.cfg.ListerPct
	platformUSD := profitUSD * d.cfg.PlatformPct
	if listerUSD+platformUSD < d.cfg.DustUSD {
		d.logger.Debug("fee below dust threshold",
			slog.String("trade_id", tradeID),
			slog.Float64("total_usd", listerUSD+platformUSD))
		return nil, nil
	}

	return &domain.FeeDistribution{
		ID:           uuid.NewString(),
		TradeID:      tradeID,
		Account:      account,
		Trader:       trader,
		ProfitUSD:    profitUSD,
		ListerAddr:   lister,
		PlatformAddr: d.cfg.PlatformAddr,
		ListerUSD:    listerUSD,
		PlatformUSD:  platformUSD,
		Status:       domain.FeeEventPending,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (d *Distributor) settle(ctx context.Context, ev *domain.FeeDistribution) (*domain.FeeDistribution, error) {
	if ev.ListerRef == "" && ev.ListerUSD > 0 {
		ref, err := d.transfer.Transfer(ctx, ev.ListerAddr, ev.ListerUSD)
		if err != nil {
			return nil, d.markFailed(ctx, ev, fmt.Errorf("fees: lister transfer: %w", err))
		}
		ev.ListerRef = ref
		if err := d.persistRef(ctx, ev); err != nil {
			return nil, err
		}
	}
	if ev.PlatformRef == "" && ev.PlatformUSD > 0 {
		ref, err := d.transfer.Transfer(ctx, ev.PlatformAddr, ev.PlatformUSD)
		if err != nil {
			return nil, d.markFailed(ctx, ev, fmt.Errorf("fees: platform transfer: %w", err))
		}
		ev.PlatformRef = ref
		if err := d.persistRef(ctx, ev); err != nil {
			return nil, err
		}
	}

	ev.Status = domain.FeeEventSettled
	ev.Reason = ""
	ev.SettledAt = time.Now().UTC()
	if err := d.store.SaveFeeEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("fees: persist settled event: %w", err)
	}
	d.logger.Info("fees distributed",
		slog.String("trade_id", ev.TradeID),
		slog.String("trader", ev.Trader),
		slog.Float64("lister_usd", ev.ListerUSD),
		slog.Float64("platform_usd", ev.PlatformUSD))
	return ev, nil
}

// persistRef records a paid leg's reference before any further transfer is
// attempted, so a replay after a crash or failed save pays only unpaid legs.
func (d *Distributor) persistRef(ctx context.Context, ev *domain.FeeDistribution) error {
	if err := d.store.SaveFeeEvent(ctx, ev); err != nil {
		return fmt.Errorf("fees: persist transfer reference: %w", err)
	}
	return nil
}

// markFailed records the partial state so a replay pays only missing legs.
func (d *Distributor) markFailed(ctx context.Context, ev *domain.FeeDistribution, cause error) error {
	ev.Status = domain.FeeEventFailed
	ev.Reason = cause.Error()
	if err := d.store.SaveFeeEvent(ctx, ev); err != nil {
		d.logger.Error("failed fee event could not be persisted",
			slog.String("trade_id", ev.TradeID),
			slog.String("error", err.Error()))
	}
	return cause
}
