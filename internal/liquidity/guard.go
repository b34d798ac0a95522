// Package liquidity gates copy trades on market health before any balance
// or order round-trip is spent on them.
package liquidity

import (
	"context"
	"log/slog"

	"polymirror/internal/domain"
)

// ReasonInsufficient is the structured skip reason carried on an
// illiquid result.
const ReasonInsufficient = "insufficient_liquidity"

// Guard rejects signals whose market health falls below a configured
// minimum on the ordered scale CRITICAL < LOW < MEDIUM < HIGH.
type Guard struct {
	min    domain.LiquidityHealth
	prober domain.LiquidityProber // nil when the venue has no cheap probe
	logger *slog.Logger
}

// New returns a Guard enforcing the given minimum health. The prober may
// be nil; Check then passes every signal and callers rely on the
// executor's own book inspection.
func New(min domain.LiquidityHealth, prober domain.LiquidityProber, logger *slog.Logger) *Guard {
	return &Guard{
		min:    min,
		prober: prober,
		logger: logger.With(slog.String("component", "liquidity")),
	}
}

// Check probes the token's liquidity and returns a non-nil ExecutionResult
// when the signal must be skipped. A nil result means the trade may
// proceed. A probe failure passes the signal through: the executor's
// empty-book handling is the backstop.
func (g *Guard) Check(ctx context.Context, tokenID string) *domain.ExecutionResult {
	if g.prober == nil {
		return nil
	}
	metrics, err := g.prober.ProbeLiquidity(ctx, tokenID)
	if err != nil {
		g.logger.Warn("liquidity probe failed, passing signal through",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()))
		return nil
	}
	return g.Evaluate(tokenID, metrics)
}

// Evaluate compares already-fetched metrics against the minimum.
func (g *Guard) Evaluate(tokenID string, metrics *domain.LiquidityMetrics) *domain.ExecutionResult {
	if metrics.Health >= g.min {
		return nil
	}
	g.logger.Info("skipping illiquid market",
		slog.String("token_id", tokenID),
		slog.String("health", metrics.Health.String()),
		slog.String("required", g.min.String()),
		slog.Float64("spread_pct", metrics.SpreadPct),
		slog.Float64("depth_usd", metrics.DepthUSD))
	return &domain.ExecutionResult{
		Status: domain.ExecIlliquid,
		Reason: ReasonInsufficient,
	}
}

// Classify derives a health grade from an order book snapshot. Used by
// adapters that expose no native liquidity endpoint.
func Classify(book *domain.OrderBook, side domain.SignalSide) *domain.LiquidityMetrics {
	levels := book.Asks
	if side == domain.SideSell {
		levels = book.Bids
	}

	var depthUSD float64
	for _, lvl := range levels {
		depthUSD += lvl.Price * lvl.Size
	}
	spread := book.SpreadPct()

	m := &domain.LiquidityMetrics{SpreadPct: spread, DepthUSD: depthUSD}
	switch {
	case len(levels) == 0 || depthUSD < 10:
		m.Health = domain.LiquidityCritical
	case depthUSD < 100 || spread > 0.10:
		m.Health = domain.LiquidityLow
	case depthUSD < 1000 || spread > 0.04:
		m.Health = domain.LiquidityMedium
	default:
		m.Health = domain.LiquidityHigh
	}
	return m
}
