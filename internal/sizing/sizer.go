// Package sizing converts an observed trade into a proportional order size
// for the follower account. The math is pure; callers fetch balances.
package sizing

import (
	"fmt"
	"math"

	"polymirror/internal/domain"
)

const (
	// MinOrderUSD is the venue's minimum order notional.
	MinOrderUSD = 1.0

	// DefaultFallbackBalance is assumed for a trader whose balance cannot
	// be read. Deliberately large so the resulting ratio stays small.
	DefaultFallbackBalance = 100000.0
)

// Params configures a Sizer.
type Params struct {
	// Multiplier scales the proportional size. 1.0 copies pro rata.
	Multiplier float64
	// MaxTradeUSD caps any single copy. Zero means no cap.
	MaxTradeUSD float64
	// MinTradeUSD rejects copies below this notional. Values below the
	// venue minimum are raised to it.
	MinTradeUSD float64
	// FallbackTraderBalance substitutes for an unreadable trader balance.
	// Zero selects DefaultFallbackBalance.
	FallbackTraderBalance float64
}

// Sizer computes proportional copy sizes.
type Sizer struct {
	params Params
}

// New validates params and returns a Sizer.
func New(params Params) (*Sizer, error) {
	if params.Multiplier <= 0 {
		return nil, fmt.Errorf("sizing: multiplier must be positive, got %v", params.Multiplier)
	}
	if params.MaxTradeUSD < 0 {
		return nil, fmt.Errorf("sizing: max trade cannot be negative, got %v", params.MaxTradeUSD)
	}
	if params.MinTradeUSD < MinOrderUSD {
		params.MinTradeUSD = MinOrderUSD
	}
	if params.FallbackTraderBalance <= 0 {
		params.FallbackTraderBalance = DefaultFallbackBalance
	}
	return &Sizer{params: params}, nil
}

// Size computes the target copy size for one signal.
//
// The ratio is the follower's balance over the trader's pre-trade bankroll.
// The trader's reported balance is post-trade for a BUY, so the trade size
// is added back before dividing. A zero or unknown trader balance falls
// back to a conservative assumed bankroll rather than rejecting the signal.
func (s *Sizer) Size(sig *domain.TradeSignal, yourBalance, traderBalance float64) domain.SizingResult {
	if sig.SizeUSD <= 0 {
		return domain.SizingResult{Reason: "non-positive trade size"}
	}
	if yourBalance <= 0 {
		return domain.SizingResult{Reason: "no available balance"}
	}

	if traderBalance <= 0 {
		traderBalance = s.params.FallbackTraderBalance
	}
	denom := math.Max(1, traderBalance+math.Max(0, sig.SizeUSD))
	ratio := math.Max(0, yourBalance/denom)

	target := sig.SizeUSD * ratio * s.params.Multiplier
	if s.params.MaxTradeUSD > 0 && target > s.params.MaxTradeUSD {
		target = s.params.MaxTradeUSD
	}
	if target > yourBalance {
		target = yourBalance
	}

	if target < s.params.MinTradeUSD {
		return domain.SizingResult{
			Ratio:  ratio,
			Reason: fmt.Sprintf("sized amount $%.2f below minimum $%.2f", target, s.params.MinTradeUSD),
		}
	}

	res := domain.SizingResult{
		TargetUSD: target,
		Ratio:     ratio,
	}
	if sig.Price > 0 {
		res.TargetShares = target / sig.Price
	}
	return res
}
