// Package domain defines the value objects and consumer-side interfaces shared
// by the copy-trading core: trade signals, sizing and execution results,
// liquidity metrics, positions, and the exchange adapter capability set.
package domain

import "time"

// SignalSide indicates whether the tracked trader bought or sold.
type SignalSide string

const (
	SideBuy  SignalSide = "BUY"
	SideSell SignalSide = "SELL"
)

// TradeSignal is a single detected fill from a tracked trader's public
// activity. It is immutable: the monitor creates it once per detected fill
// and the orchestrator consumes it exactly once.
type TradeSignal struct {
	ID         string // transaction identity used for dedup (tx hash, or synthetic)
	Trader     string // tracked trader's address
	MarketID   string
	TokenID    string
	Side       SignalSide
	Outcome    string // e.g. "Yes", "No"
	Title      string // market question, for logs and records
	SizeUSD    float64
	Price      float64
	Timestamp  time.Time // when the fill happened on the exchange
	DetectedAt time.Time // when we first saw it
	Source     string    // "poll" or "ws"
}

// Age returns how long ago the underlying fill happened.
func (s TradeSignal) Age() time.Duration {
	return time.Since(s.Timestamp)
}

// SizingResult is the outcome of proportional position sizing. A non-empty
// Reason means the signal was rejected and no order should be attempted.
type SizingResult struct {
	TargetUSD    float64
	TargetShares float64
	Ratio        float64 // follower capital fraction applied to the trade
	Reason       string
}

// Rejected reports whether sizing declined the trade.
func (r SizingResult) Rejected() bool {
	return r.Reason != ""
}

// ExecStatus is the terminal state of one execution attempt.
type ExecStatus string

const (
	ExecFilled   ExecStatus = "filled"
	ExecPartial  ExecStatus = "partial"
	ExecFailed   ExecStatus = "failed"
	ExecSkipped  ExecStatus = "skipped"
	ExecIlliquid ExecStatus = "illiquid"
)

// ExecutionResult reports what an order execution actually achieved. For
// partial fills, Shares and SizeUSD hold the executed portion and Residual
// the shares that could not be placed.
type ExecutionResult struct {
	Status   ExecStatus
	SizeUSD  float64 // executed notional
	Shares   float64 // executed shares
	Price    float64 // blended fill price
	Residual float64 // unfilled shares, zero on a full fill
	Reason   string
	OrderIDs []string
}

// LiquidityHealth grades how well a book can absorb a trade. The ordering is
// meaningful: Critical < Low < Medium < High.
type LiquidityHealth int

const (
	LiquidityCritical LiquidityHealth = iota
	LiquidityLow
	LiquidityMedium
	LiquidityHigh
)

// String returns the canonical lowercase name.
func (h LiquidityHealth) String() string {
	switch h {
	case LiquidityCritical:
		return "critical"
	case LiquidityLow:
		return "low"
	case LiquidityMedium:
		return "medium"
	case LiquidityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseLiquidityHealth maps a config string onto the ordered scale. Unknown
// values parse as Critical so a typo never loosens the gate.
func ParseLiquidityHealth(s string) LiquidityHealth {
	switch s {
	case "low":
		return LiquidityLow
	case "medium":
		return LiquidityMedium
	case "high":
		return LiquidityHigh
	default:
		return LiquidityCritical
	}
}

// LiquidityMetrics describes current book quality for one side of an
// instrument.
type LiquidityMetrics struct {
	Health    LiquidityHealth
	SpreadPct float64
	DepthUSD  float64
}
