// Package executor turns a sized trade into one or more book-crossing
// fill-or-kill orders, sweeping the book level by level under price
// protection.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"polymirror/internal/domain"
)

// BookSide is the slice of the exchange the executor needs.
type BookSide interface {
	FetchOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error)
	PlaceOrder(ctx context.Context, params domain.OrderParams) (*domain.OrderReceipt, error)
}

// Price protection bounds relative to the signal's fill price. A copy that
// would execute outside these bands is chasing a move, not copying it.
const (
	buySlippage  = 1.05
	buyPriceCap  = 0.99
	sellSlippage = 0.90
	sellFloor    = 0.001
)

// shareStep is the exchange's share size precision.
const shareStep = 0.01

// Config tunes the sweep loop.
type Config struct {
	// RetryBudget bounds consecutive rejected or errored submissions.
	RetryBudget int
	// RetryPause is the wait between attempts.
	RetryPause time.Duration
	// MinOrderUSD is the venue's minimum order notional; residuals below
	// it are un-sellable dust.
	MinOrderUSD float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RetryBudget <= 0 {
		out.RetryBudget = 3
	}
	if out.RetryPause <= 0 {
		out.RetryPause = 500 * time.Millisecond
	}
	if out.MinOrderUSD <= 0 {
		out.MinOrderUSD = 1.0
	}
	return out
}

// Request asks for a number of shares to be crossed on one token.
type Request struct {
	TokenID     string
	Side        domain.SignalSide
	SignalPrice float64 // tracked trader's fill price, anchors protection
	Shares      float64
	// ForceExit drops SELL price protection to the venue floor so a
	// take-profit or emergency exit liquidates whatever the book bears.
	ForceExit bool
}

// Executor sweeps order books. One sweep runs at a time per signal;
// distinct signals may execute concurrently on separate goroutines.
type Executor struct {
	exch   BookSide
	cfg    Config
	logger *slog.Logger
}

// New returns an Executor submitting through exch.
func New(exch BookSide, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		exch:   exch,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "executor")),
	}
}

// limitPrice returns the worst acceptable price for the request.
func (e *Executor) limitPrice(req Request) float64 {
	if req.Side == domain.SideBuy {
		return math.Min(req.SignalPrice*buySlippage, buyPriceCap)
	}
	if req.ForceExit {
		return sellFloor
	}
	return math.Max(req.SignalPrice*sellSlippage, sellFloor)
}

// withinLimit reports whether a book level is still acceptable.
func withinLimit(side domain.SignalSide, price, limit float64) bool {
	if side == domain.SideBuy {
		return price <= limit
	}
	return price >= limit
}

// Execute runs the sweep and always returns a terminal result; it never
// returns an error because every failure mode is a structured outcome.
func (e *Executor) Execute(ctx context.Context, req Request) domain.ExecutionResult {
	if req.Shares <= 0 || req.SignalPrice <= 0 {
		return domain.ExecutionResult{Status: domain.ExecSkipped, Reason: "nothing to execute"}
	}

	limit := e.limitPrice(req)
	remaining := req.Shares
	var (
		filledShares float64
		filledUSD    float64
		orderIDs     []string
		retries      int
		lastErr      string
	)

	for remaining >= shareStep {
		if ctx.Err() != nil {
			break
		}
		if retries >= e.cfg.RetryBudget {
			if filledShares == 0 {
				return e.failed(req, fmt.Sprintf("retry budget exhausted: %s", lastErr))
			}
			break
		}

		book, err := e.exch.FetchOrderBook(ctx, req.TokenID)
		if err != nil {
			lastErr = err.Error()
			retries++
			e.pause(ctx)
			continue
		}

		level, ok := crossingLevel(book, req.Side)
		if !ok {
			// An empty book before anything filled is a hard failure;
			// liquidity vanishing mid-sweep keeps what filled.
			if filledShares == 0 {
				return e.failed(req, "empty order book")
			}
			break
		}
		if !withinLimit(req.Side, level.Price, limit) {
			if filledShares == 0 {
				return e.failed(req, fmt.Sprintf("best price %.3f outside protection limit %.3f", level.Price, limit))
			}
			break
		}

		shares := roundDownShares(math.Min(remaining, level.Size))
		if shares < shareStep {
			break
		}

		receipt, err := e.exch.PlaceOrder(ctx, domain.OrderParams{
			TokenID: req.TokenID,
			Side:    req.Side,
			Price:   level.Price,
			Shares:  shares,
			Type:    domain.OrderFOK,
		})
		if err != nil {
			lastErr = err.Error()
			retries++
			e.logger.Warn("order rejected",
				slog.String("token_id", req.TokenID),
				slog.String("side", string(req.Side)),
				slog.Float64("price", level.Price),
				slog.Float64("shares", shares),
				slog.Int("retries", retries),
				slog.String("error", err.Error()))
			e.pause(ctx)
			continue
		}

		got := receipt.FilledShares
		if got <= 0 {
			got = shares
		}
		price := receipt.AvgPrice
		if price <= 0 {
			price = level.Price
		}
		filledShares += got
		filledUSD += got * price
		remaining -= got
		retries = 0
		if receipt.OrderID != "" {
			orderIDs = append(orderIDs, receipt.OrderID)
		}

		e.logger.Info("level filled",
			slog.String("token_id", req.TokenID),
			slog.String("side", string(req.Side)),
			slog.Float64("price", price),
			slog.Float64("shares", got),
			slog.Float64("remaining", remaining))
	}

	return e.settle(req, filledShares, filledUSD, remaining, orderIDs)
}

// settle classifies the sweep outcome and logs residual severity.
func (e *Executor) settle(req Request, shares, usd, residual float64, orderIDs []string) domain.ExecutionResult {
	if shares <= 0 {
		return e.failed(req, "no fills")
	}

	res := domain.ExecutionResult{
		SizeUSD:  usd,
		Shares:   shares,
		Price:    usd / shares,
		OrderIDs: orderIDs,
	}
	if residual < shareStep {
		res.Status = domain.ExecFilled
		return res
	}

	res.Status = domain.ExecPartial
	res.Residual = residual
	res.Reason = fmt.Sprintf("%.2f shares unfilled", residual)

	residualUSD := residual * req.SignalPrice
	if residualUSD < e.cfg.MinOrderUSD {
		// The leftover cannot be placed as its own order later.
		e.logger.Error("partial fill left un-sellable dust",
			slog.String("token_id", req.TokenID),
			slog.Float64("residual_shares", residual),
			slog.Float64("residual_usd", residualUSD))
	} else {
		e.logger.Warn("partial fill",
			slog.String("token_id", req.TokenID),
			slog.Float64("residual_shares", residual))
	}
	return res
}

func (e *Executor) failed(req Request, reason string) domain.ExecutionResult {
	e.logger.Error("execution failed",
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.String("reason", reason))
	return domain.ExecutionResult{Status: domain.ExecFailed, Reason: reason}
}

func (e *Executor) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.RetryPause):
	}
}

// crossingLevel returns the best level on the side the order crosses.
func crossingLevel(book *domain.OrderBook, side domain.SignalSide) (domain.PriceLevel, bool) {
	if side == domain.SideBuy {
		return book.BestAsk()
	}
	return book.BestBid()
}

func roundDownShares(shares float64) float64 {
	// The epsilon absorbs float noise so e.g. 119.05 does not round to 119.04.
	return math.Floor(shares/shareStep+1e-9) * shareStep
}
