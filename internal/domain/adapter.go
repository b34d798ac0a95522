package domain

import (
	"context"
	"time"
)

// PriceLevel is one rung of an order book side.
type PriceLevel struct {
	Price float64
	Size  float64 // shares available at this price
}

// OrderBook is a point-in-time snapshot for one token. Asks are sorted
// ascending by price, bids descending.
type OrderBook struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestAsk returns the lowest ask, or false when the book is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// BestBid returns the highest bid, or false when the book is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// SpreadPct returns the bid/ask spread as a fraction of mid price.
func (b *OrderBook) SpreadPct() float64 {
	ask, okA := b.BestAsk()
	bid, okB := b.BestBid()
	if !okA || !okB {
		return 1.0
	}
	mid := (ask.Price + bid.Price) / 2
	if mid <= 0 {
		return 1.0
	}
	return (ask.Price - bid.Price) / mid
}

// OrderType controls matching semantics at the exchange.
type OrderType string

const (
	OrderFOK OrderType = "FOK" // fill-or-kill
	OrderGTC OrderType = "GTC"
)

// OrderParams is a request to place one limit order.
type OrderParams struct {
	TokenID string
	Side    SignalSide
	Price   float64
	Shares  float64
	Type    OrderType
}

// OrderReceipt is the exchange's acknowledgement of a placed order.
type OrderReceipt struct {
	OrderID      string
	FilledShares float64
	AvgPrice     float64
	Status       string
}

// ExchangePosition is a holding reported by the exchange for an account.
type ExchangePosition struct {
	MarketID   string
	TokenID    string
	Outcome    string
	Title      string
	Shares     float64
	AvgPrice   float64
	CurPrice   float64
	ValueUSD   float64
	Redeemable bool
}

// PublicTrade is one trade from a trader's public activity feed.
type PublicTrade struct {
	ID        string
	Trader    string
	MarketID  string
	TokenID   string
	Outcome   string
	Title     string
	Side      SignalSide
	SizeUSD   float64
	Price     float64
	Timestamp time.Time
}

// Exchange is the capability set the copy engine needs from a venue.
// Implementations live under internal/platform.
type Exchange interface {
	// FetchBalance returns the spendable USD balance for an address.
	FetchBalance(ctx context.Context, address string) (float64, error)
	// FetchOrderBook returns the current book for one token.
	FetchOrderBook(ctx context.Context, tokenID string) (*OrderBook, error)
	// PlaceOrder submits a limit order and returns the receipt.
	PlaceOrder(ctx context.Context, params OrderParams) (*OrderReceipt, error)
	// FetchPositions lists the account's open positions.
	FetchPositions(ctx context.Context, address string) ([]ExchangePosition, error)
	// FetchTrades returns a trader's public trades since the given time.
	FetchTrades(ctx context.Context, trader string, since time.Time) ([]PublicTrade, error)
}

// LiquidityProber is an optional Exchange extension exposing a cheap
// liquidity health read without pulling a full book.
type LiquidityProber interface {
	ProbeLiquidity(ctx context.Context, tokenID string) (*LiquidityMetrics, error)
}
