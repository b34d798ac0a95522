package polymarket

import (
	"context"
	"strings"
	"time"

	"polymirror/internal/domain"
	"polymirror/internal/liquidity"
)

// Client composes the CLOB and Data API clients into the exchange
// capability set the copy engine consumes. The authenticated wallet's own
// balance comes from the CLOB; arbitrary wallets (tracked traders) are
// read through the public Data API.
type Client struct {
	clob  *ClobClient
	data  *DataClient
	owner string // authenticated wallet, lowercase
}

var (
	_ domain.Exchange        = (*Client)(nil)
	_ domain.LiquidityProber = (*Client)(nil)
)

// NewClient builds the composite exchange client. owner is the
// authenticated wallet's address.
func NewClient(clob *ClobClient, data *DataClient, owner string) *Client {
	return &Client{clob: clob, data: data, owner: normalize(owner)}
}

// FetchBalance returns spendable USD. The owner's balance is the CLOB
// collateral balance; other wallets report their public portfolio value.
func (c *Client) FetchBalance(ctx context.Context, address string) (float64, error) {
	if normalize(address) == c.owner {
		return c.clob.GetBalanceAllowance(ctx)
	}
	return c.data.GetValue(ctx, address)
}

// FetchOrderBook returns the current book for one token.
func (c *Client) FetchOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	return c.clob.GetOrderBook(ctx, tokenID)
}

// PlaceOrder signs and submits a limit order.
func (c *Client) PlaceOrder(ctx context.Context, params domain.OrderParams) (*domain.OrderReceipt, error) {
	return c.clob.PostOrder(ctx, params)
}

// FetchPositions lists a wallet's open positions.
func (c *Client) FetchPositions(ctx context.Context, address string) ([]domain.ExchangePosition, error) {
	return c.data.GetPositions(ctx, address)
}

// FetchTrades returns a wallet's public trades newer than since.
func (c *Client) FetchTrades(ctx context.Context, trader string, since time.Time) ([]domain.PublicTrade, error) {
	return c.data.GetTrades(ctx, trader, since)
}

// ProbeLiquidity grades a token's book. The venue has no native liquidity
// endpoint, so health is derived from a book snapshot.
func (c *Client) ProbeLiquidity(ctx context.Context, tokenID string) (*domain.LiquidityMetrics, error) {
	book, err := c.clob.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return liquidity.Classify(book, domain.SideBuy), nil
}

func normalize(address string) string {
	return strings.ToLower(address)
}
