package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"polymirror/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "closed" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBookLevel is one price level as returned by GET /book. Prices and
// sizes arrive as decimal strings.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the order book snapshot returned by GET /book.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"` // unix millis as string
}

// ToDomainBook converts the snapshot. The CLOB returns both sides ordered
// away from the touch, so each slice is reversed into best-first order.
func (b *APIBook) ToDomainBook() *domain.OrderBook {
	out := &domain.OrderBook{
		TokenID: b.AssetID,
		Bids:    levelsToDomain(b.Bids),
		Asks:    levelsToDomain(b.Asks),
	}
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		out.Timestamp = time.UnixMilli(ms)
	} else {
		out.Timestamp = time.Now()
	}
	return out
}

func levelsToDomain(levels []APIBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for i := len(levels) - 1; i >= 0; i-- {
		price, err1 := strconv.ParseFloat(levels[i].Price, 64)
		size, err2 := strconv.ParseFloat(levels[i].Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// APIOrderResult is the response to POST /order.
type APIOrderResult struct {
	Success            bool     `json:"success"`
	ErrorMsg           string   `json:"errorMsg"`
	OrderID            string   `json:"orderID"`
	TransactionsHashes []string `json:"transactionsHashes"`
	Status             string   `json:"status"`
	MakingAmount       string   `json:"makingAmount"`
	TakingAmount       string   `json:"takingAmount"`
}

// ToReceipt converts the API result into a receipt for the given side.
// Amounts come back from the maker's perspective: a BUY receives shares as
// the taking amount, a SELL as the making amount.
func (r *APIOrderResult) ToReceipt(side domain.SignalSide, price float64) *domain.OrderReceipt {
	receipt := &domain.OrderReceipt{
		OrderID: r.OrderID,
		Status:  r.Status,
	}
	sharesStr := r.TakingAmount
	if side == domain.SideSell {
		sharesStr = r.MakingAmount
	}
	if raw, err := strconv.ParseFloat(sharesStr, 64); err == nil && raw > 0 {
		receipt.FilledShares = raw / 1e6 // amounts are 6-decimal fixed point
	}
	receipt.AvgPrice = price
	return receipt
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity is one entry of GET /activity?user=...&type=TRADE.
type APIActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"` // outcome token id
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Title           string  `json:"title"`
	Size            float64 `json:"size"` // shares
	Price           float64 `json:"price"`
	UsdcSize        float64 `json:"usdcSize"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	TransactionHash string  `json:"transactionHash"`
	Type            string  `json:"type"`
}

// ToPublicTrade converts an activity entry. The transaction hash is the
// dedup identity; entries without one get a synthetic identity from the
// tuple that makes a fill unique.
func (a *APIActivity) ToPublicTrade() domain.PublicTrade {
	id := strings.ToLower(a.TransactionHash)
	if id == "" {
		id = strings.ToLower(a.ProxyWallet) + ":" + a.Asset + ":" + strconv.FormatInt(a.Timestamp, 10)
	}
	usd := a.UsdcSize
	if usd == 0 {
		usd = a.Size * a.Price
	}
	return domain.PublicTrade{
		ID:        id,
		Trader:    strings.ToLower(a.ProxyWallet),
		MarketID:  a.ConditionID,
		TokenID:   a.Asset,
		Outcome:   a.Outcome,
		Title:     a.Title,
		Side:      domain.SignalSide(strings.ToUpper(a.Side)),
		SizeUSD:   usd,
		Price:     a.Price,
		Timestamp: time.Unix(a.Timestamp, 0).UTC(),
	}
}

// APIPosition is one entry of GET /positions?user=...
type APIPosition struct {
	ConditionID  string  `json:"conditionId"`
	Asset        string  `json:"asset"`
	Outcome      string  `json:"outcome"`
	Title        string  `json:"title"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	CurrentValue float64 `json:"currentValue"`
	Redeemable   bool    `json:"redeemable"`
}

func (p *APIPosition) ToDomainPosition() domain.ExchangePosition {
	return domain.ExchangePosition{
		MarketID:   p.ConditionID,
		TokenID:    p.Asset,
		Outcome:    p.Outcome,
		Title:      p.Title,
		Shares:     p.Size,
		AvgPrice:   p.AvgPrice,
		CurPrice:   p.CurPrice,
		ValueUSD:   p.CurrentValue,
		Redeemable: p.Redeemable,
	}
}

// APIValue is the portfolio value entry of GET /value?user=...
type APIValue struct {
	User  string  `json:"user"`
	Value float64 `json:"value"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is the subset of a Gamma market used for closure checks.
type APIMarket struct {
	ID     string   `json:"id"`
	Slug   string   `json:"slug"`
	Closed flexBool `json:"closed"`
	Active flexBool `json:"active"`
}

// --------------------------------------------------------------------------
// Live-data WebSocket messages
// --------------------------------------------------------------------------

// wsSubscription is one topic subscription on the live-data feed.
type wsSubscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

// wsCommand is the subscribe/unsubscribe envelope.
type wsCommand struct {
	Action        string           `json:"action"`
	Subscriptions []wsSubscription `json:"subscriptions"`
}

// wsOrdersMatched is an orders_matched event from the activity topic.
type wsOrdersMatched struct {
	Type    string `json:"type"`
	Payload struct {
		ProxyWallet     string  `json:"proxyWallet"`
		ConditionID     string  `json:"conditionId"`
		Asset           string  `json:"asset"`
		Side            string  `json:"side"`
		Outcome         string  `json:"outcome"`
		Title           string  `json:"title"`
		Size            float64 `json:"size"`
		Price           float64 `json:"price"`
		Timestamp       int64   `json:"timestamp"`
		TransactionHash string  `json:"transactionHash"`
	} `json:"payload"`
}

func (m *wsOrdersMatched) ToPublicTrade() domain.PublicTrade {
	p := m.Payload
	id := strings.ToLower(p.TransactionHash)
	if id == "" {
		id = strings.ToLower(p.ProxyWallet) + ":" + p.Asset + ":" + strconv.FormatInt(p.Timestamp, 10)
	}
	ts := time.Unix(p.Timestamp, 0).UTC()
	if p.Timestamp == 0 {
		ts = time.Now().UTC()
	}
	return domain.PublicTrade{
		ID:        id,
		Trader:    strings.ToLower(p.ProxyWallet),
		MarketID:  p.ConditionID,
		TokenID:   p.Asset,
		Outcome:   p.Outcome,
		Title:     p.Title,
		Side:      domain.SignalSide(strings.ToUpper(p.Side)),
		SizeUSD:   p.Size * p.Price,
		Price:     p.Price,
		Timestamp: ts,
	}
}
