package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"polymirror/internal/domain"
)

// DataClient is the REST client for the Polymarket Data API, which serves
// public per-wallet activity, positions, and portfolio value. No
// authentication required.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a Data API client.
//
// baseURL is the API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// activityPageLimit bounds one activity fetch. Tracked traders rarely
// produce more fills than this inside a polling window.
const activityPageLimit = 50

// GetTrades returns a wallet's completed trades newer than since, oldest
// first. Non-trade activity (splits, merges, redeems) is filtered out.
func (d *DataClient) GetTrades(ctx context.Context, wallet string, since time.Time) ([]domain.PublicTrade, error) {
	params := url.Values{}
	params.Set("user", wallet)
	params.Set("type", "TRADE")
	params.Set("limit", strconv.Itoa(activityPageLimit))

	body, err := d.doGet(ctx, "/activity?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get activity for %s: %w", wallet, err)
	}

	var entries []APIActivity
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode activity: %w", err)
	}

	trades := make([]domain.PublicTrade, 0, len(entries))
	// Entries arrive newest first.
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type != "" && entries[i].Type != "TRADE" {
			continue
		}
		tr := entries[i].ToPublicTrade()
		if !tr.Timestamp.After(since) {
			continue
		}
		trades = append(trades, tr)
	}
	return trades, nil
}

// GetPositions returns a wallet's open positions.
func (d *DataClient) GetPositions(ctx context.Context, wallet string) ([]domain.ExchangePosition, error) {
	params := url.Values{}
	params.Set("user", wallet)

	body, err := d.doGet(ctx, "/positions?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions for %s: %w", wallet, err)
	}

	var entries []APIPosition
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}

	out := make([]domain.ExchangePosition, 0, len(entries))
	for i := range entries {
		out = append(out, entries[i].ToDomainPosition())
	}
	return out, nil
}

// GetValue returns a wallet's total portfolio value in USD.
func (d *DataClient) GetValue(ctx context.Context, wallet string) (float64, error) {
	params := url.Values{}
	params.Set("user", wallet)

	body, err := d.doGet(ctx, "/value?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/data: get value for %s: %w", wallet, err)
	}

	var entries []APIValue
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("polymarket/data: decode value: %w", err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("polymarket/data: value for %s: %w", wallet, domain.ErrNotFound)
	}
	return entries[0].Value, nil
}

func (d *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
