package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"polymirror/internal/crypto"
	"polymirror/internal/domain"
)

// RelayerClient submits gasless USDC transfers through the Polymarket
// relayer. The relayer pays the on-chain gas, so the wallet needs no
// MATIC; the transfer itself is authorized by an EIP-712 signature from
// the wallet's key. Used for fee settlement and cashout sweeps.
type RelayerClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	from       string // proxy wallet the funds leave
}

// NewRelayerClient creates a relayer client.
//
// baseURL is the relayer root, e.g. "https://relayer-v2.polymarket.com".
func NewRelayerClient(baseURL string, signer *crypto.Signer, from string) *RelayerClient {
	return &RelayerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // relayed transactions wait for inclusion
		},
		signer: signer,
		from:   from,
	}
}

// Transfer sends amountUSD of USDC to the given address and returns the
// transaction hash. The amount is truncated to USDC's 6-decimal precision.
func (r *RelayerClient) Transfer(ctx context.Context, to string, amountUSD float64) (string, error) {
	if amountUSD <= 0 {
		return "", fmt.Errorf("polymarket/relayer: %w: non-positive amount", domain.ErrInvalidOrder)
	}
	raw := int64(math.Floor(amountUSD * 1e6))
	nonce := time.Now().UnixNano()

	sig, err := r.signer.SignTransfer(r.from, to, raw, nonce)
	if err != nil {
		return "", fmt.Errorf("polymarket/relayer: %w: %s", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"from":      r.from,
		"to":        to,
		"amount":    strconv.FormatInt(raw, 10),
		"nonce":     strconv.FormatInt(nonce, 10),
		"signature": sig,
		"type":      "TRANSFER",
	}

	respBody, err := r.doPost(ctx, "/submit", body)
	if err != nil {
		return "", fmt.Errorf("polymarket/relayer: submit transfer: %w", err)
	}

	var result struct {
		TransactionHash string `json:"transactionHash"`
		State           string `json:"state"`
		Error           string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket/relayer: decode response: %w", err)
	}
	if result.TransactionHash == "" {
		return "", fmt.Errorf("polymarket/relayer: transfer not accepted: %s", result.Error)
	}
	return result.TransactionHash, nil
}

// Sweep moves amountUSD from the trading wallet to the configured
// destination. It satisfies the funds sweeper with a fixed target.
type Sweep struct {
	Relayer *RelayerClient
	To      string
}

// Sweep sends the excess to the cashout destination.
func (s *Sweep) Sweep(ctx context.Context, from string, amountUSD float64) (string, error) {
	return s.Relayer.Transfer(ctx, s.To, amountUSD)
}

func (r *RelayerClient) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}
