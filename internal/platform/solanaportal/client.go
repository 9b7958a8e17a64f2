// Package solanaportal is a client for the SolanaPortal trading service,
// which builds, signs, and submits swap transactions on our behalf.
package solanaportal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// Client submits trades through the SolanaPortal trading endpoint. It
// implements domain.Executor.
type Client struct {
	baseURL    string
	sendMode   string
	httpClient *http.Client
}

// NewClient creates a trading client.
//
// baseURL is the API host, e.g. "https://api.solanaportal.io". sendMode
// selects the submission path on the service side, e.g. "jito".
func NewClient(baseURL, sendMode string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sendMode: sendMode,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// tradeRequest is the wire payload for the trading endpoint. Amount means
// SOL to spend on a buy and tokens to sell on a sell.
type tradeRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Action        string          `json:"action"`
	Dex           string          `json:"dex"`
	Mint          string          `json:"mint"`
	Amount        decimal.Decimal `json:"amount"`
	Slippage      decimal.Decimal `json:"slippage"`
	Tip           decimal.Decimal `json:"tip"`
	Type          string          `json:"type"`
}

type tradeResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

// Execute submits the intent and returns the transaction signature.
//
// An "Insufficient SPL token balance" rejection maps to
// domain.ErrInsufficientBalance so the safe-sell protocol can reconcile
// against the chain; every other rejection surfaces as a plain error.
func (c *Client) Execute(ctx context.Context, intent domain.TradeIntent) (string, error) {
	payload := tradeRequest{
		WalletAddress: intent.Owner,
		Action:        string(intent.Side),
		Dex:           intent.Venue,
		Mint:          intent.Asset,
		Amount:        intent.Amount,
		Slippage:      intent.SlippagePct,
		Tip:           intent.PriorityFee,
		Type:          c.sendMode,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("solanaportal: marshal trade: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/trading", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("solanaportal: build trade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("solanaportal: %s %s: %w", intent.Side, intent.Asset, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("solanaportal: read trade response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isInsufficientBalance(raw) {
			return "", fmt.Errorf("solanaportal: %s %s: %w", intent.Side, intent.Asset, domain.ErrInsufficientBalance)
		}
		return "", fmt.Errorf("solanaportal: %s %s: HTTP %d: %s", intent.Side, intent.Asset, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var tr tradeResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		// Some responses are the bare signature string.
		return strings.Trim(strings.TrimSpace(string(raw)), `"`), nil
	}
	if tr.Error != "" {
		if strings.Contains(tr.Error, "Insufficient SPL token balance") {
			return "", fmt.Errorf("solanaportal: %s %s: %w", intent.Side, intent.Asset, domain.ErrInsufficientBalance)
		}
		return "", fmt.Errorf("solanaportal: %s %s: %s", intent.Side, intent.Asset, tr.Error)
	}
	return tr.Signature, nil
}

func isInsufficientBalance(raw []byte) bool {
	return bytes.Contains(raw, []byte("Insufficient SPL token balance"))
}
