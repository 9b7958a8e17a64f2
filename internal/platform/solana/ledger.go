// Package solana reads token balances over Solana JSON-RPC.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger answers token balance queries via getTokenAccountsByOwner. It
// implements domain.Ledger.
type Ledger struct {
	rpcURL     string
	httpClient *http.Client
}

// NewLedger creates a Ledger for the given RPC endpoint.
func NewLedger(rpcURL string) *Ledger {
	return &Ledger{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type tokenAccountsResponse struct {
	Result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmountString string `json:"uiAmountString"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// Balance sums the owner's holdings of the mint across all of their token
// accounts, in UI units.
func (l *Ledger) Balance(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountsByOwner",
		Params: []any{
			owner,
			map[string]string{"mint": asset},
			map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return decimal.Zero, fmt.Errorf("solana: marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.rpcURL, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("solana: build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("solana: token accounts for %s: %w", asset, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("solana: read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("solana: token accounts for %s: HTTP %d", asset, resp.StatusCode)
	}

	var tar tokenAccountsResponse
	if err := json.Unmarshal(raw, &tar); err != nil {
		return decimal.Zero, fmt.Errorf("solana: decode rpc response: %w", err)
	}
	if tar.Error != nil {
		return decimal.Zero, fmt.Errorf("solana: rpc error %d: %s", tar.Error.Code, tar.Error.Message)
	}

	total := decimal.Zero
	for _, acct := range tar.Result.Value {
		ui := acct.Account.Data.Parsed.Info.TokenAmount.UIAmountString
		if ui == "" {
			continue
		}
		amount, err := decimal.NewFromString(ui)
		if err != nil {
			return decimal.Zero, fmt.Errorf("solana: parse token amount %q: %w", ui, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}
