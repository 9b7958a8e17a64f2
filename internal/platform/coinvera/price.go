package coinvera

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// PriceClient fetches spot prices from the Coinvera HTTP API. It implements
// domain.PriceOracle; every failure wraps domain.ErrOracleUnavailable so
// callers can skip the asset instead of acting on a missing price.
type PriceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPriceClient creates a new Coinvera price client.
//
// baseURL is the API host, e.g. "https://api.coinvera.io".
func NewPriceClient(baseURL, apiKey string) *PriceClient {
	return &PriceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type priceResponse struct {
	PriceInSol decimal.Decimal `json:"priceInSol"`
	PriceInUsd decimal.Decimal `json:"priceInUsd"`
}

// Quote fetches the current price for the given mint address.
func (c *PriceClient) Quote(ctx context.Context, asset string) (domain.Quote, error) {
	endpoint := fmt.Sprintf("%s/api/v1/price?ca=%s", c.baseURL, url.QueryEscape(asset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("coinvera: build price request: %w", domain.ErrOracleUnavailable)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("coinvera: price %s: %v: %w", asset, err, domain.ErrOracleUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("coinvera: read price response: %v: %w", err, domain.ErrOracleUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Quote{}, fmt.Errorf("coinvera: price %s: HTTP %d: %w", asset, resp.StatusCode, domain.ErrOracleUnavailable)
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return domain.Quote{}, fmt.Errorf("coinvera: decode price response: %v: %w", err, domain.ErrOracleUnavailable)
	}
	if !pr.PriceInSol.IsPositive() {
		return domain.Quote{}, fmt.Errorf("coinvera: no price for %s: %w", asset, domain.ErrOracleUnavailable)
	}

	return domain.Quote{PriceSol: pr.PriceInSol, PriceUsd: pr.PriceInUsd}, nil
}
