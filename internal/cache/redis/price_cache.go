package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// quote is stored at key "price:{mint}" with fields "price_sol", "price_usd",
// and "ts" (Unix nanosecond timestamp). Prices are stored as decimal strings
// to keep exactness across the round-trip.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(asset string) string {
	return "price:" + asset
}

// SetQuote stores the latest quote and timestamp for an asset.
func (pc *PriceCache) SetQuote(ctx context.Context, asset string, q domain.Quote, ts time.Time) error {
	fields := map[string]interface{}{
		"price_sol": q.PriceSol.String(),
		"price_usd": q.PriceUsd.String(),
		"ts":        strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", asset, err)
	}
	return nil
}

// GetQuote retrieves the latest quote and timestamp for an asset. It returns
// domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetQuote(ctx context.Context, asset string) (domain.Quote, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: get quote %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}

	solStr, ok := vals["price_sol"]
	if !ok {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	priceSol, err := decimal.NewFromString(solStr)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse price_sol %s: %w", asset, err)
	}

	var priceUsd decimal.Decimal
	if usdStr, ok := vals["price_usd"]; ok && usdStr != "" {
		if priceUsd, err = decimal.NewFromString(usdStr); err != nil {
			return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse price_usd %s: %w", asset, err)
		}
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
	}

	return domain.Quote{PriceSol: priceSol, PriceUsd: priceUsd}, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
