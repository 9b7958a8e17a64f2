package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// quoteMaxAge bounds how stale a cached quote may be before the oracle is
// asked again. It is short: exits must act on fresh prices.
const quoteMaxAge = 5 * time.Second

// quoter fetches prices through an optional cache so the mirror path and
// the poller do not hammer the oracle for the same asset within a tick.
type quoter struct {
	oracle domain.PriceOracle
	cache  domain.PriceCache // may be nil
}

func (q quoter) quote(ctx context.Context, asset string) (domain.Quote, error) {
	if q.cache != nil {
		if cached, ts, err := q.cache.GetQuote(ctx, asset); err == nil {
			if time.Since(ts) <= quoteMaxAge {
				return cached, nil
			}
		}
	}

	fresh, err := q.oracle.Quote(ctx, asset)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("trader: quote %s: %w", asset, err)
	}
	if q.cache != nil {
		// Best effort; a cache miss later just costs another oracle call.
		_ = q.cache.SetQuote(ctx, asset, fresh, time.Now().UTC())
	}
	return fresh, nil
}
