package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/exits"
	"github.com/solmirror/mirrorbot/internal/registry"
)

// Poller periodically re-prices every open position and triggers the exit
// evaluator. A tick that overruns the interval simply delays the next one;
// ticks never stack.
type Poller struct {
	interval time.Duration
	registry *registry.Registry
	guard    *registry.Guard
	quotes   quoter
	seller   *Seller
	logger   *slog.Logger
}

// NewPoller creates a Poller. The price cache may be nil.
func NewPoller(
	interval time.Duration,
	reg *registry.Registry,
	guard *registry.Guard,
	oracle domain.PriceOracle,
	cache domain.PriceCache,
	seller *Seller,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		interval: interval,
		registry: reg,
		guard:    guard,
		quotes:   quoter{oracle: oracle, cache: cache},
		seller:   seller,
		logger:   logger.With(slog.String("component", "poller")),
	}
}

// Run ticks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "poller started",
		slog.Duration("interval", p.interval),
	)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick evaluates every open position once. Failures for one asset never
// block the rest of the sweep.
func (p *Poller) tick(ctx context.Context) {
	for _, pos := range p.registry.ListActive() {
		if p.guard.Held(pos.ID) {
			continue
		}
		if err := p.evaluate(ctx, pos); err != nil {
			p.logger.ErrorContext(ctx, "position evaluation failed",
				slog.String("position_id", pos.ID),
				slog.String("asset", pos.Asset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Poller) evaluate(ctx context.Context, pos domain.Position) error {
	q, err := p.quotes.quote(ctx, pos.Asset)
	if err != nil {
		// Skip the asset this tick; never exit on a stale or missing price.
		return fmt.Errorf("trader: price %s: %w", pos.Asset, err)
	}

	pos.CurrentPrice = q.PriceSol
	decision := exits.Evaluate(&pos, q.PriceSol)

	// Persist the fresh price and any trailing ratchet even when nothing
	// fires, so restarts pick up where the stop left off.
	if err := p.registry.Update(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Closed by the feed between our snapshot and the write; the
			// registry refused the stale data.
			return nil
		}
		return fmt.Errorf("trader: persist price for %s: %w", pos.ID, err)
	}

	if decision == exits.DecisionNone {
		return nil
	}

	if !p.guard.TryAcquire(pos.ID) {
		return nil
	}
	defer p.guard.Release(pos.ID)

	p.logger.InfoContext(ctx, "exit condition met",
		slog.String("position_id", pos.ID),
		slog.String("asset", pos.Asset),
		slog.String("decision", decision.String()),
		slog.String("price", q.PriceSol.String()),
		slog.String("entry_price", pos.EntryPrice.String()),
	)

	sold, err := p.seller.SafeSell(ctx, pos)
	if err != nil {
		return fmt.Errorf("trader: exit %s: %w", pos.ID, err)
	}
	if !sold {
		return nil
	}
	if err := p.registry.CloseOut(ctx, pos.ID, decision.String()); err != nil {
		return fmt.Errorf("trader: close %s: %w", pos.ID, err)
	}
	return nil
}
