package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/registry"
	"github.com/solmirror/mirrorbot/internal/venue"
)

// confirmPollInterval is how often the ledger is re-checked while waiting
// for a buy fill to land.
const confirmPollInterval = 2 * time.Second

// MirrorConfig holds the operator parameters the mirror needs per trade.
type MirrorConfig struct {
	Owner                 string
	TradeMode             domain.TradeMode
	BuyAmountSol          decimal.Decimal
	TakeProfitPct         decimal.Decimal
	StopLossPct           decimal.Decimal
	TrailingEnabled       bool
	TrailingDistancePct   decimal.Decimal
	TrailingActivationPct decimal.Decimal
	SlippagePct           decimal.Decimal
	PriorityFeeSol        decimal.Decimal
	VenueOverride         string
	MultiBuy              bool
	ConfirmTimeout        time.Duration
}

// Mirror classifies watched-wallet trade events and turns them into mirror
// buys and sells. Each feed notification is handled on its own goroutine by
// the feed runner, so HandleEvent must be safe for concurrent use; the
// registry and guard provide the serialization points.
type Mirror struct {
	cfg      MirrorConfig
	executor domain.Executor
	ledger   domain.Ledger
	quotes   quoter
	registry *registry.Registry
	guard    *registry.Guard

	// buys serializes the buy path per asset. The existing-position check
	// and the position write sit on opposite sides of a slow execute +
	// confirmation wait; without this, two concurrent notifications for the
	// same asset would both pass the check and both buy.
	buys *registry.Guard

	seller *Seller
	logger *slog.Logger
}

// NewMirror creates a Mirror. The price cache may be nil.
func NewMirror(
	cfg MirrorConfig,
	executor domain.Executor,
	oracle domain.PriceOracle,
	ledger domain.Ledger,
	cache domain.PriceCache,
	reg *registry.Registry,
	guard *registry.Guard,
	seller *Seller,
	logger *slog.Logger,
) *Mirror {
	return &Mirror{
		cfg:      cfg,
		executor: executor,
		ledger:   ledger,
		quotes:   quoter{oracle: oracle, cache: cache},
		registry: reg,
		guard:    guard,
		buys:     registry.NewGuard(),
		seller:   seller,
		logger:   logger.With(slog.String("component", "mirror")),
	}
}

// HandleEvent classifies one feed notification and runs the corresponding
// mirror path. Events that are neither a genuine buy nor a genuine sell
// (direction and delta disagree, e.g. fee-only entries) are dropped.
func (m *Mirror) HandleEvent(ctx context.Context, ev domain.TradeEvent) error {
	switch {
	case ev.IsBuy():
		return m.mirrorBuy(ctx, ev)
	case ev.IsSell():
		return m.mirrorSell(ctx, ev)
	default:
		m.logger.DebugContext(ctx, "event is neither buy nor sell, ignoring",
			slog.String("signature", ev.Signature),
			slog.String("side", string(ev.Side)),
		)
		return nil
	}
}

func (m *Mirror) mirrorBuy(ctx context.Context, ev domain.TradeEvent) error {
	// At most one buy in flight per asset, held across the existing-position
	// check, the execute, and the position write.
	if !m.buys.TryAcquire(ev.Asset) {
		m.logger.InfoContext(ctx, "buy already in flight for asset, skipping",
			slog.String("asset", ev.Asset),
			slog.String("signature", ev.Signature),
		)
		return nil
	}
	defer m.buys.Release(ev.Asset)

	tag := venue.Resolve(ev.VenueHints, m.cfg.VenueOverride)
	if tag == "" {
		m.logger.WarnContext(ctx, "could not resolve venue, using fallback",
			slog.String("signature", ev.Signature),
			slog.String("fallback", venue.Fallback),
		)
		tag = venue.Fallback
	}

	existing, exists := m.registry.FindActiveByAsset(ev.Asset, "")
	if exists && !m.cfg.MultiBuy {
		m.logger.InfoContext(ctx, "multi-buy disabled and position already open, skipping buy",
			slog.String("asset", ev.Asset),
			slog.String("position_id", existing.ID),
		)
		return nil
	}

	spend := m.cfg.BuyAmountSol
	if m.cfg.TradeMode == domain.TradeModeExact {
		spend = ev.SolDelta.Abs()
	}

	m.logger.InfoContext(ctx, "watched wallet bought, mirroring",
		slog.String("asset", ev.Asset),
		slog.String("venue", tag),
		slog.String("spend_sol", spend.String()),
		slog.String("signature", ev.Signature),
	)

	txRef, err := m.executor.Execute(ctx, domain.TradeIntent{
		Owner:       m.cfg.Owner,
		Side:        domain.TradeSideBuy,
		Venue:       tag,
		Asset:       ev.Asset,
		Amount:      spend,
		SlippagePct: m.cfg.SlippagePct,
		PriorityFee: m.cfg.PriorityFeeSol,
	})
	if err != nil {
		return fmt.Errorf("mirror: buy %s: %w", ev.Asset, err)
	}

	prev := decimal.Zero
	if exists {
		prev = existing.Quantity
	}
	quantity, err := m.awaitFill(ctx, ev.Asset, prev)
	if err != nil {
		// Funds may already be spent; creating a position with a guessed
		// quantity would be worse than a known gap.
		m.logger.ErrorContext(ctx, "buy not confirmed in time, aborting position creation",
			slog.String("asset", ev.Asset),
			slog.String("tx", txRef),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("mirror: confirm buy %s: %w", ev.Asset, err)
	}

	if exists {
		// Multi-buy merges by overwriting the quantity with the fresh
		// on-chain total. The original entry price is kept.
		existing.Quantity = quantity
		if err := m.registry.Update(ctx, existing); err != nil {
			return fmt.Errorf("mirror: merge follow-on buy %s: %w", ev.Asset, err)
		}
		m.logger.InfoContext(ctx, "follow-on buy merged into open position",
			slog.String("position_id", existing.ID),
			slog.String("asset", ev.Asset),
			slog.String("quantity", quantity.String()),
		)
		return nil
	}

	entryPrice := m.entryPrice(ctx, ev.Asset, spend, quantity)

	pos := domain.Position{
		Asset:           ev.Asset,
		Venue:           tag,
		TradeMode:       m.cfg.TradeMode,
		SpentSol:        spend,
		Quantity:        quantity,
		EntryPrice:      entryPrice,
		OriginSignature: ev.Signature,
	}
	if m.cfg.TradeMode == domain.TradeModeSafe {
		sl, tp := m.cfg.StopLossPct, m.cfg.TakeProfitPct
		pos.StopLossPct = &sl
		pos.TakeProfitPct = &tp
		if m.cfg.TrailingEnabled {
			pos.Trailing = &domain.TrailingStop{
				DistancePct:   m.cfg.TrailingDistancePct,
				ActivationPct: m.cfg.TrailingActivationPct,
			}
		}
	}

	if _, err := m.registry.Create(ctx, pos); err != nil {
		return fmt.Errorf("mirror: record position for %s: %w", ev.Asset, err)
	}
	return nil
}

func (m *Mirror) mirrorSell(ctx context.Context, ev domain.TradeEvent) error {
	// Only EXACT positions mirror the watched wallet's exit; a SAFE
	// position's fate belongs to the exit evaluator alone.
	pos, ok := m.registry.FindActiveByAsset(ev.Asset, domain.TradeModeExact)
	if !ok {
		m.logger.DebugContext(ctx, "watched wallet sold but no exact position open, ignoring",
			slog.String("asset", ev.Asset),
		)
		return nil
	}

	if !m.guard.TryAcquire(pos.ID) {
		m.logger.InfoContext(ctx, "sell already in flight for position, skipping",
			slog.String("position_id", pos.ID),
		)
		return nil
	}
	defer m.guard.Release(pos.ID)

	m.logger.InfoContext(ctx, "watched wallet sold, closing mirrored position",
		slog.String("position_id", pos.ID),
		slog.String("asset", ev.Asset),
		slog.String("signature", ev.Signature),
	)

	sold, err := m.seller.SafeSell(ctx, pos)
	if err != nil {
		return fmt.Errorf("mirror: sell %s: %w", pos.ID, err)
	}
	if !sold {
		return nil
	}
	if err := m.registry.CloseOut(ctx, pos.ID, "mirror_sell"); err != nil {
		return fmt.Errorf("mirror: close %s: %w", pos.ID, err)
	}
	return nil
}

// awaitFill polls the ledger until the owner's balance for the asset rises
// above prev, confirming the buy landed. It gives up after the configured
// confirmation timeout and returns domain.ErrConfirmTimeout.
func (m *Mirror) awaitFill(ctx context.Context, asset string, prev decimal.Decimal) (decimal.Decimal, error) {
	deadline := time.Now().Add(m.cfg.ConfirmTimeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		balance, err := m.ledger.Balance(ctx, m.cfg.Owner, asset)
		if err != nil {
			m.logger.WarnContext(ctx, "balance check failed while awaiting fill",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		} else if balance.GreaterThan(prev) {
			return balance, nil
		}

		if time.Now().After(deadline) {
			return decimal.Zero, domain.ErrConfirmTimeout
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

// entryPrice derives the position's entry price from what we actually spent
// and received, falling back to the oracle quote when the fill math is not
// available.
func (m *Mirror) entryPrice(ctx context.Context, asset string, spend, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsPositive() && spend.IsPositive() {
		return spend.Div(quantity)
	}
	q, err := m.quotes.quote(ctx, asset)
	if err != nil {
		m.logger.WarnContext(ctx, "no oracle quote for entry price",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
		return decimal.Zero
	}
	return q.PriceSol
}
