// Package trader drives the mirroring of watched-wallet trades and the
// autonomous exit of open positions.
package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/registry"
)

// Seller executes the safe-sell protocol: one sell attempt at the recorded
// quantity, with a single balance-reconciliation retry when the execution
// service reports insufficient funds. Callers own concurrency-guard
// acquisition and perform the close transition only on a true result.
type Seller struct {
	executor    domain.Executor
	ledger      domain.Ledger
	registry    *registry.Registry
	owner       string
	slippagePct decimal.Decimal
	priorityFee decimal.Decimal
	logger      *slog.Logger
}

// NewSeller creates a Seller for the given owner wallet.
func NewSeller(
	executor domain.Executor,
	ledger domain.Ledger,
	reg *registry.Registry,
	owner string,
	slippagePct, priorityFee decimal.Decimal,
	logger *slog.Logger,
) *Seller {
	return &Seller{
		executor:    executor,
		ledger:      ledger,
		registry:    reg,
		owner:       owner,
		slippagePct: slippagePct,
		priorityFee: priorityFee,
		logger:      logger.With(slog.String("component", "seller")),
	}
}

// SafeSell attempts to sell the position's recorded quantity. It returns
// true only when a sell was executed for the full remaining holding.
//
// When the execution service reports insufficient balance, the exact
// on-chain quantity is fetched and the sell is retried once with it. That
// reconciles drift between the recorded quantity and the truth on chain
// (rounded buy fills, partial prior sells, external transfers). A zero
// on-chain balance means the position is economically closed already: it is
// force-closed in the registry and false is returned, since no sell was
// executed by this call. Any other execution failure propagates untouched.
func (s *Seller) SafeSell(ctx context.Context, pos domain.Position) (bool, error) {
	intent := domain.TradeIntent{
		Owner:       s.owner,
		Side:        domain.TradeSideSell,
		Venue:       pos.Venue,
		Asset:       pos.Asset,
		Amount:      pos.Quantity,
		SlippagePct: s.slippagePct,
		PriorityFee: s.priorityFee,
	}

	txRef, err := s.executor.Execute(ctx, intent)
	if err == nil {
		s.logger.InfoContext(ctx, "position sold",
			slog.String("position_id", pos.ID),
			slog.String("asset", pos.Asset),
			slog.String("quantity", pos.Quantity.String()),
			slog.String("tx", txRef),
		)
		return true, nil
	}
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		return false, fmt.Errorf("seller: sell %s: %w", pos.ID, err)
	}

	s.logger.WarnContext(ctx, "insufficient balance, reconciling against chain",
		slog.String("position_id", pos.ID),
		slog.String("asset", pos.Asset),
		slog.String("recorded_quantity", pos.Quantity.String()),
	)

	actual, err := s.ledger.Balance(ctx, s.owner, pos.Asset)
	if err != nil {
		return false, fmt.Errorf("seller: reconcile balance for %s: %w", pos.Asset, err)
	}

	if actual.IsPositive() {
		intent.Amount = actual
		txRef, retryErr := s.executor.Execute(ctx, intent)
		if retryErr != nil {
			// The position stays active; a later poll or the operator
			// retries.
			s.logger.ErrorContext(ctx, "reconciled sell retry failed",
				slog.String("position_id", pos.ID),
				slog.String("asset", pos.Asset),
				slog.String("actual_quantity", actual.String()),
				slog.String("error", retryErr.Error()),
			)
			return false, nil
		}
		s.logger.InfoContext(ctx, "position sold after reconciliation",
			slog.String("position_id", pos.ID),
			slog.String("quantity", actual.String()),
			slog.String("tx", txRef),
		)
		return true, nil
	}

	// Nothing left on chain: sold or transferred away outside our view.
	s.logger.InfoContext(ctx, "zero on-chain balance, force-closing position",
		slog.String("position_id", pos.ID),
		slog.String("asset", pos.Asset),
	)
	if closeErr := s.registry.CloseOut(ctx, pos.ID, "zero_balance"); closeErr != nil {
		return false, fmt.Errorf("seller: force-close %s: %w", pos.ID, closeErr)
	}
	return false, nil
}
