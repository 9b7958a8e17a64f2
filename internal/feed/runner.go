// Package feed turns the watched wallet's trade stream into domain events.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/platform/coinvera"
)

const (
	dedupTTL        = 10 * time.Minute
	dedupSweepEvery = time.Minute
)

// EventHandler consumes one classified trade event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.TradeEvent) error
}

// Runner subscribes to the watched wallet's trades and dispatches each fresh
// notification to the handler on its own goroutine, so a slow buy
// confirmation never blocks the read loop.
type Runner struct {
	ws            *coinvera.WSClient
	watchedWallet string
	handler       EventHandler
	dedup         *Dedup
	logger        *slog.Logger
}

// NewRunner creates a Runner over an unconnected WebSocket client.
func NewRunner(ws *coinvera.WSClient, watchedWallet string, handler EventHandler, logger *slog.Logger) *Runner {
	return &Runner{
		ws:            ws,
		watchedWallet: watchedWallet,
		handler:       handler,
		dedup:         NewDedup(dedupTTL),
		logger:        logger.With(slog.String("component", "feed")),
	}
}

// Run connects, subscribes to the watched wallet, and blocks until the
// context is cancelled. The WebSocket client owns reconnection and
// resubscription internally.
func (r *Runner) Run(ctx context.Context) error {
	r.ws.OnTrade(func(notif coinvera.TradeNotification) {
		r.dispatch(ctx, notif)
	})

	if err := r.ws.Connect(ctx); err != nil {
		return err
	}
	if err := r.ws.Subscribe(ctx, []string{r.watchedWallet}); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "watching wallet trades",
		slog.String("wallet", r.watchedWallet),
	)

	sweep := time.NewTicker(dedupSweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = r.ws.Close()
			r.logger.InfoContext(ctx, "feed stopped")
			return ctx.Err()
		case <-sweep.C:
			r.dedup.Cleanup()
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, notif coinvera.TradeNotification) {
	// The stream can carry trades from other signers on shared endpoints.
	if notif.Signer != r.watchedWallet {
		return
	}
	if r.dedup.IsDuplicate(notif.Signature) {
		r.logger.DebugContext(ctx, "duplicate notification dropped",
			slog.String("signature", notif.Signature),
		)
		return
	}

	ev := domain.TradeEvent{
		Signature:  notif.Signature,
		Signer:     notif.Signer,
		VenueHints: notif.Dexs,
		Asset:      notif.Mint,
		Side:       domain.TradeSide(notif.Trade),
		SolDelta:   notif.SolAmount,
		AssetDelta: notif.TokenAmount,
	}

	go func() {
		if err := r.handler.HandleEvent(ctx, ev); err != nil {
			r.logger.ErrorContext(ctx, "trade event handling failed",
				slog.String("signature", ev.Signature),
				slog.String("asset", ev.Asset),
				slog.String("error", err.Error()),
			)
		}
	}()
}
