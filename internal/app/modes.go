package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/feed"
	"github.com/solmirror/mirrorbot/internal/platform/coinvera"
	"github.com/solmirror/mirrorbot/internal/registry"
	"github.com/solmirror/mirrorbot/internal/server"
	"github.com/solmirror/mirrorbot/internal/trader"
)

const (
	// processLockTTL bounds how long a crashed instance keeps its wallet
	// locked before another instance can take over.
	processLockTTL = 15 * time.Minute

	// archiveSweepEvery is how often the closed-position archiver runs.
	archiveSweepEvery = 24 * time.Hour
)

// mirrorConfig converts the operator trade settings into the mirror's
// runtime parameters.
func (a *App) mirrorConfig() trader.MirrorConfig {
	t := a.cfg.Trade
	return trader.MirrorConfig{
		Owner:                 a.cfg.Wallet.Address,
		TradeMode:             domain.TradeMode(t.Mode),
		BuyAmountSol:          decimal.NewFromFloat(t.BuyAmountSol),
		TakeProfitPct:         decimal.NewFromFloat(t.TakeProfitPct),
		StopLossPct:           decimal.NewFromFloat(t.StopLossPct),
		TrailingEnabled:       t.TrailingEnabled,
		TrailingDistancePct:   decimal.NewFromFloat(t.TrailingDistancePct),
		TrailingActivationPct: decimal.NewFromFloat(t.TrailingActivationPct),
		SlippagePct:           decimal.NewFromFloat(t.SlippagePct),
		PriorityFeeSol:        decimal.NewFromFloat(t.PriorityFeeSol),
		VenueOverride:         t.VenueOverride,
		MultiBuy:              t.MultiBuy,
		ConfirmTimeout:        t.ConfirmTimeout.Duration,
	}
}

// MirrorMode runs the live copy-trading daemon: the trade feed, the exit
// poller, the status API, and the archiver, all under one errgroup.
func (a *App) MirrorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting mirror mode",
		slog.String("watched_wallet", a.cfg.Wallet.WatchedAddress),
		slog.String("trade_mode", a.cfg.Trade.Mode),
	)

	// One instance per watched wallet. A second instance mirroring the same
	// wallet would double every trade.
	unlock, err := deps.LockManager.Acquire(ctx, "mirror:"+a.cfg.Wallet.WatchedAddress, processLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("mirror mode: another instance is already mirroring %s: %w",
				a.cfg.Wallet.WatchedAddress, err)
		}
		return fmt.Errorf("mirror mode: acquire process lock: %w", err)
	}
	defer unlock()

	reg := registry.New(deps.PositionStore, deps.SignalBus, deps.AuditStore, a.logger)
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("mirror mode: %w", err)
	}

	guard := registry.NewGuard()
	cfg := a.mirrorConfig()

	seller := trader.NewSeller(
		deps.Executor, deps.Ledger, reg,
		cfg.Owner, cfg.SlippagePct, cfg.PriorityFeeSol,
		a.logger,
	)
	mirror := trader.NewMirror(
		cfg, deps.Executor, deps.Oracle, deps.Ledger, deps.PriceCache,
		reg, guard, seller, a.logger,
	)
	poller := trader.NewPoller(
		a.cfg.Trade.PollInterval.Duration,
		reg, guard, deps.Oracle, deps.PriceCache, seller,
		a.logger,
	)

	ws := coinvera.NewWSClient(a.cfg.Coinvera.WsHost, a.cfg.Coinvera.ApiKey)
	runner := feed.NewRunner(ws, a.cfg.Wallet.WatchedAddress, mirror, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(ctx)
	})
	g.Go(func() error {
		return poller.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		srv := server.NewServer(
			server.Config{Port: a.cfg.Server.Port},
			reg, deps.PositionStore, deps.AuditStore,
			a.logger,
		)
		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			a.runArchiver(ctx, deps)
			return nil
		})
	}

	return g.Wait()
}

// runArchiver sweeps closed positions older than the retention window into
// object storage, once at startup and then daily. Failures are logged and
// retried on the next sweep.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	sweep := func() {
		cutoff := time.Now().UTC().Add(-retention)
		count, err := deps.Archiver.ArchivePositions(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "position archive sweep failed",
				slog.String("error", err.Error()),
			)
			return
		}
		if count > 0 {
			a.logger.InfoContext(ctx, "closed positions archived",
				slog.Int64("count", count),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	sweep()

	ticker := time.NewTicker(archiveSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// LiquidateMode sells every active position through the safe-sell protocol
// and exits. Positions whose sell could not be completed stay active for a
// later run.
func (a *App) LiquidateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting liquidate mode")

	reg := registry.New(deps.PositionStore, deps.SignalBus, deps.AuditStore, a.logger)
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("liquidate mode: %w", err)
	}

	guard := registry.NewGuard()
	cfg := a.mirrorConfig()
	seller := trader.NewSeller(
		deps.Executor, deps.Ledger, reg,
		cfg.Owner, cfg.SlippagePct, cfg.PriorityFeeSol,
		a.logger,
	)

	positions := reg.ListActive()
	a.logger.InfoContext(ctx, "liquidating active positions", slog.Int("count", len(positions)))

	var sold, failed int
	for _, pos := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !guard.TryAcquire(pos.ID) {
			continue
		}

		ok, err := seller.SafeSell(ctx, pos)
		if err != nil {
			failed++
			a.logger.ErrorContext(ctx, "liquidation sell failed",
				slog.String("position_id", pos.ID),
				slog.String("asset", pos.Asset),
				slog.String("error", err.Error()),
			)
			guard.Release(pos.ID)
			continue
		}
		if ok {
			if err := reg.CloseOut(ctx, pos.ID, "liquidate"); err != nil {
				a.logger.ErrorContext(ctx, "close after liquidation failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			} else {
				sold++
			}
		}
		guard.Release(pos.ID)
	}

	a.logger.InfoContext(ctx, "liquidation finished",
		slog.Int("sold", sold),
		slog.Int("failed", failed),
		slog.Int("remaining", reg.ActiveCount()),
	)
	return nil
}
