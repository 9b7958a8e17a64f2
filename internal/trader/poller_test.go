package trader

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/registry"
)

func newTestPoller(reg *registry.Registry, guard *registry.Guard, oracle *fakeOracle, seller *Seller) *Poller {
	return NewPoller(time.Minute, reg, guard, oracle, nil, seller, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func safeTestPosition() domain.Position {
	tp, sl := dec("20"), dec("10")
	return domain.Position{
		Asset:         "MintA",
		Venue:         "pumpfun",
		TradeMode:     domain.TradeModeSafe,
		Quantity:      dec("1000"),
		EntryPrice:    dec("1.00"),
		TakeProfitPct: &tp,
		StopLossPct:   &sl,
	}
}

func TestPollerTakeProfitSellsAndCloses(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	guard := registry.NewGuard()
	exec := &fakeExecutor{}
	seller := newTestSeller(exec, newFakeLedger(), reg)
	p := newTestPoller(reg, guard, &fakeOracle{price: dec("1.25")}, seller)

	created, err := reg.Create(ctx, safeTestPosition())
	require.NoError(t, err)

	p.tick(ctx)

	require.Len(t, exec.calls(), 1)
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.False(t, guard.Held(created.ID), "guard released after the exit")
}

func TestPollerHoldsInsideThresholds(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	exec := &fakeExecutor{}
	seller := newTestSeller(exec, newFakeLedger(), reg)
	p := newTestPoller(reg, registry.NewGuard(), &fakeOracle{price: dec("1.05")}, seller)

	created, err := reg.Create(ctx, safeTestPosition())
	require.NoError(t, err)

	p.tick(ctx)

	assert.Empty(t, exec.calls())
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, stored.Status)
	assert.True(t, stored.CurrentPrice.Equal(dec("1.05")), "fresh price persisted even without an exit")
	// The highest-price ratchet is trailing bookkeeping; without a trailing
	// config it stays at the entry price.
	assert.True(t, stored.HighestPrice.Equal(dec("1.00")))
}

func TestPollerSkipsGuardedPositions(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	guard := registry.NewGuard()
	exec := &fakeExecutor{}
	seller := newTestSeller(exec, newFakeLedger(), reg)
	p := newTestPoller(reg, guard, &fakeOracle{price: dec("1.25")}, seller)

	created, err := reg.Create(ctx, safeTestPosition())
	require.NoError(t, err)

	require.True(t, guard.TryAcquire(created.ID))
	defer guard.Release(created.ID)

	p.tick(ctx)

	assert.Empty(t, exec.calls(), "a position mid-sell is left alone")
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, stored.Status)
}

func TestPollerSkipsAssetOnOracleFailure(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	exec := &fakeExecutor{}
	seller := newTestSeller(exec, newFakeLedger(), reg)
	p := newTestPoller(reg, registry.NewGuard(), &fakeOracle{err: domain.ErrOracleUnavailable}, seller)

	created, err := reg.Create(ctx, safeTestPosition())
	require.NoError(t, err)

	p.tick(ctx)

	assert.Empty(t, exec.calls(), "never exit on a missing price")
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, stored.Status)
}

func TestPollerPersistsTrailingRatchet(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	exec := &fakeExecutor{}
	seller := newTestSeller(exec, newFakeLedger(), reg)

	pos := safeTestPosition()
	pos.Trailing = &domain.TrailingStop{
		DistancePct:   dec("10"),
		ActivationPct: dec("15"),
	}
	// Take-profit far away so only the trailing stop is in play.
	tp := dec("500")
	pos.TakeProfitPct = &tp

	created, err := reg.Create(ctx, pos)
	require.NoError(t, err)

	p := newTestPoller(reg, registry.NewGuard(), &fakeOracle{price: dec("1.20")}, seller)
	p.tick(ctx)

	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Trailing)
	assert.True(t, stored.Trailing.Activated, "activation survives a restart")
	require.NotNil(t, stored.Trailing.StopPrice)
	assert.True(t, stored.Trailing.StopPrice.Equal(dec("1.08")))
	assert.Empty(t, exec.calls())
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	exec := &fakeExecutor{}
	seller := newTestSeller(exec, newFakeLedger(), reg)
	p := newTestPoller(reg, registry.NewGuard(), &fakeOracle{price: dec("1.00")}, seller)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}
