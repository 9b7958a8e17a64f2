package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// fakeStore is an in-memory domain.PositionStore.
type fakeStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]domain.Position)}
}

func (s *fakeStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakeStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.positions[pos.ID]
	if !ok || prev.Status != domain.PositionStatusActive {
		return domain.ErrNotFound
	}
	// Status and closed_at are owned by Close, as in the real store.
	pos.Status = prev.Status
	pos.ClosedAt = prev.ClosedAt
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakeStore) Close(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.ClosedAt = &now
	s.positions[id] = p
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mintPosition(asset string, mode domain.TradeMode) domain.Position {
	return domain.Position{
		Asset:      asset,
		Venue:      "pumpfun",
		TradeMode:  mode,
		Quantity:   decimal.NewFromInt(1000),
		EntryPrice: decimal.RequireFromString("0.000012"),
	}
}

func TestRegistryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := New(store, nil, nil, testLogger())

	created, err := reg.Create(ctx, mintPosition("MintA", domain.TradeModeSafe))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.PositionStatusActive, created.Status)
	assert.True(t, created.HighestPrice.Equal(created.EntryPrice))

	found, ok := reg.FindActiveByAsset("MintA", "")
	require.True(t, ok)
	assert.Equal(t, created.ID, found.ID)

	// Mode filter.
	_, ok = reg.FindActiveByAsset("MintA", domain.TradeModeExact)
	assert.False(t, ok)

	// Persisted before indexed.
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, stored.Status)
}

func TestRegistryCloseOutIsOneWay(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := New(store, nil, nil, testLogger())

	created, err := reg.Create(ctx, mintPosition("MintA", domain.TradeModeSafe))
	require.NoError(t, err)

	require.NoError(t, reg.CloseOut(ctx, created.ID, "take_profit"))
	assert.Equal(t, 0, reg.ActiveCount())

	// History keeps the record, the active index does not.
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.NotNil(t, stored.ClosedAt)

	_, ok := reg.FindActiveByAsset("MintA", "")
	assert.False(t, ok)

	// Closing again is a NotFound, never a reopen.
	err = reg.CloseOut(ctx, created.ID, "again")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistryLoadRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	seed := New(store, nil, nil, testLogger())
	a, err := seed.Create(ctx, mintPosition("MintA", domain.TradeModeExact))
	require.NoError(t, err)
	b, err := seed.Create(ctx, mintPosition("MintB", domain.TradeModeSafe))
	require.NoError(t, err)
	require.NoError(t, seed.CloseOut(ctx, b.ID, "stop_loss"))

	// A fresh registry over the same store sees only the active record.
	reg := New(store, nil, nil, testLogger())
	require.NoError(t, reg.Load(ctx))
	assert.Equal(t, 1, reg.ActiveCount())

	found, ok := reg.FindActiveByAsset("MintA", domain.TradeModeExact)
	require.True(t, ok)
	assert.Equal(t, a.ID, found.ID)
}

func TestRegistryStaleUpdateCannotReopenClosedPosition(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := New(store, nil, nil, testLogger())

	created, err := reg.Create(ctx, mintPosition("MintA", domain.TradeModeSafe))
	require.NoError(t, err)

	// A poller-style snapshot taken before the feed closes the position.
	snap, ok := reg.GetActive(created.ID)
	require.True(t, ok)

	require.NoError(t, reg.CloseOut(ctx, created.ID, "mirror_sell"))

	snap.CurrentPrice = decimal.RequireFromString("0.000099")
	err = reg.Update(ctx, snap)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// ACTIVE -> CLOSED stays one-way at the durability boundary too.
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.NotNil(t, stored.ClosedAt)
	assert.Equal(t, 0, reg.ActiveCount())

	// A fresh load over the store must not resurrect the position.
	reloaded := New(store, nil, nil, testLogger())
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 0, reloaded.ActiveCount())
}

func TestRegistryUpdateMissingIDIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	reg := New(newFakeStore(), nil, nil, testLogger())

	err := reg.Update(ctx, domain.Position{ID: "never-created"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistrySnapshotsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	reg := New(newFakeStore(), nil, nil, testLogger())

	pos := mintPosition("MintA", domain.TradeModeSafe)
	pos.Trailing = &domain.TrailingStop{
		DistancePct:   decimal.NewFromInt(10),
		ActivationPct: decimal.NewFromInt(15),
	}
	created, err := reg.Create(ctx, pos)
	require.NoError(t, err)

	snap, ok := reg.GetActive(created.ID)
	require.True(t, ok)
	snap.Trailing.Activated = true

	again, ok := reg.GetActive(created.ID)
	require.True(t, ok)
	assert.False(t, again.Trailing.Activated, "mutating a snapshot leaked into the index")
}
