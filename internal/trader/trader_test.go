package trader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/registry"
)

// memStore is an in-memory domain.PositionStore.
type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

func (s *memStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *memStore) Update(_ context.Context, pos domain.Position) error {
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

func (s *memStore) Close(_ context.Context, id string) error {
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

func (s *memStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memStore) ListActive(_ context.Context) ([]domain.Position, error) {
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

func (s *memStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
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

// fakeExecutor records every intent and pops errors from a script.
type fakeExecutor struct {
	mu      sync.Mutex
	intents []domain.TradeIntent
	errs    []error
}

func (e *fakeExecutor) Execute(_ context.Context, intent domain.TradeIntent) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, intent)
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "tx-fake", nil
}

func (e *fakeExecutor) calls() []domain.TradeIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TradeIntent(nil), e.intents...)
}

// fakeLedger serves balances per asset.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]decimal.Decimal)}
}

func (l *fakeLedger) set(asset string, qty decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[asset] = qty
}

func (l *fakeLedger) Balance(_ context.Context, _, asset string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset], nil
}

// fakeOracle serves one fixed price, or an error.
type fakeOracle struct {
	price decimal.Decimal
	err   error
}

func (o *fakeOracle) Quote(_ context.Context, _ string) (domain.Quote, error) {
	if o.err != nil {
		return domain.Quote{}, o.err
	}
	return domain.Quote{PriceSol: o.price}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRegistry(t *testing.T) (*registry.Registry, *memStore) {
	t.Helper()
	store := newMemStore()
	return registry.New(store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func newTestSeller(exec domain.Executor, ledger domain.Ledger, reg *registry.Registry) *Seller {
	return NewSeller(exec, ledger, reg, "owner-wallet", dec("10"), dec("0.0001"), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mirrorConfig(mode domain.TradeMode, multiBuy bool) MirrorConfig {
	return MirrorConfig{
		Owner:          "owner-wallet",
		TradeMode:      mode,
		BuyAmountSol:   dec("0.05"),
		TakeProfitPct:  dec("20"),
		StopLossPct:    dec("10"),
		SlippagePct:    dec("10"),
		PriorityFeeSol: dec("0.0001"),
		MultiBuy:       multiBuy,
		ConfirmTimeout: time.Second,
	}
}

func buyEvent(asset string) domain.TradeEvent {
	return domain.TradeEvent{
		Signature:  "sig-buy-1",
		Signer:     "watched-wallet",
		VenueHints: []string{"pump.fun amm"},
		Asset:      asset,
		Side:       domain.TradeSideBuy,
		SolDelta:   dec("-0.25"),
		AssetDelta: dec("5000"),
	}
}

func sellEvent(asset string) domain.TradeEvent {
	return domain.TradeEvent{
		Signature:  "sig-sell-1",
		Signer:     "watched-wallet",
		VenueHints: []string{"pump.fun amm"},
		Asset:      asset,
		Side:       domain.TradeSideSell,
		SolDelta:   dec("0.30"),
		AssetDelta: dec("-5000"),
	}
}

func TestSafeSellHappyPath(t *testing.T) {
	reg, _ := newTestRegistry(t)
	exec := &fakeExecutor{}
	seller := newTestSeller(exec, newFakeLedger(), reg)

	pos := domain.Position{ID: "p1", Asset: "MintA", Venue: "pumpfun", Quantity: dec("100")}
	sold, err := seller.SafeSell(context.Background(), pos)
	require.NoError(t, err)
	assert.True(t, sold)

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.TradeSideSell, calls[0].Side)
	assert.True(t, calls[0].Amount.Equal(dec("100")))
}

func TestSafeSellReconcilesInsufficientBalance(t *testing.T) {
	reg, _ := newTestRegistry(t)
	exec := &fakeExecutor{errs: []error{domain.ErrInsufficientBalance, nil}}
	ledger := newFakeLedger()
	ledger.set("MintA", dec("37.5"))
	seller := newTestSeller(exec, ledger, reg)

	pos := domain.Position{ID: "p1", Asset: "MintA", Venue: "pumpfun", Quantity: dec("100")}
	sold, err := seller.SafeSell(context.Background(), pos)
	require.NoError(t, err)
	assert.True(t, sold)

	calls := exec.calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Amount.Equal(dec("100")))
	assert.True(t, calls[1].Amount.Equal(dec("37.5")), "retry must use the on-chain quantity")
}

func TestSafeSellZeroBalanceForceCloses(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	created, err := reg.Create(ctx, domain.Position{
		Asset: "MintA", Venue: "pumpfun", TradeMode: domain.TradeModeSafe, Quantity: dec("100"),
	})
	require.NoError(t, err)

	exec := &fakeExecutor{errs: []error{domain.ErrInsufficientBalance}}
	seller := newTestSeller(exec, newFakeLedger(), reg)

	sold, err := seller.SafeSell(ctx, created)
	require.NoError(t, err)
	assert.False(t, sold, "no sell was executed")

	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.Len(t, exec.calls(), 1)
}

func TestSafeSellRetryFailureLeavesPositionOpen(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	created, err := reg.Create(ctx, domain.Position{
		Asset: "MintA", Venue: "pumpfun", TradeMode: domain.TradeModeSafe, Quantity: dec("100"),
	})
	require.NoError(t, err)

	exec := &fakeExecutor{errs: []error{domain.ErrInsufficientBalance, errors.New("rpc unavailable")}}
	ledger := newFakeLedger()
	ledger.set("MintA", dec("37.5"))
	seller := newTestSeller(exec, ledger, reg)

	sold, err := seller.SafeSell(ctx, created)
	require.NoError(t, err)
	assert.False(t, sold)

	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, stored.Status)
}

func TestSafeSellUnknownErrorPropagates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	exec := &fakeExecutor{errs: []error{errors.New("boom")}}
	seller := newTestSeller(exec, newFakeLedger(), reg)

	sold, err := seller.SafeSell(context.Background(), domain.Position{ID: "p1", Asset: "MintA", Quantity: dec("1")})
	require.Error(t, err)
	assert.False(t, sold)
}

func newTestMirror(t *testing.T, cfg MirrorConfig, exec *fakeExecutor, ledger *fakeLedger, oracle *fakeOracle) (*Mirror, *registry.Registry, *memStore) {
	t.Helper()
	reg, store := newTestRegistry(t)
	guard := registry.NewGuard()
	seller := newTestSeller(exec, ledger, reg)
	m := NewMirror(cfg, exec, oracle, ledger, nil, reg, guard, seller, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, reg, store
}

func TestMirrorBuyOpensExactPosition(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	ledger := newFakeLedger()
	ledger.set("MintA", dec("5000"))
	m, reg, _ := newTestMirror(t, mirrorConfig(domain.TradeModeExact, false), exec, ledger, &fakeOracle{price: dec("0.0001")})

	require.NoError(t, m.HandleEvent(ctx, buyEvent("MintA")))

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.TradeSideBuy, calls[0].Side)
	assert.Equal(t, "pumpfun", calls[0].Venue)
	assert.True(t, calls[0].Amount.Equal(dec("0.25")), "exact mode mirrors the watched spend")

	pos, ok := reg.FindActiveByAsset("MintA", domain.TradeModeExact)
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("5000")))
	assert.True(t, pos.EntryPrice.Equal(dec("0.25").Div(dec("5000"))))
	assert.Nil(t, pos.StopLossPct)
	assert.Nil(t, pos.Trailing)
	assert.Equal(t, "sig-buy-1", pos.OriginSignature)
}

func TestMirrorBuySafeModeUsesConfiguredSpendAndThresholds(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	ledger := newFakeLedger()
	ledger.set("MintA", dec("1000"))
	cfg := mirrorConfig(domain.TradeModeSafe, false)
	cfg.TrailingEnabled = true
	cfg.TrailingDistancePct = dec("10")
	cfg.TrailingActivationPct = dec("15")
	m, reg, _ := newTestMirror(t, cfg, exec, ledger, &fakeOracle{price: dec("0.0001")})

	require.NoError(t, m.HandleEvent(ctx, buyEvent("MintA")))

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Amount.Equal(dec("0.05")), "safe mode spends the fixed amount")

	pos, ok := reg.FindActiveByAsset("MintA", domain.TradeModeSafe)
	require.True(t, ok)
	require.NotNil(t, pos.TakeProfitPct)
	require.NotNil(t, pos.StopLossPct)
	require.NotNil(t, pos.Trailing)
	assert.True(t, pos.Trailing.DistancePct.Equal(dec("10")))
}

func TestMirrorBuySkipsWhenMultiBuyDisabled(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	ledger := newFakeLedger()
	ledger.set("MintA", dec("1000"))
	m, reg, _ := newTestMirror(t, mirrorConfig(domain.TradeModeSafe, false), exec, ledger, &fakeOracle{price: dec("0.0001")})

	_, err := reg.Create(ctx, domain.Position{
		Asset: "MintA", Venue: "pumpfun", TradeMode: domain.TradeModeSafe, Quantity: dec("1000"),
	})
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(ctx, buyEvent("MintA")))
	assert.Empty(t, exec.calls(), "no trade may be sent when the asset is already held")
	assert.Equal(t, 1, reg.ActiveCount())
}

// gateExecutor blocks inside Execute until released, so a second caller can
// be driven into the buy path while the first is still mid-trade.
type gateExecutor struct {
	fakeExecutor
	entered chan struct{}
	release chan struct{}
}

func (e *gateExecutor) Execute(ctx context.Context, intent domain.TradeIntent) (string, error) {
	e.entered <- struct{}{}
	<-e.release
	return e.fakeExecutor.Execute(ctx, intent)
}

func TestMirrorBuySingleFlightPerAsset(t *testing.T) {
	ctx := context.Background()
	exec := &gateExecutor{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	ledger := newFakeLedger()
	ledger.set("MintA", dec("5000"))

	reg, _ := newTestRegistry(t)
	guard := registry.NewGuard()
	seller := newTestSeller(&exec.fakeExecutor, ledger, reg)
	m := NewMirror(mirrorConfig(domain.TradeModeSafe, false), exec, &fakeOracle{price: dec("0.0001")}, ledger, nil, reg, guard, seller, slog.New(slog.NewTextHandler(io.Discard, nil)))

	first := buyEvent("MintA")
	second := buyEvent("MintA")
	second.Signature = "sig-buy-2"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.HandleEvent(ctx, first))
	}()

	// Wait until one buy is inside the executor, then fire the duplicate.
	<-exec.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, m.HandleEvent(ctx, second))
	}()

	// The second event must be turned away at the single-flight gate, not
	// reach the executor.
	select {
	case <-exec.entered:
		t.Fatal("second buy for the same asset reached the executor")
	case <-time.After(100 * time.Millisecond):
	}

	close(exec.release)
	wg.Wait()

	require.Len(t, exec.calls(), 1, "one executed buy for the asset")
	assert.Equal(t, 1, reg.ActiveCount(), "one active position for the asset")
}

func TestMirrorBuyMergesWhenMultiBuyEnabled(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	ledger := newFakeLedger()
	m, reg, _ := newTestMirror(t, mirrorConfig(domain.TradeModeSafe, true), exec, ledger, &fakeOracle{price: dec("0.0001")})

	created, err := reg.Create(ctx, domain.Position{
		Asset: "MintA", Venue: "pumpfun", TradeMode: domain.TradeModeSafe,
		Quantity: dec("1000"), EntryPrice: dec("0.00005"),
	})
	require.NoError(t, err)

	// After the follow-on buy the wallet holds the combined quantity.
	ledger.set("MintA", dec("2400"))

	require.NoError(t, m.HandleEvent(ctx, buyEvent("MintA")))
	require.Len(t, exec.calls(), 1)

	pos, ok := reg.GetActive(created.ID)
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("2400")), "quantity overwritten with the on-chain total")
	assert.True(t, pos.EntryPrice.Equal(dec("0.00005")), "entry price of the original buy is kept")
	assert.Equal(t, 1, reg.ActiveCount(), "no second position for the same asset")
}

func TestMirrorBuyAbortsOnConfirmTimeout(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	ledger := newFakeLedger() // balance never rises
	cfg := mirrorConfig(domain.TradeModeExact, false)
	cfg.ConfirmTimeout = -time.Second
	m, reg, _ := newTestMirror(t, cfg, exec, ledger, &fakeOracle{price: dec("0.0001")})

	err := m.HandleEvent(ctx, buyEvent("MintA"))
	require.ErrorIs(t, err, domain.ErrConfirmTimeout)
	assert.Equal(t, 0, reg.ActiveCount(), "unconfirmed buys must not create positions")
}

func TestMirrorIgnoresInconsistentEvents(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	m, _, _ := newTestMirror(t, mirrorConfig(domain.TradeModeExact, false), exec, newFakeLedger(), &fakeOracle{price: dec("0.0001")})

	// Direction says buy but no SOL left the wallet (fee-only entry).
	ev := buyEvent("MintA")
	ev.SolDelta = dec("0.0001")
	require.NoError(t, m.HandleEvent(ctx, ev))

	// Direction says sell but the asset balance did not drop.
	ev = sellEvent("MintA")
	ev.AssetDelta = dec("0")
	require.NoError(t, m.HandleEvent(ctx, ev))

	assert.Empty(t, exec.calls())
}

func TestMirrorSellClosesExactPosition(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	m, reg, store := newTestMirror(t, mirrorConfig(domain.TradeModeExact, false), exec, newFakeLedger(), &fakeOracle{price: dec("0.0001")})

	created, err := reg.Create(ctx, domain.Position{
		Asset: "MintA", Venue: "pumpfun", TradeMode: domain.TradeModeExact, Quantity: dec("5000"),
	})
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(ctx, sellEvent("MintA")))

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.TradeSideSell, calls[0].Side)

	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
}

func TestMirrorSellIgnoresSafePositions(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	m, reg, _ := newTestMirror(t, mirrorConfig(domain.TradeModeSafe, false), exec, newFakeLedger(), &fakeOracle{price: dec("0.0001")})

	_, err := reg.Create(ctx, domain.Position{
		Asset: "MintA", Venue: "pumpfun", TradeMode: domain.TradeModeSafe, Quantity: dec("1000"),
	})
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(ctx, sellEvent("MintA")))
	assert.Empty(t, exec.calls(), "safe positions exit only through the evaluator")
	assert.Equal(t, 1, reg.ActiveCount())
}

func TestMirrorSellSkipsWhenGuardHeld(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	reg, _ := newTestRegistry(t)
	guard := registry.NewGuard()
	seller := newTestSeller(exec, newFakeLedger(), reg)
	m := NewMirror(mirrorConfig(domain.TradeModeExact, false), exec, &fakeOracle{price: dec("0.0001")}, newFakeLedger(), nil, reg, guard, seller, slog.New(slog.NewTextHandler(io.Discard, nil)))

	created, err := reg.Create(ctx, domain.Position{
		Asset: "MintA", Venue: "pumpfun", TradeMode: domain.TradeModeExact, Quantity: dec("5000"),
	})
	require.NoError(t, err)

	require.True(t, guard.TryAcquire(created.ID))
	defer guard.Release(created.ID)

	require.NoError(t, m.HandleEvent(ctx, sellEvent("MintA")))
	assert.Empty(t, exec.calls())
	assert.Equal(t, 1, reg.ActiveCount())
}
