// Package registry owns the authoritative in-memory set of open positions.
// The position repository is the durability source of truth; the in-memory
// index is a cache over it, rebuilt at startup, and every mutation is
// persisted before the index is touched.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// Registry indexes active positions by id and asset. Writes are serialized
// behind a single mutex so all mutation of a position's fields is
// linearizable; reads take snapshots.
type Registry struct {
	store  domain.PositionStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]*domain.Position // by position id
}

// New creates a Registry. The bus and audit store may be nil (events and
// audit rows are then skipped), which keeps tests and the liquidate mode
// lightweight.
func New(store domain.PositionStore, bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		bus:    bus,
		audit:  audit,
		logger: logger.With(slog.String("component", "registry")),
		active: make(map[string]*domain.Position),
	}
}

// Load rebuilds the in-memory index from all active repository records. It
// must be called once at startup before the registry is used.
func (r *Registry) Load(ctx context.Context) error {
	positions, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("registry: load active positions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[string]*domain.Position, len(positions))
	for i := range positions {
		p := clone(&positions[i])
		r.active[p.ID] = &p
	}

	r.logger.InfoContext(ctx, "active positions loaded", slog.Int("count", len(positions)))
	return nil
}

// Create assigns an id and timestamps, persists the position, and inserts it
// into the active index.
func (r *Registry) Create(ctx context.Context, pos domain.Position) (domain.Position, error) {
	pos.ID = uuid.New().String()
	pos.Status = domain.PositionStatusActive
	pos.CreatedAt = time.Now().UTC()
	if pos.CurrentPrice.IsZero() {
		pos.CurrentPrice = pos.EntryPrice
	}
	if pos.HighestPrice.IsZero() {
		pos.HighestPrice = pos.EntryPrice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("registry: create position: %w", err)
	}
	p := clone(&pos)
	r.active[p.ID] = &p

	r.publish(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"asset":       pos.Asset,
		"venue":       pos.Venue,
		"trade_mode":  string(pos.TradeMode),
		"quantity":    pos.Quantity.String(),
		"entry_price": pos.EntryPrice.String(),
	})

	r.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("asset", pos.Asset),
		slog.String("venue", pos.Venue),
		slog.String("quantity", pos.Quantity.String()),
		slog.String("entry_price", pos.EntryPrice.String()),
	)
	return pos, nil
}

// FindActiveByAsset returns the active position for the asset, optionally
// restricted to a trade mode (empty mode matches any). The returned position
// is a snapshot copy.
func (r *Registry) FindActiveByAsset(asset string, mode domain.TradeMode) (domain.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.active {
		if p.Asset != asset {
			continue
		}
		if mode != "" && p.TradeMode != mode {
			continue
		}
		return clone(p), true
	}
	return domain.Position{}, false
}

// GetActive returns the active position with the given id as a snapshot copy.
func (r *Registry) GetActive(id string) (domain.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.active[id]
	if !ok {
		return domain.Position{}, false
	}
	return clone(p), true
}

// Update persists all mutable fields of a position and refreshes the active
// index. A position that is no longer in the active index is refused with
// domain.ErrNotFound before anything is written: a caller holding a stale
// snapshot that lost a race against CloseOut must not flip the durable
// record back to active. For ids the registry never created the repository
// miss is an invariant violation and is logged loudly rather than papered
// over.
func (r *Registry) Update(ctx context.Context, pos domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[pos.ID]; !ok {
		return fmt.Errorf("registry: update position %s: not active: %w", pos.ID, domain.ErrNotFound)
	}

	if err := r.store.Update(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.ErrorContext(ctx, "repository lost a registry-created position",
				slog.String("position_id", pos.ID),
			)
			return fmt.Errorf("registry: position %s vanished from repository: %w", pos.ID, err)
		}
		return fmt.Errorf("registry: update position %s: %w", pos.ID, err)
	}

	p := clone(&pos)
	r.active[pos.ID] = &p
	return nil
}

// CloseOut marks the position closed in the repository and removes it from
// the active index. The record remains in durable history. Closing is
// one-way; the id never returns to the active set.
func (r *Registry) CloseOut(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.active[id]
	if !ok {
		return fmt.Errorf("registry: close position %s: %w", id, domain.ErrNotFound)
	}

	if err := r.store.Close(ctx, id); err != nil {
		return fmt.Errorf("registry: close position %s: %w", id, err)
	}
	delete(r.active, id)

	r.publish(ctx, "position_closed", map[string]any{
		"position_id": id,
		"asset":       pos.Asset,
		"reason":      reason,
		"exit_price":  pos.CurrentPrice.String(),
	})

	r.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", id),
		slog.String("asset", pos.Asset),
		slog.String("reason", reason),
	)
	return nil
}

// ListActive returns snapshot copies of every active position.
func (r *Registry) ListActive() []domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Position, 0, len(r.active))
	for _, p := range r.active {
		out = append(out, clone(p))
	}
	return out
}

// ActiveCount returns the number of active positions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// publish emits a lifecycle event on the signal bus and mirrors it into the
// audit log. Both are best-effort; failures are logged, never propagated.
func (r *Registry) publish(ctx context.Context, event string, detail map[string]any) {
	if r.bus != nil {
		msg := make(map[string]any, len(detail)+1)
		for k, v := range detail {
			msg[k] = v
		}
		msg["event"] = event
		payload, _ := json.Marshal(msg)
		if err := r.bus.Publish(ctx, "positions", payload); err != nil {
			r.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.audit != nil {
		if err := r.audit.Log(ctx, event, detail); err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// clone deep-copies a position so callers never share pointer fields with
// the index.
func clone(p *domain.Position) domain.Position {
	out := *p
	if p.StopLossPct != nil {
		v := *p.StopLossPct
		out.StopLossPct = &v
	}
	if p.TakeProfitPct != nil {
		v := *p.TakeProfitPct
		out.TakeProfitPct = &v
	}
	if p.Trailing != nil {
		t := *p.Trailing
		if p.Trailing.StopPrice != nil {
			sp := *p.Trailing.StopPrice
			t.StopPrice = &sp
		}
		out.Trailing = &t
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		out.ClosedAt = &v
	}
	return out
}
