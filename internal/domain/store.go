package domain

import (
	"context"
	"time"
)

// PositionStore persists position records. It is the durability source of
// truth; the in-memory registry is rebuilt from ListActive at startup.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Update replaces all mutable fields of a position. It returns
	// ErrNotFound when the id does not exist.
	Update(ctx context.Context, pos Position) error
	// Close marks a position closed and stamps ClosedAt. The row stays in
	// durable history.
	Close(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	// ListClosedBefore returns closed positions whose ClosedAt is strictly
	// before the cutoff, for archival.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of trading decisions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
