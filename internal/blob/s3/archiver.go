package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// ClosedPositionSource provides read access to closed positions for archival
// purposes. The Postgres position store satisfies it.
type ClosedPositionSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// Archiver uploads closed positions older than a cutoff to object storage as
// JSONL, partitioned by year-month.
//
// Deletion of archived rows from the primary store is intentionally NOT
// performed here; the durable history stays queryable.
type Archiver struct {
	writer    domain.BlobWriter
	positions ClosedPositionSource
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver. The audit store may be nil.
func NewArchiver(writer domain.BlobWriter, positions ClosedPositionSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
	}
}

// positionRecord is the archive line format. Decimals go out as strings so
// the archive round-trips exactly.
type positionRecord struct {
	ID              string     `json:"id"`
	Asset           string     `json:"asset"`
	Venue           string     `json:"venue"`
	TradeMode       string     `json:"trade_mode"`
	SpentSol        string     `json:"spent_sol"`
	Quantity        string     `json:"quantity"`
	EntryPrice      string     `json:"entry_price"`
	CurrentPrice    string     `json:"current_price"`
	HighestPrice    string     `json:"highest_price"`
	StopLossPct     *string    `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   *string    `json:"take_profit_pct,omitempty"`
	OriginSignature string     `json:"origin_signature"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

func toRecord(p domain.Position) positionRecord {
	rec := positionRecord{
		ID:              p.ID,
		Asset:           p.Asset,
		Venue:           p.Venue,
		TradeMode:       string(p.TradeMode),
		SpentSol:        p.SpentSol.String(),
		Quantity:        p.Quantity.String(),
		EntryPrice:      p.EntryPrice.String(),
		CurrentPrice:    p.CurrentPrice.String(),
		HighestPrice:    p.HighestPrice.String(),
		OriginSignature: p.OriginSignature,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
		ClosedAt:        p.ClosedAt,
	}
	if p.StopLossPct != nil {
		s := p.StopLossPct.String()
		rec.StopLossPct = &s
	}
	if p.TakeProfitPct != nil {
		s := p.TakeProfitPct.String()
		rec.TakeProfitPct = &s
	}
	return rec
}

// ArchivePositions queries closed positions before the cutoff, serializes
// them to JSONL, and uploads the file at archive/positions/YYYY-MM.jsonl. It
// returns the count of archived records.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	records := make([]positionRecord, 0, len(positions))
	for _, p := range positions {
		records = append(records, toRecord(p))
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(positions))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
		}
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
