package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
//
// NUMERIC columns are cast to text in SQL and parsed with
// decimal.NewFromString so quantities round-trip without float precision
// loss.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, asset, venue, trade_mode,
	spent_sol::text, quantity::text, entry_price::text,
	current_price::text, highest_price::text,
	stop_loss_pct::text, take_profit_pct::text,
	trailing_distance_pct::text, trailing_activation_pct::text,
	trailing_activated, trailing_stop_price::text,
	origin_signature, status, created_at, closed_at`

// positionRow mirrors the positions table with decimals as text.
type positionRow struct {
	id, asset, venue, tradeMode                string
	spentSol, quantity, entryPrice             string
	currentPrice, highestPrice                 string
	stopLossPct, takeProfitPct                 *string
	trailingDistancePct, trailingActivationPct *string
	trailingActivated                          *bool
	trailingStopPrice                          *string
	originSignature, status                    string
	createdAt                                  time.Time
	closedAt                                   *time.Time
}

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var r positionRow
	err := row.Scan(
		&r.id, &r.asset, &r.venue, &r.tradeMode,
		&r.spentSol, &r.quantity, &r.entryPrice,
		&r.currentPrice, &r.highestPrice,
		&r.stopLossPct, &r.takeProfitPct,
		&r.trailingDistancePct, &r.trailingActivationPct,
		&r.trailingActivated, &r.trailingStopPrice,
		&r.originSignature, &r.status, &r.createdAt, &r.closedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	return r.toDomain()
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (r positionRow) toDomain() (domain.Position, error) {
	p := domain.Position{
		ID:              r.id,
		Asset:           r.asset,
		Venue:           r.venue,
		TradeMode:       domain.TradeMode(r.tradeMode),
		OriginSignature: r.originSignature,
		Status:          domain.PositionStatus(r.status),
		CreatedAt:       r.createdAt,
		ClosedAt:        r.closedAt,
	}

	var err error
	if p.SpentSol, err = decimal.NewFromString(r.spentSol); err != nil {
		return domain.Position{}, fmt.Errorf("parse spent_sol %q: %w", r.spentSol, err)
	}
	if p.Quantity, err = decimal.NewFromString(r.quantity); err != nil {
		return domain.Position{}, fmt.Errorf("parse quantity %q: %w", r.quantity, err)
	}
	if p.EntryPrice, err = decimal.NewFromString(r.entryPrice); err != nil {
		return domain.Position{}, fmt.Errorf("parse entry_price %q: %w", r.entryPrice, err)
	}
	if p.CurrentPrice, err = decimal.NewFromString(r.currentPrice); err != nil {
		return domain.Position{}, fmt.Errorf("parse current_price %q: %w", r.currentPrice, err)
	}
	if p.HighestPrice, err = decimal.NewFromString(r.highestPrice); err != nil {
		return domain.Position{}, fmt.Errorf("parse highest_price %q: %w", r.highestPrice, err)
	}
	if p.StopLossPct, err = parseOptDecimal(r.stopLossPct, "stop_loss_pct"); err != nil {
		return domain.Position{}, err
	}
	if p.TakeProfitPct, err = parseOptDecimal(r.takeProfitPct, "take_profit_pct"); err != nil {
		return domain.Position{}, err
	}

	if r.trailingDistancePct != nil && r.trailingActivationPct != nil {
		trailing := &domain.TrailingStop{}
		if trailing.DistancePct, err = decimal.NewFromString(*r.trailingDistancePct); err != nil {
			return domain.Position{}, fmt.Errorf("parse trailing_distance_pct %q: %w", *r.trailingDistancePct, err)
		}
		if trailing.ActivationPct, err = decimal.NewFromString(*r.trailingActivationPct); err != nil {
			return domain.Position{}, fmt.Errorf("parse trailing_activation_pct %q: %w", *r.trailingActivationPct, err)
		}
		if r.trailingActivated != nil {
			trailing.Activated = *r.trailingActivated
		}
		if trailing.StopPrice, err = parseOptDecimal(r.trailingStopPrice, "trailing_stop_price"); err != nil {
			return domain.Position{}, err
		}
		p.Trailing = trailing
	}

	return p, nil
}

func parseOptDecimal(s *string, col string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", col, *s, err)
	}
	return &d, nil
}

func optDecimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// trailingCols flattens the optional trailing-stop block into its columns.
func trailingCols(p domain.Position) (distance, activation *string, activated *bool, stopPrice *string) {
	if p.Trailing == nil {
		return nil, nil, nil, nil
	}
	d := p.Trailing.DistancePct.String()
	a := p.Trailing.ActivationPct.String()
	act := p.Trailing.Activated
	return &d, &a, &act, optDecimalText(p.Trailing.StopPrice)
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, asset, venue, trade_mode,
			spent_sol, quantity, entry_price, current_price, highest_price,
			stop_loss_pct, take_profit_pct,
			trailing_distance_pct, trailing_activation_pct,
			trailing_activated, trailing_stop_price,
			origin_signature, status, created_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11,
			$12, $13,
			$14, $15,
			$16, $17, $18, $19, NOW()
		)`

	distance, activation, activated, stopPrice := trailingCols(p)
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Asset, p.Venue, string(p.TradeMode),
		p.SpentSol.String(), p.Quantity.String(), p.EntryPrice.String(),
		p.CurrentPrice.String(), p.HighestPrice.String(),
		optDecimalText(p.StopLossPct), optDecimalText(p.TakeProfitPct),
		distance, activation,
		activated, stopPrice,
		p.OriginSignature, string(p.Status), p.CreatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces the mutable runtime fields of an active position. Status
// and closed_at belong to Close; a record that already left the active state
// is never written and reports ErrNotFound, so a stale in-memory snapshot
// cannot reopen it.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			quantity                = $2,
			entry_price             = $3,
			current_price           = $4,
			highest_price           = $5,
			stop_loss_pct           = $6,
			take_profit_pct         = $7,
			trailing_distance_pct   = $8,
			trailing_activation_pct = $9,
			trailing_activated      = $10,
			trailing_stop_price     = $11,
			updated_at              = NOW()
		WHERE id = $1 AND status = 'active'`

	distance, activation, activated, stopPrice := trailingCols(p)
	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Quantity.String(), p.EntryPrice.String(),
		p.CurrentPrice.String(), p.HighestPrice.String(),
		optDecimalText(p.StopLossPct), optDecimalText(p.TakeProfitPct),
		distance, activation,
		activated, stopPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks an active position closed. Closing an already-closed position
// is a not-found, never a second transition.
func (s *PositionStore) Close(ctx context.Context, id string) error {
	const query = `
		UPDATE positions SET
			status     = 'closed',
			closed_at  = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every active position, oldest first.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'active'
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns positions closed strictly before the given time.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}
