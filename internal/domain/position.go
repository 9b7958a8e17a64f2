package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeMode controls how a mirrored position is sized and how it exits.
type TradeMode string

const (
	// TradeModeExact mirrors the watched wallet's spend exactly and closes
	// the position when the watched wallet sells.
	TradeModeExact TradeMode = "EXACT"

	// TradeModeSafe buys a fixed operator-configured SOL amount and exits
	// only via take-profit, stop-loss, or trailing-stop. Watched-wallet
	// sells are ignored for SAFE positions.
	TradeModeSafe TradeMode = "SAFE"
)

// PositionStatus tracks whether a position is active or closed. The
// transition is one-way: a closed position is never reopened.
type PositionStatus string

const (
	PositionStatusActive PositionStatus = "active"
	PositionStatusClosed PositionStatus = "closed"
)

// TrailingStop holds the trailing-stop bookkeeping for a SAFE position.
// StopPrice only ratchets upward once Activated is set.
type TrailingStop struct {
	DistancePct   decimal.Decimal
	ActivationPct decimal.Decimal
	Activated     bool
	StopPrice     *decimal.Decimal
}

// Position is the unit of tracked exposure: one mirrored holding of a token
// mint on a resolved venue. Quantities and prices are exact decimals; the
// oracle denomination (SOL) is consistent for a position's whole life.
type Position struct {
	ID              string
	Asset           string // token mint address
	Venue           string
	TradeMode       TradeMode
	SpentSol        decimal.Decimal // SOL spent on the entry buy
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal
	CurrentPrice    decimal.Decimal
	HighestPrice    decimal.Decimal
	StopLossPct     *decimal.Decimal // SAFE mode only
	TakeProfitPct   *decimal.Decimal // SAFE mode only
	Trailing        *TrailingStop
	OriginSignature string // watched-wallet tx that triggered creation, audit only
	Status          PositionStatus
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// IsActive reports whether the position is still open.
func (p *Position) IsActive() bool {
	return p.Status == PositionStatusActive
}
