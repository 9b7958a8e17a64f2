package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Executor submits a trade intent to the execution venue and returns the
// transaction signature. Transaction construction, signing, and broadcast
// live entirely behind this interface. A sell that cannot be funded returns
// an error wrapping ErrInsufficientBalance.
type Executor interface {
	Execute(ctx context.Context, intent TradeIntent) (txRef string, err error)
}

// PriceOracle returns the current quote for an asset. Failures wrap
// ErrOracleUnavailable so callers can skip a tick rather than abort.
type PriceOracle interface {
	Quote(ctx context.Context, asset string) (Quote, error)
}

// Ledger answers exact on-chain holdings. The returned quantity is the sum
// over all token accounts for the owner/mint pair.
type Ledger interface {
	Balance(ctx context.Context, owner, asset string) (decimal.Decimal, error)
}
