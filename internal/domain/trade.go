package domain

import "github.com/shopspring/decimal"

// TradeSide is the direction of a trade, both for incoming feed events and
// outgoing execution requests.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeEvent is one watched-wallet trade notification delivered by the feed.
// Deltas are signed from the watched wallet's perspective: SolDelta is
// negative when the wallet spent SOL, AssetDelta is negative when the wallet
// sold tokens.
type TradeEvent struct {
	Signature  string
	Signer     string
	VenueHints []string
	Asset      string
	Side       TradeSide
	SolDelta   decimal.Decimal
	AssetDelta decimal.Decimal
}

// IsBuy reports whether the event is a genuine buy: the declared direction
// and the SOL delta must agree, which filters fee-only and unrelated ledger
// entries out of the mirror path.
func (e TradeEvent) IsBuy() bool {
	return e.Side == TradeSideBuy && e.SolDelta.IsNegative()
}

// IsSell reports whether the event is a genuine sell; direction and the
// token delta must agree.
func (e TradeEvent) IsSell() bool {
	return e.Side == TradeSideSell && e.AssetDelta.IsNegative()
}

// TradeIntent is a structured buy/sell request handed to the execution
// service. Amount is SOL to spend for buys and tokens to sell for sells.
type TradeIntent struct {
	Owner       string
	Side        TradeSide
	Venue       string
	Asset       string
	Amount      decimal.Decimal
	SlippagePct decimal.Decimal
	PriorityFee decimal.Decimal // SOL tip for the block engine
}

// Quote is a price observation for an asset in two denominations.
type Quote struct {
	PriceSol decimal.Decimal
	PriceUsd decimal.Decimal
}
