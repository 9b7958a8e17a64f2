// Package exits decides when a position should be closed based on price
// movement: take-profit, stop-loss, and trailing-stop.
package exits

import (
	"github.com/shopspring/decimal"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// Decision is the outcome of an exit evaluation.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionTakeProfit
	DecisionStopLoss
	DecisionTrailingStop
)

// String returns the decision name for logging and audit entries.
func (d Decision) String() string {
	switch d {
	case DecisionTakeProfit:
		return "take_profit"
	case DecisionStopLoss:
		return "stop_loss"
	case DecisionTrailingStop:
		return "trailing_stop"
	default:
		return "none"
	}
}

var hundred = decimal.NewFromInt(100)

// Evaluate checks a position against the given price and returns which exit
// rule, if any, has fired. Only SAFE positions are evaluated; EXACT positions
// close exclusively by mirroring the watched wallet's sell.
//
// Take-profit and stop-loss are checked before the trailing stop, in that
// order. Evaluate mutates the position's HighestPrice and trailing
// bookkeeping; the trailing stop price, once activated, only ratchets upward.
// The caller is responsible for persisting the mutated fields.
func Evaluate(p *domain.Position, price decimal.Decimal) Decision {
	if p.TradeMode != domain.TradeModeSafe {
		return DecisionNone
	}
	if p.EntryPrice.IsZero() {
		return DecisionNone
	}

	changePct := price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)

	if p.TakeProfitPct != nil && changePct.GreaterThanOrEqual(*p.TakeProfitPct) {
		return DecisionTakeProfit
	}
	if p.StopLossPct != nil && changePct.LessThanOrEqual(p.StopLossPct.Neg()) {
		return DecisionStopLoss
	}

	t := p.Trailing
	if t == nil || !t.DistancePct.IsPositive() {
		return DecisionNone
	}

	if price.GreaterThan(p.HighestPrice) {
		p.HighestPrice = price
	}

	retain := decimal.NewFromInt(1).Sub(t.DistancePct.Div(hundred))

	if !t.Activated && changePct.GreaterThanOrEqual(t.ActivationPct) {
		t.Activated = true
		sp := p.HighestPrice.Mul(retain)
		t.StopPrice = &sp
	}

	if t.Activated {
		candidate := p.HighestPrice.Mul(retain)
		if t.StopPrice == nil || candidate.GreaterThan(*t.StopPrice) {
			t.StopPrice = &candidate
		}
		if price.LessThanOrEqual(*t.StopPrice) {
			return DecisionTrailingStop
		}
	}

	return DecisionNone
}
