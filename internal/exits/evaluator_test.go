package exits

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmirror/mirrorbot/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func safePosition() *domain.Position {
	return &domain.Position{
		ID:            "pos-1",
		Asset:         "So11111111111111111111111111111111111111112",
		TradeMode:     domain.TradeModeSafe,
		EntryPrice:    dec("1.00"),
		HighestPrice:  dec("1.00"),
		TakeProfitPct: decPtr("20"),
		StopLossPct:   decPtr("10"),
		Status:        domain.PositionStatusActive,
	}
}

func TestEvaluateTakeProfitStopLoss(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  Decision
	}{
		{"take profit at +21%", "1.21", DecisionTakeProfit},
		{"take profit exactly at threshold", "1.20", DecisionTakeProfit},
		{"stop loss at -11%", "0.89", DecisionStopLoss},
		{"stop loss exactly at threshold", "0.90", DecisionStopLoss},
		{"inside the band", "1.05", DecisionNone},
		{"unchanged", "1.00", DecisionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(safePosition(), dec(tt.price))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateExactModeNeverExits(t *testing.T) {
	p := safePosition()
	p.TradeMode = domain.TradeModeExact

	assert.Equal(t, DecisionNone, Evaluate(p, dec("10.0")))
	assert.Equal(t, DecisionNone, Evaluate(p, dec("0.0001")))
}

func TestEvaluateTrailingStopLifecycle(t *testing.T) {
	p := safePosition()
	p.TakeProfitPct = nil
	p.StopLossPct = nil
	p.Trailing = &domain.TrailingStop{
		DistancePct:   dec("10"),
		ActivationPct: dec("15"),
	}

	// Below activation: nothing happens.
	assert.Equal(t, DecisionNone, Evaluate(p, dec("1.10")))
	assert.False(t, p.Trailing.Activated)
	assert.Nil(t, p.Trailing.StopPrice)

	// 1.20 crosses the +15% activation threshold: stop set at 1.08.
	assert.Equal(t, DecisionNone, Evaluate(p, dec("1.20")))
	require.True(t, p.Trailing.Activated)
	require.NotNil(t, p.Trailing.StopPrice)
	assert.True(t, p.Trailing.StopPrice.Equal(dec("1.08")),
		"stop = %s, want 1.08", p.Trailing.StopPrice)

	// New high 1.30 ratchets the stop to 1.17.
	assert.Equal(t, DecisionNone, Evaluate(p, dec("1.30")))
	assert.True(t, p.Trailing.StopPrice.Equal(dec("1.17")),
		"stop = %s, want 1.17", p.Trailing.StopPrice)
	assert.True(t, p.HighestPrice.Equal(dec("1.30")))

	// Price above the stop: still open, stop does not loosen.
	assert.Equal(t, DecisionNone, Evaluate(p, dec("1.25")))
	assert.True(t, p.Trailing.StopPrice.Equal(dec("1.17")))

	// 1.16 breaches the 1.17 stop.
	assert.Equal(t, DecisionTrailingStop, Evaluate(p, dec("1.16")))
}

func TestEvaluateTrailingStopNeverDecreases(t *testing.T) {
	p := safePosition()
	p.TakeProfitPct = nil
	p.StopLossPct = nil
	p.Trailing = &domain.TrailingStop{
		DistancePct:   dec("10"),
		ActivationPct: dec("15"),
	}

	prices := []string{"1.20", "1.28", "1.22", "1.30", "1.19", "1.40", "1.30"}
	var last decimal.Decimal
	for _, ps := range prices {
		Evaluate(p, dec(ps))
		require.NotNil(t, p.Trailing.StopPrice)
		assert.True(t, p.Trailing.StopPrice.GreaterThanOrEqual(last),
			"stop price decreased: %s < %s after tick %s", p.Trailing.StopPrice, last, ps)
		last = *p.Trailing.StopPrice
	}
}

func TestEvaluateTakeProfitWinsOverTrailing(t *testing.T) {
	p := safePosition()
	p.Trailing = &domain.TrailingStop{
		DistancePct:   dec("10"),
		ActivationPct: dec("5"),
	}

	// +21% crosses both activation and take-profit; take-profit is checked
	// first.
	assert.Equal(t, DecisionTakeProfit, Evaluate(p, dec("1.21")))
}

func TestEvaluateZeroEntryPrice(t *testing.T) {
	p := safePosition()
	p.EntryPrice = decimal.Zero

	assert.Equal(t, DecisionNone, Evaluate(p, dec("1.50")))
}
