package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"killswitch/internal/account"
)

func TestMTMRealizedOnly(t *testing.T) {
	positions := []account.Position{
		{Token: "100", NetQty: 0, BuyAmt: 1000, SellAmt: 1250, Multiplier: 1, PriceFactor: 1},
	}
	mtm := MTM(positions, map[string]float64{})
	assert.InDelta(t, 250.0, mtm, 1e-9)
}

func TestMTMWithOpenLeg(t *testing.T) {
	positions := []account.Position{
		{Token: "100", NetQty: 2, BuyAmt: 5000, SellAmt: 0, Multiplier: 1, PriceFactor: 1},
	}
	quotes := map[string]float64{"100": 2400}
	// realized -5000, unrealized 2*2400 = 4800
	assert.InDelta(t, -200.0, MTM(positions, quotes), 1e-9)
}

func TestMTMPriceFactorApplied(t *testing.T) {
	positions := []account.Position{
		{Token: "7", NetQty: -10, BuyAmt: 0, SellAmt: 9000, Multiplier: 1, PriceFactor: 0.5},
	}
	quotes := map[string]float64{"7": 880}
	// realized 9000, unrealized -10*880*0.5 = -4400
	assert.InDelta(t, 4600.0, MTM(positions, quotes), 1e-9)
}

func TestMTMMissingQuoteSkipsUnrealized(t *testing.T) {
	positions := []account.Position{
		{Token: "1", NetQty: 5, BuyAmt: 100, SellAmt: 40, Multiplier: 1, PriceFactor: 1},
	}
	assert.InDelta(t, -60.0, MTM(positions, nil), 1e-9)
}

func TestMTMDecimalAccumulation(t *testing.T) {
	// 0.1 added ten times must be exactly 1.0 in currency terms.
	positions := make([]account.Position, 10)
	for i := range positions {
		positions[i] = account.Position{Token: "x", NetQty: 0, BuyAmt: 0, SellAmt: 0.1}
	}
	assert.Equal(t, 1.0, MTM(positions, nil))
}

func TestSLHitRequiresBuySide(t *testing.T) {
	orders := []account.Order{
		{ID: "1", Type: "SL-M", Side: "S", Qty: 50, FilledQty: 50},
	}
	assert.False(t, SLHit(orders))

	orders[0].Side = "B"
	assert.True(t, SLHit(orders))
}

func TestSLHitFillQuantityIsAuthoritative(t *testing.T) {
	// Status says complete but the fill is partial: not a hit.
	partial := []account.Order{
		{ID: "1", Type: "SL", Side: "B", Status: "COMPLETE", Qty: 100, FilledQty: 60},
	}
	assert.False(t, SLHit(partial))

	// Fully filled with a lagging status string: a hit.
	filled := []account.Order{
		{ID: "2", Type: "SL", Side: "B", Status: "OPEN", Qty: 100, FilledQty: 100},
	}
	assert.True(t, SLHit(filled))
}

func TestSLHitStatusFallbackWithoutQuantities(t *testing.T) {
	orders := []account.Order{
		{ID: "1", Type: "SL-M", Side: "B", Status: "TRADED"},
	}
	assert.True(t, SLHit(orders))

	orders[0].Status = "REJECTED"
	assert.False(t, SLHit(orders))
}

func TestSLHitIgnoresNonStopOrders(t *testing.T) {
	orders := []account.Order{
		{ID: "1", Type: "MKT", Side: "B", Qty: 10, FilledQty: 10},
		{ID: "2", Type: "L", Side: "B", Qty: 10, FilledQty: 10},
	}
	assert.False(t, SLHit(orders))
}

func TestShouldTriggerBreachAlone(t *testing.T) {
	assert.True(t, ShouldTrigger(-12000, -10000, false, false))
}

func TestShouldTriggerNeedsFillConfirmation(t *testing.T) {
	assert.False(t, ShouldTrigger(-12000, -10000, true, false))
	assert.True(t, ShouldTrigger(-12000, -10000, true, true))
}

func TestShouldTriggerNoBreach(t *testing.T) {
	assert.False(t, ShouldTrigger(-9999.99, -10000, false, true))
	// Exact touch counts as a breach.
	assert.True(t, ShouldTrigger(-10000, -10000, false, false))
}
