// Package risk holds the pure trigger computations: mark-to-market
// valuation over the position book and stop-loss fill detection over the
// order book. Both are side-effect free so the risk loop and tests call
// them directly.
package risk

import (
	"github.com/shopspring/decimal"

	"killswitch/internal/account"
)

// MTM values the book against last traded prices.
//
// Per leg: realized = sellAmt - buyAmt, unrealized = netQty * ltp *
// multiplier * priceFactor. Legs whose token has no quote contribute only
// their realized component, matching a missing-price valuation of zero.
// Accumulation is decimal to keep paise exact across many legs.
func MTM(positions []account.Position, quotes map[string]float64) float64 {
	total := decimal.Zero
	for _, p := range positions {
		realized := decimal.NewFromFloat(p.SellAmt).Sub(decimal.NewFromFloat(p.BuyAmt))
		total = total.Add(realized)

		if p.NetQty == 0 {
			continue
		}
		ltp, ok := quotes[p.Token]
		if !ok || ltp == 0 {
			continue
		}
		unrealized := decimal.NewFromInt(int64(p.NetQty)).
			Mul(decimal.NewFromFloat(ltp)).
			Mul(decimal.NewFromFloat(p.Multiplier)).
			Mul(decimal.NewFromFloat(p.PriceFactor))
		total = total.Add(unrealized)
	}
	f, _ := total.Float64()
	return f
}
