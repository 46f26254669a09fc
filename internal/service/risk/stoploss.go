package risk

import "killswitch/internal/account"

// Statuses accepted as completion when fill quantities are unavailable.
var completeStatuses = map[string]bool{
	"COMPLETE": true,
	"TRADED":   true,
	"FILLED":   true,
}

// SLHit scans the order book for an executed protective stop on the short
// side. A buy-side SL or SL-M fill means the short leg's stop was taken
// out. filledQty == qty is the authoritative completion predicate; the
// status string is consulted only when the report carries no quantities.
func SLHit(orders []account.Order) bool {
	for _, o := range orders {
		if !o.IsStopLoss() {
			continue
		}
		if o.Side != "B" {
			continue
		}
		if orderComplete(o) {
			return true
		}
	}
	return false
}

func orderComplete(o account.Order) bool {
	if o.Qty > 0 {
		return o.FullyFilled()
	}
	return completeStatuses[o.Status]
}

// ShouldTrigger is the composite kill condition: the mark-to-market loss
// breached the limit and, when fill confirmation is required, a stop-loss
// fill was also observed.
func ShouldTrigger(mtm, limit float64, requireFillConfirmation, slHit bool) bool {
	if mtm > limit {
		return false
	}
	if requireFillConfirmation && !slHit {
		return false
	}
	return true
}
