package account

import (
	"strings"
	"time"
)

// Position is one normalized broker position leg. Quantities are already
// lot-size adjusted for derivative segments; amounts are cumulative
// (carry-forward + intraday) as reported by the broker.
type Position struct {
	Token       string  `json:"token"`
	Segment     string  `json:"segment"`
	Symbol      string  `json:"symbol"`
	Product     string  `json:"product"`
	NetQty      int     `json:"net_qty"`
	BuyAmt      float64 `json:"total_buy_amt"`
	SellAmt     float64 `json:"total_sell_amt"`
	Multiplier  float64 `json:"multiplier"`
	PriceFactor float64 `json:"price_factor"`
	LotSize     float64 `json:"lot_size"`
}

// HasActivity reports whether the leg carries any open quantity or traded
// amount. Legs with neither are dropped during sync.
func (p Position) HasActivity() bool {
	return p.NetQty != 0 || p.BuyAmt != 0 || p.SellAmt != 0
}

// Order is one normalized order-book row. Status and Side are upper-cased
// at the broker boundary.
type Order struct {
	ID        string `json:"order_id"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	Side      string `json:"transaction_type"`
	Token     string `json:"token"`
	Symbol    string `json:"symbol"`
	Qty       int    `json:"qty"`
	FilledQty int    `json:"filled_qty"`
}

// PendingQty never reports negative: some broker responses over-report
// fills during partial cancellation.
func (o Order) PendingQty() int {
	pending := o.Qty - o.FilledQty
	if pending < 0 {
		return 0
	}
	return pending
}

// FullyFilled is the authoritative completion predicate. The status string
// is only a secondary signal; fill quantities are what the exchange settled.
func (o Order) FullyFilled() bool {
	return o.Qty > 0 && o.FilledQty >= o.Qty
}

// IsStopLoss reports whether the order is a protective stop (SL or SL-M).
func (o Order) IsStopLoss() bool {
	switch strings.ToUpper(strings.TrimSpace(o.Type)) {
	case "SL", "SL-M":
		return true
	}
	return false
}

// KillHistory is the durable per-account kill record. LockedDate uses the
// broker's trading-day format (2006-01-02); empty means not locked.
type KillHistory struct {
	LockedDate string `mapstructure:"locked_date" yaml:"locked_date" json:"locked_date"`
	Timestamp  string `mapstructure:"timestamp" yaml:"timestamp" json:"timestamp"`
	Verified   bool   `mapstructure:"verified" yaml:"verified" json:"verified"`
}

const lockDateLayout = "2006-01-02"

// LockedOn reports whether the history locks the account for the given day.
func (h KillHistory) LockedOn(day time.Time) bool {
	date := strings.TrimSpace(h.LockedDate)
	if date == "" {
		return false
	}
	return date == day.Format(lockDateLayout)
}

// Lock returns a history locking the account for the given day.
func Lock(now time.Time, verified bool) KillHistory {
	return KillHistory{
		LockedDate: now.Format(lockDateLayout),
		Timestamp:  now.Format("2006-01-02 15:04:05"),
		Verified:   verified,
	}
}
