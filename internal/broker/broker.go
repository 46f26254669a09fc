package broker

import (
	"context"
	"errors"

	"killswitch/internal/account"
)

// ErrNotAuthenticated is returned by data calls placed before Login or
// after the session token expired.
var ErrNotAuthenticated = errors.New("broker: session not authenticated")

// Side of an order in broker notation.
type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "S"
)

// ExitOrder describes a market order that flattens part of a position.
type ExitOrder struct {
	Token    string
	Segment  string
	Symbol   string
	Product  string
	Side     Side
	Quantity int
}

// Client is the read/trade surface the session services depend on. The
// concrete Kotak implementation lives in broker/kotak; tests substitute
// a mock.
type Client interface {
	// Login performs the full authentication handshake and must be safe
	// to call again on an expired session.
	Login(ctx context.Context) error

	// Positions returns the normalized open positions. An empty slice is
	// a valid flat book.
	Positions(ctx context.Context) ([]account.Position, error)

	// Orders returns the order report for the current trading day.
	Orders(ctx context.Context) ([]account.Order, error)

	// QuoteLTP returns last traded prices keyed by instrument token for
	// the requested (token, segment) pairs.
	QuoteLTP(ctx context.Context, instruments []Instrument) (map[string]float64, error)

	// PlaceExit submits a market order that reduces an open position.
	PlaceExit(ctx context.Context, order ExitOrder) (orderID string, err error)
}

// Instrument identifies one tradable for the quote API.
type Instrument struct {
	Token   string
	Segment string
}
