package datasync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killswitch/internal/account"
	"killswitch/internal/broker"
)

type stubClient struct {
	positions    []account.Position
	orders       []account.Order
	quotes       map[string]float64
	positionsErr error
	ordersErr    error
	quotesErr    error
	loginCalls   int
	quoteCalls   int
}

func (c *stubClient) Login(ctx context.Context) error { c.loginCalls++; return nil }

func (c *stubClient) Positions(ctx context.Context) ([]account.Position, error) {
	return c.positions, c.positionsErr
}

func (c *stubClient) Orders(ctx context.Context) ([]account.Order, error) {
	return c.orders, c.ordersErr
}

func (c *stubClient) QuoteLTP(ctx context.Context, instruments []broker.Instrument) (map[string]float64, error) {
	c.quoteCalls++
	return c.quotes, c.quotesErr
}

func (c *stubClient) PlaceExit(ctx context.Context, order broker.ExitOrder) (string, error) {
	return "", errors.New("not implemented")
}

func newTestState() *account.State {
	cfg := account.Config{Name: "Test"}
	cfg.Normalize()
	return account.NewState("ACC1", cfg, account.Credentials{}, time.Now())
}

func TestSyncOnceUpdatesMarketAndQuotes(t *testing.T) {
	client := &stubClient{
		positions: []account.Position{{Token: "53179", Segment: "nse_fo", NetQty: 2}},
		orders:    []account.Order{{ID: "o1"}},
		quotes:    map[string]float64{"53179": 120.5},
	}
	state := newTestState()
	svc := New(state, client, func(time.Time) bool { return true })

	require.NoError(t, svc.syncOnce(context.Background()))

	positions, orders, quotes := state.MarketView()
	assert.Len(t, positions, 1)
	assert.Len(t, orders, 1)
	assert.Equal(t, 120.5, quotes["53179"])
	assert.False(t, state.Risk().Stale)
}

func TestSyncOnceQuoteFailureStillSucceeds(t *testing.T) {
	client := &stubClient{
		positions: []account.Position{{Token: "53179", Segment: "nse_fo", NetQty: 2}},
		quotesErr: errors.New("gateway timeout"),
	}
	state := newTestState()
	state.MergeQuotes(map[string]float64{"53179": 118.0})
	svc := New(state, client, func(time.Time) bool { return true })

	require.NoError(t, svc.syncOnce(context.Background()))

	_, _, quotes := state.MarketView()
	assert.Equal(t, 118.0, quotes["53179"], "previous prices survive a failed quote poll")
}

func TestSyncOnceSkipsQuotesWithoutPositions(t *testing.T) {
	client := &stubClient{}
	state := newTestState()
	svc := New(state, client, func(time.Time) bool { return true })

	require.NoError(t, svc.syncOnce(context.Background()))
	assert.Zero(t, client.quoteCalls)
}

func TestSyncOnceFetchFailure(t *testing.T) {
	client := &stubClient{ordersErr: broker.ErrNotAuthenticated}
	state := newTestState()
	state.UpdateMarket([]account.Position{{Token: "1", NetQty: 1}}, nil)
	svc := New(state, client, func(time.Time) bool { return true })

	err := svc.syncOnce(context.Background())
	require.Error(t, err)

	// The previous book is retained on failure.
	positions, _, _ := state.MarketView()
	assert.Len(t, positions, 1)
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	max := 60 * time.Second

	assert.Equal(t, 2*time.Second, backoffDelay(1, base, max))
	assert.Equal(t, 4*time.Second, backoffDelay(2, base, max))
	assert.Equal(t, 16*time.Second, backoffDelay(4, base, max))
	assert.Equal(t, 60*time.Second, backoffDelay(10, base, max))
	assert.Equal(t, time.Second, backoffDelay(0, 0, 0), "defaults apply on zero inputs")
}
