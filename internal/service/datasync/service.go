// Package datasync keeps the account's market view fresh: positions,
// orders and quotes are polled from the broker on a cadence that tracks
// the exchange trading window. Fetch failures back off exponentially and
// eventually force a re-authentication; stale data is retained, never
// cleared, so risk evaluation always has the last known book.
package datasync

import (
	"context"
	"math"
	"time"

	"killswitch/internal/account"
	"killswitch/internal/broker"
	"killswitch/internal/logger"
)

// MarketWindow reports whether t falls inside active trading hours.
type MarketWindow func(t time.Time) bool

type Service struct {
	state    *account.State
	client   broker.Client
	inMarket MarketWindow
}

func New(state *account.State, client broker.Client, inMarket MarketWindow) *Service {
	return &Service{state: state, client: client, inMarket: inMarket}
}

// Run is the sync loop. It exits when ctx is cancelled or the session
// deactivates.
func (s *Service) Run(ctx context.Context) {
	id := s.state.AccountID()
	consecutive := 0
	reauthed := false

	for {
		if ctx.Err() != nil || !s.state.SystemActive() {
			logger.Infof("[data] %s: sync loop exiting", id)
			return
		}
		cfg := s.state.Config()

		var sleep time.Duration
		if err := s.syncOnce(ctx); err != nil {
			consecutive++
			s.state.SetMarketStale()
			retry := cfg.Monitoring.Retry
			sleep = backoffDelay(consecutive,
				time.Duration(retry.BaseDelaySeconds*float64(time.Second)),
				time.Duration(retry.MaxDelaySeconds*float64(time.Second)))
			logger.Warnf("[data] %s: sync failed (attempt %d, next in %s): %v", id, consecutive, sleep, err)

			// One re-auth per failure streak; the counter keeps climbing
			// until a sync actually succeeds.
			if consecutive > retry.MaxRetries && !reauthed {
				reauthed = true
				logger.Warnf("[data] %s: %d consecutive failures, re-authenticating", id, consecutive)
				if err := s.client.Login(ctx); err != nil {
					logger.Errorf("[data] %s: re-authentication failed: %v", id, err)
				} else {
					logger.Infof("[data] %s: re-authentication ok", id)
				}
			}
		} else {
			consecutive = 0
			reauthed = false
			if s.inMarket(time.Now()) {
				sleep = cfg.PollInterval()
			} else {
				sleep = cfg.OffMarketInterval()
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(sleep):
		}
	}
}

// syncOnce fetches positions then orders; either failing fails the
// cycle. Quotes are best-effort: a missed quote poll keeps the previous
// prices and the cycle still counts as a success.
func (s *Service) syncOnce(ctx context.Context) error {
	positions, err := s.client.Positions(ctx)
	if err != nil {
		return err
	}
	orders, err := s.client.Orders(ctx)
	if err != nil {
		return err
	}
	s.state.UpdateMarket(positions, orders)

	if len(positions) == 0 {
		return nil
	}
	instruments := make([]broker.Instrument, 0, len(positions))
	for _, p := range positions {
		instruments = append(instruments, broker.Instrument{Token: p.Token, Segment: p.Segment})
	}
	quotes, err := s.client.QuoteLTP(ctx, instruments)
	if err != nil {
		logger.Warnf("[data] %s: quote sync failed, keeping previous prices: %v", s.state.AccountID(), err)
		return nil
	}
	s.state.MergeQuotes(quotes)
	return nil
}

// backoffDelay is min(base * 2^(n-1), max) for the nth consecutive failure.
func backoffDelay(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	d := float64(base) * math.Pow(2, float64(n-1))
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}
