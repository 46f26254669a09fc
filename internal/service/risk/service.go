package risk

import (
	"context"
	"time"

	"killswitch/internal/account"
	"killswitch/internal/logger"
	"killswitch/internal/notifier"
)

// SampleRecorder persists one MTM observation per evaluation cycle.
// Implementations must be cheap; failures are logged and ignored.
type SampleRecorder interface {
	Record(accountID string, at time.Time, mtm, limit float64, slHit bool) error
}

// Service re-evaluates the trigger condition against the shared market
// view every cycle. Evaluation is idempotent: once the trigger latches
// it never re-fires or mutates further.
type Service struct {
	state    *account.State
	notify   *notifier.AccountNotifier
	recorder SampleRecorder
}

func New(state *account.State, notify *notifier.AccountNotifier, recorder SampleRecorder) *Service {
	return &Service{state: state, notify: notify, recorder: recorder}
}

func (s *Service) Run(ctx context.Context) {
	id := s.state.AccountID()
	for {
		if ctx.Err() != nil || !s.state.SystemActive() {
			logger.Infof("[risk] %s: evaluation loop exiting", id)
			return
		}
		s.evaluate()

		select {
		case <-ctx.Done():
		case <-time.After(s.state.Config().PollInterval()):
		}
	}
}

func (s *Service) evaluate() {
	id := s.state.AccountID()
	cfg := s.state.Config()
	positions, orders, quotes := s.state.MarketView()

	mtm := MTM(positions, quotes)
	slHit := SLHit(orders)
	s.state.UpdateRisk(mtm, slHit)

	rv := s.state.Risk()
	logger.Debugf("[risk] %s: mtm=%.2f limit=%.2f distance=%.2f sl_hit=%t stale=%t",
		id, rv.MTMCurrent, rv.MTMLimit, rv.MTMDistance, rv.SLHit, rv.Stale)

	if s.recorder != nil {
		if err := s.recorder.Record(id, time.Now(), rv.MTMCurrent, rv.MTMLimit, rv.SLHit); err != nil {
			logger.Warnf("[risk] %s: sample record failed: %v", id, err)
		}
	}

	if !ShouldTrigger(rv.MTMCurrent, rv.MTMLimit, cfg.KillSwitch.RequireFillConfirmation, rv.SLHit) {
		return
	}
	if !s.state.LatchTrigger() {
		return
	}
	logger.Errorf("[risk] %s: KILL TRIGGERED mtm=%.2f limit=%.2f sl_hit=%t", id, rv.MTMCurrent, rv.MTMLimit, rv.SLHit)
	if s.notify != nil {
		s.notify.Notify("KILL TRIGGERED: MTM %.2f breached limit %.2f (sl_hit=%t)", rv.MTMCurrent, rv.MTMLimit, rv.SLHit)
	}
}
