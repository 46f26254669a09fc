// Package kill owns the execution state machine: once the risk trigger
// latches, it squares off positions, fires the irreversible external
// kill action and hands verification to a detached task. A kill executes
// at most once per session; the durable daily lock survives restarts.
package kill

import (
	"context"
	"fmt"
	"time"

	"killswitch/internal/account"
	"killswitch/internal/broker"
	"killswitch/internal/killaction"
	"killswitch/internal/logger"
	"killswitch/internal/notifier"
)

// observeInterval is the trigger polling cadence.
const observeInterval = time.Second

// HistoryWriter persists the durable kill record.
type HistoryWriter interface {
	SaveKillHistory(id string, h account.KillHistory) error
}

// Verifier confirms the kill took effect on the broker side.
type Verifier interface {
	WaitForConfirmation(ctx context.Context, since time.Time, sender, subjectContains string, pollEvery time.Duration) error
}

// EventRecorder appends to the audit trail. Best-effort.
type EventRecorder interface {
	Record(accountID, event, detail string, fields map[string]any) error
}

type Service struct {
	state    *account.State
	client   broker.Client
	killer   killaction.Killer
	verifier Verifier
	history  HistoryWriter
	events   EventRecorder
	notify   *notifier.AccountNotifier
	loc      *time.Location

	interval       time.Duration
	warnedDisabled bool
}

func New(state *account.State, client broker.Client, killer killaction.Killer, verifier Verifier,
	history HistoryWriter, events EventRecorder, notify *notifier.AccountNotifier, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		state: state, client: client, killer: killer, verifier: verifier,
		history: history, events: events, notify: notify, loc: loc,
		interval: observeInterval,
	}
}

// Run observes the trigger until it fires, executes the sequence once
// and returns. The other session services keep running after it exits.
func (s *Service) Run(ctx context.Context) {
	id := s.state.AccountID()
	for {
		if ctx.Err() != nil || !s.state.SystemActive() {
			logger.Infof("[kill] %s: observer loop exiting", id)
			return
		}
		triggered, executed := s.state.TriggerPending()
		if triggered && !executed {
			if !s.state.Config().KillSwitch.Enabled {
				// Fail-safe: monitoring without live enforcement.
				// Warn once per latch, not once per poll.
				if !s.warnedDisabled {
					logger.Warnf("[kill] %s: trigger latched but kill switch disabled, no action", id)
					s.warnedDisabled = true
				}
			} else {
				s.execute(ctx)
				return
			}
		} else {
			s.warnedDisabled = false
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.interval):
		}
	}
}

func (s *Service) execute(ctx context.Context) {
	id := s.state.AccountID()
	cfg := s.state.Config()

	rv := s.state.Risk()
	s.state.SetStage(account.StageKilling)
	s.recordCtx("KILLING", "kill sequence started", map[string]any{
		"mtm":    rv.MTMCurrent,
		"limit":  rv.MTMLimit,
		"sl_hit": rv.SLHit,
		"stale":  rv.Stale,
	})
	logger.Errorf("[kill] %s: executing kill sequence", id)
	if s.notify != nil {
		s.notify.Notify("EXECUTING KILL SWITCH")
	}

	if cfg.KillSwitch.AutoSquareOff {
		// Fire-and-forget, concurrent with the kill action. A failed
		// partial close must not prevent the kill itself.
		go s.squareOff(context.WithoutCancel(ctx))
	}

	if err := s.killer.Execute(ctx); err != nil {
		msg := fmt.Sprintf("kill action failed: %v", err)
		s.state.Fail(msg)
		s.record("ERROR", msg)
		logger.Errorf("[kill] %s: %s", id, msg)
		if s.notify != nil {
			s.notify.Notify("KILL ACTION FAILED: %v — operator intervention required", err)
		}
		return
	}

	killedAt := time.Now().In(s.loc)
	s.state.MarkKillExecuted()
	s.state.SetLockedToday(true)
	s.record("KILLED", "kill action completed")

	if cfg.Verification.Enabled && s.verifier == nil {
		logger.Warnf("[kill] %s: verification enabled but no verifier available", id)
		cfg.Verification.Enabled = false
	}
	if !cfg.Verification.Enabled {
		s.persistLock(killedAt, false)
		s.state.SetStage(account.StageKilledNoVerify)
		s.record("KILLED_NO_VERIFY", "verification disabled, lock persisted")
		if s.notify != nil {
			s.notify.Notify("KILL COMPLETE (verification disabled); account locked for the day")
		}
		return
	}

	// Lock durability first: if the process dies before verification
	// finishes we must still boot locked tomorrow-side of a restart.
	s.persistLock(killedAt, false)
	s.state.SetStage(account.StageKilledWaiting)
	s.record("KILLED_WAITING", "awaiting broker confirmation")
	if s.notify != nil {
		s.notify.Notify("KILL COMPLETE, awaiting confirmation email")
	}

	// Detached on purpose: it outlives this loop and is not watched by
	// the watchdog; a timeout is a defined outcome, not a failure.
	go s.verifyDetached(killedAt, cfg.Verification)
}

func (s *Service) verifyDetached(killedAt time.Time, vc account.VerificationConfig) {
	id := s.state.AccountID()
	timeout := time.Duration(vc.TimeoutSeconds) * time.Second
	poll := time.Duration(vc.PollIntervalSeconds) * time.Second
	since := killedAt.Add(-time.Duration(vc.LookbackMinutes) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.verifier.WaitForConfirmation(ctx, since, vc.SenderFilter, vc.SubjectContains, poll)
	if err == nil {
		s.persistLock(killedAt, true)
		s.state.SetStage(account.StageKilledVerified)
		s.record("KILLED_VERIFIED", "broker confirmation received")
		logger.Infof("[kill] %s: kill verified", id)
		if s.notify != nil {
			s.notify.Notify("KILL VERIFIED by broker confirmation")
		}
		return
	}
	// Timeout keeps the lock; only the verified flag differs.
	s.persistLock(killedAt, false)
	s.state.SetStage(account.StageKilledUnverified)
	s.record("KILLED_UNVERIFIED", fmt.Sprintf("no confirmation within %s: %v", timeout, err))
	logger.Warnf("[kill] %s: kill unverified after %s, lock retained: %v", id, timeout, err)
	if s.notify != nil {
		s.notify.Notify("KILL UNVERIFIED after %s; account stays locked", timeout)
	}
}

func (s *Service) persistLock(killedAt time.Time, verified bool) {
	h := account.Lock(killedAt, verified)
	if err := s.history.SaveKillHistory(s.state.AccountID(), h); err != nil {
		logger.Errorf("[kill] %s: persisting kill history failed: %v", s.state.AccountID(), err)
	}
}

// squareOff re-fetches the live book and closes every open leg with a
// market order. Errors are logged per leg and never abort the sweep.
func (s *Service) squareOff(ctx context.Context) {
	id := s.state.AccountID()
	logger.Warnf("[kill] %s: auto square-off started", id)
	s.record("SQUARE_OFF", "auto square-off started")

	positions, err := s.client.Positions(ctx)
	if err != nil {
		logger.Errorf("[kill] %s: square-off position fetch failed: %v", id, err)
		return
	}
	placed := 0
	for _, p := range positions {
		if p.NetQty == 0 {
			continue
		}
		side := broker.SideSell
		if p.NetQty < 0 {
			side = broker.SideBuy
		}
		qty := p.NetQty
		if qty < 0 {
			qty = -qty
		}
		// Normalized quantities are in lots for derivatives; orders go
		// out in exchange units.
		if p.LotSize > 1 {
			qty = int(float64(qty) * p.LotSize)
		}
		orderID, err := s.client.PlaceExit(ctx, broker.ExitOrder{
			Token:    p.Token,
			Segment:  p.Segment,
			Symbol:   p.Symbol,
			Product:  p.Product,
			Side:     side,
			Quantity: qty,
		})
		if err != nil {
			logger.Errorf("[kill] %s: exit %s failed: %v", id, p.Symbol, err)
			continue
		}
		logger.Warnf("[kill] %s: exit placed %s %s qty=%d order=%s", id, side, p.Symbol, qty, orderID)
		placed++
		time.Sleep(100 * time.Millisecond)
	}
	logger.Warnf("[kill] %s: auto square-off complete, %d exit orders", id, placed)
	s.record("SQUARE_OFF", fmt.Sprintf("complete, %d exit orders", placed))
}

func (s *Service) record(event, detail string) {
	s.recordCtx(event, detail, nil)
}

func (s *Service) recordCtx(event, detail string, fields map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(s.state.AccountID(), event, detail, fields); err != nil {
		logger.Warnf("[kill] %s: event record failed: %v", s.state.AccountID(), err)
	}
}
