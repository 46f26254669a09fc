// Package supervisor owns session lifecycles: it boots the per-account
// service group, watches task liveness, and exposes the operator
// operations (start, stop, refresh, manual kill, lock reset).
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"killswitch/internal/account"
	"killswitch/internal/broker"
	"killswitch/internal/configstore"
	"killswitch/internal/killaction"
	"killswitch/internal/logger"
	"killswitch/internal/notifier"
	"killswitch/internal/service/configwatch"
	"killswitch/internal/service/datasync"
	"killswitch/internal/service/kill"
	"killswitch/internal/service/risk"
	"killswitch/internal/service/snapshot"
	"killswitch/internal/task"
)

const (
	taskData     = "data"
	taskRisk     = "risk"
	taskKill     = "kill"
	taskConfig   = "config"
	taskSnapshot = "snapshot"
)

// Collaborators is everything the supervisor needs to assemble one
// account session. Factories keep the package free of transport details.
type Collaborators struct {
	Store       *configstore.Store
	Credentials map[string]account.Credentials

	NewClient   func(id string, creds account.Credentials) broker.Client
	NewKiller   func(id string, cfg account.AutomationConfig, creds account.Credentials, otp killaction.OTPProvider) killaction.Killer
	NewVerifier func(id string, creds account.Credentials) (kill.Verifier, error)
	NewNotifier func(id string, creds account.Credentials) *notifier.AccountNotifier

	Events  kill.EventRecorder
	Samples risk.SampleRecorder

	InMarket datasync.MarketWindow
	Location *time.Location

	SnapshotDir      string
	SnapshotInterval time.Duration
	WatchdogInterval time.Duration
	StopTimeout      time.Duration
}

type session struct {
	id       string
	state    *account.State
	registry *task.Registry
	client   broker.Client
	cancel   context.CancelFunc
	runners  map[string]task.Runner
}

type Supervisor struct {
	deps Collaborators

	mu       sync.Mutex
	sessions map[string]*session
	booting  map[string]bool
}

func New(deps Collaborators) *Supervisor {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.WatchdogInterval <= 0 {
		deps.WatchdogInterval = 5 * time.Second
	}
	if deps.StopTimeout <= 0 {
		deps.StopTimeout = 10 * time.Second
	}
	return &Supervisor{
		deps:     deps,
		sessions: make(map[string]*session),
		booting:  make(map[string]bool),
	}
}

// AccountIDs lists the accounts the store knows about.
func (s *Supervisor) AccountIDs() []string {
	return s.deps.Store.AccountIDs()
}

// StartSession boots all services for one account. If the persisted kill
// history locks today, the session comes up in observer mode with Risk
// and Kill suppressed.
func (s *Supervisor) StartSession(ctx context.Context, id string) error {
	// The boot marker holds the slot across the slow login path so a
	// concurrent start for the same account cannot spawn a second
	// service group with its own kill latch.
	s.mu.Lock()
	if s.booting[id] {
		s.mu.Unlock()
		return fmt.Errorf("session %q already starting", id)
	}
	if existing, ok := s.sessions[id]; ok && existing.state.SystemActive() {
		s.mu.Unlock()
		return fmt.Errorf("session %q already running", id)
	}
	s.booting[id] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.booting, id)
		s.mu.Unlock()
	}()

	cfg, ok := s.deps.Store.Account(id)
	if !ok {
		return fmt.Errorf("unknown account %q", id)
	}
	creds, ok := s.deps.Credentials[id]
	if !ok {
		return fmt.Errorf("no credentials for account %q", id)
	}

	now := time.Now().In(s.deps.Location)
	state := account.NewState(id, cfg, creds, now)
	locked := state.LockedToday()
	if !locked {
		state.SetStage(account.StageBooting)
	}
	logger.Infof("[sup] %s: starting session (locked_today=%t)", id, locked)

	client := s.deps.NewClient(id, creds)
	if err := client.Login(ctx); err != nil {
		state.Fail(fmt.Sprintf("authentication failed: %v", err))
		logger.Errorf("[sup] %s: authentication failed: %v", id, err)
		return fmt.Errorf("authenticate %q: %w", id, err)
	}

	verifier, err := s.deps.NewVerifier(id, creds)
	if err != nil {
		logger.Warnf("[sup] %s: mail verifier unavailable, kills will be unverified: %v", id, err)
	}
	notify := s.deps.NewNotifier(id, creds)

	sessionID := uuid.NewString()
	state.BeginSession(now, sessionID)
	logger.Infof("[sup] %s: session id %s", id, sessionID)

	sessCtx, cancel := context.WithCancel(context.Background())
	registry := task.NewRegistry()
	sess := &session{
		id:       id,
		state:    state,
		registry: registry,
		client:   client,
		cancel:   cancel,
		runners:  make(map[string]task.Runner),
	}

	dataSvc := datasync.New(state, client, s.deps.InMarket)
	cfgSvc := configwatch.New(state, s.deps.Store)
	snapSvc := snapshot.New(state, s.deps.SnapshotDir, s.deps.SnapshotInterval)
	sess.runners[taskData] = dataSvc.Run
	sess.runners[taskConfig] = cfgSvc.Run
	sess.runners[taskSnapshot] = snapSvc.Run

	if !locked {
		var otp killaction.OTPProvider
		if g, ok := verifier.(killaction.OTPProvider); ok {
			otp = g
		}
		killer := s.deps.NewKiller(id, cfg.WebAutomation, creds, otp)
		riskSvc := risk.New(state, notify, s.deps.Samples)
		killSvc := kill.New(state, client, killer, verifier, s.deps.Store, s.deps.Events, notify, s.deps.Location)
		sess.runners[taskRisk] = riskSvc.Run
		sess.runners[taskKill] = killSvc.Run
	}

	for name, run := range sess.runners {
		registry.Spawn(sessCtx, name, run)
	}
	go s.watchdog(sessCtx, sess)

	if locked {
		state.SetStage(account.StageLockedView)
	} else {
		state.SetStage(account.StageRunning)
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	logger.Infof("[sup] %s: session running with %d services", id, len(sess.runners))
	return nil
}

// StopSession deactivates the session and joins its tasks with a bounded
// timeout. In-flight collaborator calls may drain past the timeout; that
// is logged and tolerated.
func (s *Supervisor) StopSession(id string) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	logger.Infof("[sup] %s: stopping session", id)
	sess.state.SetStage(account.StageStopping)
	sess.state.SetSystemActive(false)
	sess.cancel()
	if !sess.registry.StopAll(s.deps.StopTimeout) {
		logger.Warnf("[sup] %s: some tasks did not stop within %s", id, s.deps.StopTimeout)
	}
	sess.client = nil
	sess.state.EndSession()
	logger.Infof("[sup] %s: session stopped", id)
	return nil
}

// StopAll stops every running session, used at process shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.state.SystemActive() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.StopSession(id); err != nil {
			logger.Warnf("[sup] %s: stop failed: %v", id, err)
		}
	}
}

// RefreshSession re-authenticates the broker client without disturbing
// the running services.
func (s *Supervisor) RefreshSession(ctx context.Context, id string) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	if sess.client == nil {
		return fmt.Errorf("session %q has no broker client", id)
	}
	logger.Infof("[sup] %s: refreshing broker session", id)
	return sess.client.Login(ctx)
}

// TriggerKillManually latches the kill trigger as if risk had fired.
func (s *Supervisor) TriggerKillManually(id string) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	if sess.state.LockedToday() {
		return fmt.Errorf("account %q is locked for the day", id)
	}
	if !sess.state.LatchTrigger() {
		return fmt.Errorf("kill already triggered for %q", id)
	}
	logger.Errorf("[sup] %s: kill triggered manually", id)
	return nil
}

// SetKillSwitchEnabled flips the master enable flag, both durably and in
// the live session if one is running.
func (s *Supervisor) SetKillSwitchEnabled(id string, enabled bool) error {
	if err := s.deps.Store.SetKillSwitchEnabled(id, enabled); err != nil {
		return err
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.state.SetKillSwitchEnabled(enabled)
	}
	logger.Warnf("[sup] %s: kill switch enabled=%t", id, enabled)
	return nil
}

// ResetDailyLock clears the persisted lock record (operator override).
// A locked session must be restarted afterwards to resume enforcement.
func (s *Supervisor) ResetDailyLock(id string) error {
	if err := s.deps.Store.ClearKillHistory(id); err != nil {
		return err
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.state.SetLockedToday(false)
	}
	logger.Warnf("[sup] %s: daily lock reset by operator", id)
	return nil
}

// Snapshot returns the live state summary for one account.
func (s *Supervisor) Snapshot(id string) (account.Summary, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return account.Summary{}, fmt.Errorf("no session for account %q", id)
	}
	return sess.state.Summary(time.Now().In(s.deps.Location)), nil
}

func (s *Supervisor) active(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.state.SystemActive() {
		return nil, fmt.Errorf("no running session for account %q", id)
	}
	return sess, nil
}

// watchdog respawns core services whose task has died. The kill task is
// exempt once the kill executed (its exit is the happy path) and after a
// kill-action failure (no automatic retry of an irreversible action).
func (s *Supervisor) watchdog(ctx context.Context, sess *session) {
	id := sess.id
	ticker := time.NewTicker(s.deps.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[sup] %s: watchdog exiting", id)
			return
		case <-ticker.C:
		}
		if !sess.state.SystemActive() {
			logger.Infof("[sup] %s: watchdog exiting", id)
			return
		}
		for name, run := range sess.runners {
			if sess.registry.Alive(name) {
				continue
			}
			if name == taskKill {
				if sess.state.KillExecuted() || sess.state.Stage() == account.StageError {
					continue
				}
			}
			logger.Warnf("[sup] %s: service %q died, respawning", id, name)
			sess.registry.Remove(name)
			sess.registry.Spawn(ctx, name, run)
		}
	}
}
