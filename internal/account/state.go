package account

import (
	"sync"
	"time"
)

// State is the per-account aggregate shared by every session service.
// All fields are guarded by one mutex; accessors keep the critical section
// to plain field reads/writes so the lock is never held across broker I/O,
// browser automation or mail polling.
//
// Accounts are fully independent: there is no cross-account locking.
type State struct {
	id string

	mu    sync.Mutex
	cfg   Config
	creds Credentials

	positions []Position
	orders    []Order
	quotes    map[string]float64

	mtmCurrent  float64
	mtmLimit    float64
	slHit       bool
	staleMarket bool

	systemActive bool
	triggerKill  bool
	killExecuted bool
	lockedToday  bool

	stage        Stage
	errorMessage string
	sessionID    string
	sessionStart time.Time
}

// NewState builds the aggregate from the loaded store sections. If the
// persisted kill history locks today, the account boots in observer mode
// regardless of any other configuration.
func NewState(id string, cfg Config, creds Credentials, now time.Time) *State {
	cfg.Normalize()
	s := &State{
		id:       id,
		cfg:      cfg,
		creds:    creds,
		quotes:   make(map[string]float64),
		mtmLimit: cfg.MTMLimit(),
		stage:    StageIdle,
	}
	if cfg.KillHistory.LockedOn(now) {
		s.lockedToday = true
		s.stage = StageLockedView
	}
	return s
}

func (s *State) AccountID() string { return s.id }

func (s *State) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ApplyConfig atomically republishes a reloaded config section together
// with the derived MTM limit.
func (s *State) ApplyConfig(cfg Config) {
	cfg.Normalize()
	s.mu.Lock()
	s.cfg = cfg
	s.mtmLimit = cfg.MTMLimit()
	s.mu.Unlock()
}

// SetKillSwitchEnabled flips only the master enable flag.
func (s *State) SetKillSwitchEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.KillSwitch.Enabled = enabled
	s.mu.Unlock()
}

func (s *State) Credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *State) SetCredentials(creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
}

// UpdateMarket replaces positions and orders after a successful sync.
// It is never called on a failed fetch, so stale-but-valid data survives
// broker outages.
func (s *State) UpdateMarket(positions []Position, orders []Order) {
	s.mu.Lock()
	s.positions = positions
	s.orders = orders
	s.staleMarket = false
	s.mu.Unlock()
}

// MergeQuotes folds fresh LTPs into the quote map. Tokens absent from the
// update keep their previous price.
func (s *State) MergeQuotes(quotes map[string]float64) {
	if len(quotes) == 0 {
		return
	}
	s.mu.Lock()
	for token, ltp := range quotes {
		s.quotes[token] = ltp
	}
	s.mu.Unlock()
}

func (s *State) SetMarketStale() {
	s.mu.Lock()
	s.staleMarket = true
	s.mu.Unlock()
}

// MarketView returns copies of the market slices so callers can iterate
// without holding the lock.
func (s *State) MarketView() ([]Position, []Order, map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions := make([]Position, len(s.positions))
	copy(positions, s.positions)
	orders := make([]Order, len(s.orders))
	copy(orders, s.orders)
	quotes := make(map[string]float64, len(s.quotes))
	for token, ltp := range s.quotes {
		quotes[token] = ltp
	}
	return positions, orders, quotes
}

// RiskView is the snapshot of the risk block observers receive.
type RiskView struct {
	MTMCurrent  float64 `json:"mtm_current"`
	MTMLimit    float64 `json:"mtm_limit"`
	MTMDistance float64 `json:"mtm_distance"`
	SLHit       bool    `json:"sl_hit_status"`
	Stale       bool    `json:"market_stale"`
}

func (s *State) UpdateRisk(mtm float64, slHit bool) {
	s.mu.Lock()
	s.mtmCurrent = mtm
	s.slHit = slHit
	s.mu.Unlock()
}

func (s *State) Risk() RiskView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RiskView{
		MTMCurrent:  s.mtmCurrent,
		MTMLimit:    s.mtmLimit,
		MTMDistance: s.mtmCurrent - s.mtmLimit,
		SLHit:       s.slHit,
		Stale:       s.staleMarket,
	}
}

// LatchTrigger sets the kill trigger exactly once. Returns true only on
// the false->true transition; later evaluations are no-ops.
func (s *State) LatchTrigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggerKill {
		return false
	}
	s.triggerKill = true
	return true
}

// TriggerPending reports a latched trigger that has not been executed yet.
func (s *State) TriggerPending() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerKill, s.killExecuted
}

// MarkKillExecuted flips the one-way execution latch.
func (s *State) MarkKillExecuted() {
	s.mu.Lock()
	s.killExecuted = true
	s.mu.Unlock()
}

func (s *State) KillExecuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killExecuted
}

func (s *State) SetLockedToday(locked bool) {
	s.mu.Lock()
	s.lockedToday = locked
	s.mu.Unlock()
}

func (s *State) LockedToday() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedToday
}

func (s *State) SetSystemActive(active bool) {
	s.mu.Lock()
	s.systemActive = active
	s.mu.Unlock()
}

func (s *State) SystemActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemActive
}

func (s *State) SetStage(stage Stage) {
	s.mu.Lock()
	s.stage = stage
	if stage != StageError {
		s.errorMessage = ""
	}
	s.mu.Unlock()
}

// Fail records an unrecoverable failure. Stage and message are the only
// error channel surfaced to observers.
func (s *State) Fail(message string) {
	s.mu.Lock()
	s.stage = StageError
	s.errorMessage = message
	s.mu.Unlock()
}

func (s *State) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// BeginSession marks the session live under a fresh session id. Kill
// signals are reset only when the account is not under the daily lock.
func (s *State) BeginSession(now time.Time, sessionID string) {
	s.mu.Lock()
	s.systemActive = true
	s.sessionID = sessionID
	s.sessionStart = now
	s.errorMessage = ""
	if !s.lockedToday {
		s.triggerKill = false
		s.killExecuted = false
	}
	s.mu.Unlock()
}

// EndSession resets the lifecycle after a bounded stop.
func (s *State) EndSession() {
	s.mu.Lock()
	s.systemActive = false
	s.stage = StageIdle
	s.sessionStart = time.Time{}
	s.mu.Unlock()
}

// SignalView mirrors the session signal flags for observers.
type SignalView struct {
	SystemActive bool `json:"system_active"`
	TriggerKill  bool `json:"trigger_kill"`
	KillExecuted bool `json:"kill_executed"`
	LockedToday  bool `json:"is_locked_today"`
}

// Summary is the read-only external dump published by the snapshot service
// and the operator API.
type Summary struct {
	Timestamp    string             `json:"timestamp"`
	AccountID    string             `json:"account_id"`
	SessionID    string             `json:"session_id,omitempty"`
	Name         string             `json:"account_name"`
	Stage        string             `json:"stage"`
	ErrorMessage string             `json:"error_message,omitempty"`
	SessionStart string             `json:"session_start,omitempty"`
	Risk         RiskView           `json:"risk"`
	Signals      SignalView         `json:"signals"`
	KillSwitch   KillSwitchConfig   `json:"kill_switch"`
	KillHistory  KillHistory        `json:"kill_history"`
	Positions    []Position         `json:"positions"`
	Orders       []Order            `json:"orders"`
	Quotes       map[string]float64 `json:"quotes"`
}

// Summary takes a lock-protected shallow read of the aggregate. Slices are
// copied; nothing in the result aliases guarded state.
func (s *State) Summary(now time.Time) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]Position, len(s.positions))
	copy(positions, s.positions)
	orders := make([]Order, len(s.orders))
	copy(orders, s.orders)
	quotes := make(map[string]float64, len(s.quotes))
	for token, ltp := range s.quotes {
		quotes[token] = ltp
	}

	sessionStart := ""
	if !s.sessionStart.IsZero() {
		sessionStart = s.sessionStart.Format(time.RFC3339)
	}
	return Summary{
		Timestamp:    now.Format(time.RFC3339),
		AccountID:    s.id,
		SessionID:    s.sessionID,
		Name:         s.cfg.Name,
		Stage:        s.stage.String(),
		ErrorMessage: s.errorMessage,
		SessionStart: sessionStart,
		Risk: RiskView{
			MTMCurrent:  s.mtmCurrent,
			MTMLimit:    s.mtmLimit,
			MTMDistance: s.mtmCurrent - s.mtmLimit,
			SLHit:       s.slHit,
			Stale:       s.staleMarket,
		},
		Signals: SignalView{
			SystemActive: s.systemActive,
			TriggerKill:  s.triggerKill,
			KillExecuted: s.killExecuted,
			LockedToday:  s.lockedToday,
		},
		KillSwitch:  s.cfg.KillSwitch,
		KillHistory: s.cfg.KillHistory,
		Positions:   positions,
		Orders:      orders,
		Quotes:      quotes,
	}
}
