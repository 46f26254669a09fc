package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := Config{
		Name:   "Test Account",
		Active: true,
		KillSwitch: KillSwitchConfig{
			Enabled:  true,
			MTMLimit: 10000,
		},
	}
	cfg.Normalize()
	return cfg
}

func TestNewStateDerivesNegativeLimit(t *testing.T) {
	s := NewState("ACC1", testConfig(), Credentials{}, time.Now())
	assert.Equal(t, -10000.0, s.Risk().MTMLimit)

	cfg := testConfig()
	cfg.KillSwitch.MTMLimit = -7000
	s.ApplyConfig(cfg)
	assert.Equal(t, -7000.0, s.Risk().MTMLimit)
}

func TestNewStateBootsLockedWhenHistoryIsToday(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.KillHistory = KillHistory{LockedDate: "2026-08-28", Verified: true}

	s := NewState("ACC1", cfg, Credentials{}, now)
	assert.True(t, s.LockedToday())
	assert.Equal(t, StageLockedView, s.Stage())

	// Yesterday's lock does not carry over.
	s2 := NewState("ACC1", cfg, Credentials{}, now.AddDate(0, 0, 1))
	assert.False(t, s2.LockedToday())
	assert.Equal(t, StageIdle, s2.Stage())
}

func TestLatchTriggerFiresExactlyOnce(t *testing.T) {
	s := NewState("ACC1", testConfig(), Credentials{}, time.Now())
	require.True(t, s.LatchTrigger())
	assert.False(t, s.LatchTrigger())
	assert.False(t, s.LatchTrigger())

	triggered, executed := s.TriggerPending()
	assert.True(t, triggered)
	assert.False(t, executed)

	s.MarkKillExecuted()
	_, executed = s.TriggerPending()
	assert.True(t, executed)
}

func TestBeginSessionResetsSignalsUnlessLocked(t *testing.T) {
	s := NewState("ACC1", testConfig(), Credentials{}, time.Now())
	s.LatchTrigger()
	s.MarkKillExecuted()

	s.BeginSession(time.Now(), "sess-1")
	triggered, executed := s.TriggerPending()
	assert.False(t, triggered)
	assert.False(t, executed)
	assert.True(t, s.SystemActive())

	locked := NewState("ACC2", testConfig(), Credentials{}, time.Now())
	locked.SetLockedToday(true)
	locked.LatchTrigger()
	locked.MarkKillExecuted()
	locked.BeginSession(time.Now(), "sess-2")
	triggered, executed = locked.TriggerPending()
	assert.True(t, triggered)
	assert.True(t, executed)
}

func TestUpdateMarketClearsStaleFlag(t *testing.T) {
	s := NewState("ACC1", testConfig(), Credentials{}, time.Now())
	s.SetMarketStale()
	assert.True(t, s.Risk().Stale)

	s.UpdateMarket([]Position{{Token: "1", NetQty: 5}}, nil)
	assert.False(t, s.Risk().Stale)

	positions, _, _ := s.MarketView()
	require.Len(t, positions, 1)
	assert.Equal(t, "1", positions[0].Token)
}

func TestMergeQuotesRetainsMissingTokens(t *testing.T) {
	s := NewState("ACC1", testConfig(), Credentials{}, time.Now())
	s.MergeQuotes(map[string]float64{"1": 100, "2": 200})
	s.MergeQuotes(map[string]float64{"2": 210})

	_, _, quotes := s.MarketView()
	assert.Equal(t, 100.0, quotes["1"])
	assert.Equal(t, 210.0, quotes["2"])
}

func TestSummaryIsDetachedCopy(t *testing.T) {
	s := NewState("ACC1", testConfig(), Credentials{}, time.Now())
	s.BeginSession(time.Now(), "sess-9")
	s.SetStage(StageRunning)
	s.UpdateMarket([]Position{{Token: "1", Symbol: "NIFTY", NetQty: 2}}, []Order{{ID: "o1"}})
	s.UpdateRisk(-1500, false)

	summary := s.Summary(time.Now())
	assert.Equal(t, "ACC1", summary.AccountID)
	assert.Equal(t, "sess-9", summary.SessionID)
	assert.Equal(t, "RUNNING", summary.Stage)
	assert.Equal(t, -1500.0, summary.Risk.MTMCurrent)
	assert.Equal(t, 8500.0, summary.Risk.MTMDistance)

	// Mutating the copy must not leak back.
	summary.Positions[0].Symbol = "MUTATED"
	positions, _, _ := s.MarketView()
	assert.Equal(t, "NIFTY", positions[0].Symbol)
}

func TestStateStageTransitions(t *testing.T) {
	s := NewState("ACC1", testConfig(), Credentials{}, time.Now())
	s.SetStage(StageRunning)
	assert.Equal(t, StageRunning, s.Stage())

	s.Fail("kill action failed")
	assert.Equal(t, StageError, s.Stage())
	assert.Equal(t, "kill action failed", s.Summary(time.Now()).ErrorMessage)

	// Leaving the error state clears the message.
	s.SetStage(StageIdle)
	assert.Empty(t, s.Summary(time.Now()).ErrorMessage)
}

func TestOrderHelpers(t *testing.T) {
	o := Order{Qty: 100, FilledQty: 150}
	assert.Equal(t, 0, o.PendingQty())
	assert.True(t, o.FullyFilled())

	o = Order{Qty: 100, FilledQty: 40}
	assert.Equal(t, 60, o.PendingQty())
	assert.False(t, o.FullyFilled())

	assert.True(t, Order{Type: "SL-M"}.IsStopLoss())
	assert.True(t, Order{Type: "sl"}.IsStopLoss())
	assert.False(t, Order{Type: "MKT"}.IsStopLoss())
}

func TestConfigNormalizeDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, 60*time.Second, cfg.OffMarketInterval())
	assert.Equal(t, 3, cfg.Monitoring.Retry.MaxRetries)
	assert.False(t, cfg.KillSwitch.RequireFillConfirmation)
}

func TestCredentialsValidate(t *testing.T) {
	creds := Credentials{Broker: map[string]string{
		"consumer_key": "k", "ucc": "U", "mobile_number": "+911234567890",
		"mpin": "123456", "totp_secret": "SECRET",
	}}
	assert.NoError(t, creds.Validate())

	delete(creds.Broker, "mpin")
	err := creds.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mpin")
}
