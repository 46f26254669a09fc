package account

import (
	"fmt"
	"strings"
	"time"
)

// Config is the per-account section of the account store file. It is
// reloaded wholesale on hot reload; derived limits are republished into
// State by the config watcher.
type Config struct {
	Name          string             `mapstructure:"account_name" yaml:"account_name" json:"account_name"`
	Active        bool               `mapstructure:"account_active" yaml:"account_active" json:"account_active"`
	KillSwitch    KillSwitchConfig   `mapstructure:"kill_switch" yaml:"kill_switch" json:"kill_switch"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring" yaml:"monitoring" json:"monitoring"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications" json:"notifications"`
	WebAutomation AutomationConfig   `mapstructure:"web_automation" yaml:"web_automation" json:"web_automation"`
	Verification  VerificationConfig `mapstructure:"verification" yaml:"verification" json:"verification"`
	KillHistory   KillHistory        `mapstructure:"kill_history" yaml:"kill_history" json:"kill_history"`
}

type KillSwitchConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// MTMLimit is the configured loss magnitude. The runtime limit is
	// always -abs(MTMLimit).
	MTMLimit float64 `mapstructure:"mtm_limit" yaml:"mtm_limit" json:"mtm_limit"`
	// RequireFillConfirmation gates the trigger on a filled stop-loss.
	// Absent flag means false: a breach alone fires.
	RequireFillConfirmation bool `mapstructure:"require_fill_confirmation" yaml:"require_fill_confirmation" json:"require_fill_confirmation"`
	AutoSquareOff           bool `mapstructure:"auto_square_off" yaml:"auto_square_off" json:"auto_square_off"`
}

type MonitoringConfig struct {
	PollIntervalSeconds      int         `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	OffMarketIntervalSeconds int         `mapstructure:"off_market_interval_seconds" yaml:"off_market_interval_seconds" json:"off_market_interval_seconds"`
	Retry                    RetryConfig `mapstructure:"retry" yaml:"retry" json:"retry"`
}

type RetryConfig struct {
	MaxRetries       int     `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	BaseDelaySeconds float64 `mapstructure:"base_delay_seconds" yaml:"base_delay_seconds" json:"base_delay_seconds"`
	MaxDelaySeconds  float64 `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds" json:"max_delay_seconds"`
}

type NotificationConfig struct {
	EnableTelegram bool `mapstructure:"enable_telegram" yaml:"enable_telegram" json:"enable_telegram"`
}

// AutomationConfig drives the browser kill action. Steps mirror the
// recorded flow against the broker's web surface.
type AutomationConfig struct {
	LoginURL             string           `mapstructure:"login_url" yaml:"login_url" json:"login_url"`
	Headless             bool             `mapstructure:"headless" yaml:"headless" json:"headless"`
	SearchTimeoutSeconds float64          `mapstructure:"search_timeout_seconds" yaml:"search_timeout_seconds" json:"search_timeout_seconds"`
	Steps                []AutomationStep `mapstructure:"flow_steps" yaml:"flow_steps" json:"flow_steps"`
}

type AutomationStep struct {
	ID          int      `mapstructure:"id" yaml:"id" json:"id"`
	Description string   `mapstructure:"description" yaml:"description" json:"description"`
	Action      string   `mapstructure:"action" yaml:"action" json:"action"`
	CredKey     string   `mapstructure:"cred_key" yaml:"cred_key,omitempty" json:"cred_key,omitempty"`
	Selector    string   `mapstructure:"selector" yaml:"selector,omitempty" json:"selector,omitempty"`
	Keys        []string `mapstructure:"keys" yaml:"keys,omitempty" json:"keys,omitempty"`
	Coords      *Coords  `mapstructure:"coords" yaml:"coords,omitempty" json:"coords,omitempty"`
	Repeats     int      `mapstructure:"repeats" yaml:"repeats,omitempty" json:"repeats,omitempty"`
	WaitSeconds float64  `mapstructure:"wait" yaml:"wait,omitempty" json:"wait,omitempty"`
	// Enabled uses a pointer so an absent key keeps the step active.
	Enabled  *bool `mapstructure:"enabled" yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Optional bool  `mapstructure:"optional" yaml:"optional,omitempty" json:"optional,omitempty"`
}

func (s AutomationStep) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type Coords struct {
	X float64 `mapstructure:"x" yaml:"x" json:"x"`
	Y float64 `mapstructure:"y" yaml:"y" json:"y"`
}

type VerificationConfig struct {
	Enabled             bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	LookbackMinutes     int    `mapstructure:"lookback_minutes" yaml:"lookback_minutes" json:"lookback_minutes"`
	SenderFilter        string `mapstructure:"sender_filter" yaml:"sender_filter" json:"sender_filter"`
	SubjectContains     string `mapstructure:"subject_contains" yaml:"subject_contains" json:"subject_contains"`
}

// Normalize clamps intervals and fills defaults for absent keys.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.Monitoring.PollIntervalSeconds <= 0 {
		c.Monitoring.PollIntervalSeconds = 5
	}
	if c.Monitoring.OffMarketIntervalSeconds <= 0 {
		c.Monitoring.OffMarketIntervalSeconds = 60
	}
	if c.Monitoring.Retry.MaxRetries <= 0 {
		c.Monitoring.Retry.MaxRetries = 3
	}
	if c.Monitoring.Retry.BaseDelaySeconds <= 0 {
		c.Monitoring.Retry.BaseDelaySeconds = 2
	}
	if c.Monitoring.Retry.MaxDelaySeconds <= 0 {
		c.Monitoring.Retry.MaxDelaySeconds = 60
	}
	if c.Verification.PollIntervalSeconds <= 0 {
		c.Verification.PollIntervalSeconds = 20
	}
	if c.Verification.TimeoutSeconds <= 0 {
		c.Verification.TimeoutSeconds = 600
	}
	if c.Verification.LookbackMinutes <= 0 {
		c.Verification.LookbackMinutes = 15
	}
	if c.WebAutomation.SearchTimeoutSeconds <= 0 {
		c.WebAutomation.SearchTimeoutSeconds = 5
	}
}

// MTMLimit returns the runtime loss threshold, always stored negative.
func (c Config) MTMLimit() float64 {
	limit := c.KillSwitch.MTMLimit
	if limit < 0 {
		limit = -limit
	}
	return -limit
}

// PollInterval returns the active-market polling cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Monitoring.PollIntervalSeconds) * time.Second
}

// OffMarketInterval returns the idle polling cadence outside market hours.
func (c Config) OffMarketInterval() time.Duration {
	return time.Duration(c.Monitoring.OffMarketIntervalSeconds) * time.Second
}

// Credentials hold the collaborator secrets for one account. The core only
// checks key presence; values are opaque and passed through.
type Credentials struct {
	Broker   map[string]string `mapstructure:"broker" yaml:"broker" json:"-"`
	Mail     map[string]string `mapstructure:"mail" yaml:"mail" json:"-"`
	Telegram map[string]string `mapstructure:"telegram" yaml:"telegram" json:"-"`
}

var requiredBrokerKeys = []string{"consumer_key", "ucc", "mobile_number", "mpin", "totp_secret"}

// Validate checks that every broker secret the login flow needs is present.
func (c Credentials) Validate() error {
	var missing []string
	for _, key := range requiredBrokerKeys {
		if strings.TrimSpace(c.Broker[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("broker credentials missing keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
