// Package config loads the application-level configuration: file paths,
// the operator API listener, market hours and logging. Per-account
// settings live in the account store (internal/configstore), not here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	Timezone string `mapstructure:"timezone"`

	AccountsFile    string `mapstructure:"accounts_file"`
	CredentialsFile string `mapstructure:"credentials_file"`
	SnapshotDir     string `mapstructure:"snapshot_dir"`
	EventDB         string `mapstructure:"event_db"`
	MTMDB           string `mapstructure:"mtm_db"`

	Server      ServerConfig      `mapstructure:"server"`
	MarketHours MarketHoursConfig `mapstructure:"market_hours"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Watchdog    WatchdogConfig    `mapstructure:"watchdog"`

	location *time.Location
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// MarketHoursConfig bounds the active polling window in exchange time.
type MarketHoursConfig struct {
	Open  string `mapstructure:"open"`
	Close string `mapstructure:"close"`
}

type SnapshotConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type WatchdogConfig struct {
	IntervalSeconds    int `mapstructure:"interval_seconds"`
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Kolkata"
	}
	if c.AccountsFile == "" {
		c.AccountsFile = "./data/accounts.yaml"
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = "./data/credentials.yaml"
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = "./data/snapshots"
	}
	if c.EventDB == "" {
		c.EventDB = "./data/events.db"
	}
	if c.MTMDB == "" {
		c.MTMDB = "./data/mtm.db"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8089"
	}
	if c.MarketHours.Open == "" {
		c.MarketHours.Open = "09:15"
	}
	if c.MarketHours.Close == "" {
		c.MarketHours.Close = "15:30"
	}
	if c.Snapshot.IntervalSeconds <= 0 {
		c.Snapshot.IntervalSeconds = 10
	}
	if c.Watchdog.IntervalSeconds <= 0 {
		c.Watchdog.IntervalSeconds = 5
	}
	if c.Watchdog.StopTimeoutSeconds <= 0 {
		c.Watchdog.StopTimeoutSeconds = 10
	}
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc
	if _, err := parseClock(c.MarketHours.Open); err != nil {
		return fmt.Errorf("invalid market open %q: %w", c.MarketHours.Open, err)
	}
	if _, err := parseClock(c.MarketHours.Close); err != nil {
		return fmt.Errorf("invalid market close %q: %w", c.MarketHours.Close, err)
	}
	return nil
}

// Location returns the exchange timezone resolved at load time.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// MarketOpen reports whether t falls inside the exchange trading window.
// Weekends are always closed; exchange holidays are not modelled.
func (c *Config) MarketOpen(t time.Time) bool {
	local := t.In(c.Location())
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	open, _ := parseClock(c.MarketHours.Open)
	closeAt, _ := parseClock(c.MarketHours.Close)
	return minutes >= open && minutes <= closeAt
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM")
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("want HH:MM: %w", err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return h*60 + m, nil
}
