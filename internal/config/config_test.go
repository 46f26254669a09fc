package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `log_level: debug`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, ":8089", cfg.Server.Listen)
	assert.Equal(t, "09:15", cfg.MarketHours.Open)
	assert.Equal(t, "15:30", cfg.MarketHours.Close)
	assert.Equal(t, 10, cfg.Snapshot.IntervalSeconds)
	assert.Equal(t, 5, cfg.Watchdog.IntervalSeconds)
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `
timezone: UTC
accounts_file: /etc/ks/accounts.yaml
server:
  enabled: true
  listen: ":9000"
market_hours:
  open: "08:00"
  close: "16:00"
`))
	require.NoError(t, err)
	assert.Equal(t, "/etc/ks/accounts.yaml", cfg.AccountsFile)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "08:00", cfg.MarketHours.Open)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfigFile(t, `timezone: Mars/Olympus`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")

	_, err = Load(writeConfigFile(t, "market_hours:\n  open: \"9am\""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market open")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMarketOpenWindow(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `timezone: UTC`))
	require.NoError(t, err)

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	assert.False(t, cfg.MarketOpen(day.Add(9*time.Hour)))                // 09:00, before open
	assert.True(t, cfg.MarketOpen(day.Add(9*time.Hour+15*time.Minute))) // open boundary inclusive
	assert.True(t, cfg.MarketOpen(day.Add(12*time.Hour)))
	assert.True(t, cfg.MarketOpen(day.Add(15*time.Hour+30*time.Minute))) // close boundary inclusive
	assert.False(t, cfg.MarketOpen(day.Add(16*time.Hour)))

	saturday := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	assert.False(t, cfg.MarketOpen(saturday))
	assert.False(t, cfg.MarketOpen(saturday.AddDate(0, 0, 1)))
}

func TestParseClock(t *testing.T) {
	minutes, err := parseClock("09:15")
	require.NoError(t, err)
	assert.Equal(t, 555, minutes)

	_, err = parseClock("25:00")
	require.Error(t, err)
	_, err = parseClock("nine")
	require.Error(t, err)
}
