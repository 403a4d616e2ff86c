package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Default().Validate())
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "turtle.yaml", `
data:
  snapshot_path: /var/turtle/positions.json
  lock_path: /var/turtle/.check.lock
engine:
  lock_staleness: 45m
  price_tolerance: 0.02
pyramid:
  max_units: 3
risk:
  limits:
    per_symbol: 2
    per_group: 4
    per_direction: 8
    max_n_exposure: 6
  groups:
    metals: [GC, SI]
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/turtle/positions.json", cfg.Data.SnapshotPath)
	assert.Equal(t, "45m", cfg.Engine.LockStaleness)
	assert.Equal(t, 3, cfg.Pyramid.MaxUnits)
	assert.Equal(t, 2, cfg.Risk.Limits.PerSymbol)
	assert.Equal(t, []string{"GC", "SI"}, cfg.Risk.Groups["metals"])

	// Unspecified fields keep their defaults.
	assert.Equal(t, "30s", cfg.Engine.CollaboratorTimeout)
	assert.InDelta(t, 0.5, cfg.Pyramid.IntervalN, 1e-9)
}

func TestLoadFromJSON(t *testing.T) {
	path := writeFile(t, "turtle.json", `{
  "data": {"snapshot_path": "/tmp/p.json", "lock_path": "/tmp/p.lock"},
  "engine": {"fill_lookback": "96h"}
}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/p.json", cfg.Data.SnapshotPath)
	assert.Equal(t, "96h", cfg.Engine.FillLookback)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, "turtle.yaml", `
engine:
  lock_staleness: soon
`)
	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "lock_staleness")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestTelegramFromEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, int64(-100200300), cfg.Telegram.ChatID)
}

func TestTelegramDisabledWithoutSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "0")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Telegram.Enabled())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing snapshot path", func(c *Config) { c.Data.SnapshotPath = "" }, "snapshot_path"},
		{"missing lock path", func(c *Config) { c.Data.LockPath = "" }, "lock_path"},
		{"bad tolerance high", func(c *Config) { c.Engine.PriceTolerance = 1.5 }, "price_tolerance"},
		{"bad tolerance zero", func(c *Config) { c.Engine.PriceTolerance = 0 }, "price_tolerance"},
		{"zero atr period", func(c *Config) { c.Engine.ATRPeriod = 0 }, "atr_period"},
		{"zero max units", func(c *Config) { c.Pyramid.MaxUnits = 0 }, "max_units"},
		{"zero interval", func(c *Config) { c.Pyramid.IntervalN = 0 }, "interval_n"},
		{"broken ceilings", func(c *Config) { c.Risk.Limits.PerSymbol = 0 }, "risk.limits"},
		{
			"symbol in two groups",
			func(c *Config) {
				c.Risk.Groups = map[string][]string{"metals": {"GC"}, "energy": {"GC"}}
			},
			"both groups",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestSymbolGroups(t *testing.T) {
	t.Parallel()
	rc := RiskConfig{Groups: map[string][]string{
		"metals": {"GC", "SI"},
		"energy": {"CL"},
	}}
	assert.Equal(t, map[string]string{"GC": "metals", "SI": "metals", "CL": "energy"}, rc.SymbolGroups())
}

func TestDuration(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 45*time.Minute, Duration("45m"))
	assert.Equal(t, time.Duration(0), Duration("nope"))
}
