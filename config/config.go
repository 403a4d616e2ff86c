package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/turtle/risk"
)

// Config is the complete engine configuration for one run. It is built
// once and passed into the orchestrator; nothing reads global state
// mid-run.
type Config struct {
	Data    DataConfig    `json:"data" yaml:"data"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Pyramid PyramidConfig `json:"pyramid" yaml:"pyramid"`
	Risk    RiskConfig    `json:"risk" yaml:"risk"`

	Telegram TelegramConfig `json:"-" yaml:"-"`
}

// DataConfig locates the persisted state.
type DataConfig struct {
	SnapshotPath string `json:"snapshot_path" yaml:"snapshot_path"`
	LockPath     string `json:"lock_path" yaml:"lock_path"`
	ArchiveDB    string `json:"archive_db" yaml:"archive_db"`
	QuotesPath   string `json:"quotes_path" yaml:"quotes_path"`
	FillsPath    string `json:"fills_path" yaml:"fills_path"`

	// CandlesPath, when set, takes precedence over QuotesPath: price and N
	// are derived from dropped OHLC bars instead of precomputed quotes.
	CandlesPath string `json:"candles_path,omitempty" yaml:"candles_path,omitempty"`
}

// EngineConfig tunes one orchestrated run. Durations are strings in
// time.ParseDuration syntax, e.g. "30s", "8h".
type EngineConfig struct {
	LockStaleness       string  `json:"lock_staleness" yaml:"lock_staleness"`
	CollaboratorTimeout string  `json:"collaborator_timeout" yaml:"collaborator_timeout"`
	FillLookback        string  `json:"fill_lookback" yaml:"fill_lookback"`
	MatchTolerance      string  `json:"match_tolerance" yaml:"match_tolerance"`
	QuoteMaxAge         string  `json:"quote_max_age" yaml:"quote_max_age"`
	PriceTolerance      float64 `json:"price_tolerance" yaml:"price_tolerance"`
	ATRPeriod           int     `json:"atr_period" yaml:"atr_period"`
}

// PyramidConfig tunes unit additions.
type PyramidConfig struct {
	MaxUnits    int     `json:"max_units" yaml:"max_units"`
	IntervalN   float64 `json:"interval_n" yaml:"interval_n"`
	StopN       float64 `json:"stop_n" yaml:"stop_n"`
	EntryWindow string  `json:"entry_window" yaml:"entry_window"`
}

// RiskConfig carries the four ceilings and the static correlation-group
// membership, keyed by group name listing member symbols.
type RiskConfig struct {
	Limits risk.Limits         `json:"limits" yaml:"limits"`
	Groups map[string][]string `json:"groups" yaml:"groups"`
}

// SymbolGroups inverts Groups into the symbol -> group mapping the risk
// manager consumes.
func (r RiskConfig) SymbolGroups() map[string]string {
	out := make(map[string]string)
	for group, symbols := range r.Groups {
		for _, s := range symbols {
			out[s] = group
		}
	}
	return out
}

// TelegramConfig comes from the environment, never from the config file.
type TelegramConfig struct {
	Token  string `env:"TELEGRAM_BOT_TOKEN"`
	ChatID int64  `env:"TELEGRAM_CHAT_ID"`
}

func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// LoadFromFile loads configuration from a YAML or JSON file (by extension)
// and overlays environment-sourced secrets.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(&cfg.Telegram); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment secrets applied, for runs
// without a config file.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg.Telegram); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration, including that every duration parses.
func (c *Config) Validate() error {
	if c.Data.SnapshotPath == "" {
		return fmt.Errorf("data.snapshot_path is required")
	}
	if c.Data.LockPath == "" {
		return fmt.Errorf("data.lock_path is required")
	}
	for name, v := range map[string]string{
		"engine.lock_staleness":       c.Engine.LockStaleness,
		"engine.collaborator_timeout": c.Engine.CollaboratorTimeout,
		"engine.fill_lookback":        c.Engine.FillLookback,
		"engine.match_tolerance":      c.Engine.MatchTolerance,
		"engine.quote_max_age":        c.Engine.QuoteMaxAge,
		"pyramid.entry_window":        c.Pyramid.EntryWindow,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Engine.PriceTolerance <= 0 || c.Engine.PriceTolerance >= 1 {
		return fmt.Errorf("engine.price_tolerance must be in (0, 1)")
	}
	if c.Engine.ATRPeriod <= 0 {
		return fmt.Errorf("engine.atr_period must be positive")
	}
	if c.Pyramid.MaxUnits <= 0 {
		return fmt.Errorf("pyramid.max_units must be positive")
	}
	if c.Pyramid.IntervalN <= 0 || c.Pyramid.StopN <= 0 {
		return fmt.Errorf("pyramid interval_n and stop_n must be positive")
	}
	if err := c.Risk.Limits.Validate(); err != nil {
		return fmt.Errorf("risk.limits: %w", err)
	}
	seen := make(map[string]string)
	for group, symbols := range c.Risk.Groups {
		for _, s := range symbols {
			if prev, ok := seen[s]; ok && prev != group {
				return fmt.Errorf("symbol %s in both groups %s and %s", s, prev, group)
			}
			seen[s] = group
		}
	}
	return nil
}

// Duration returns an already-validated duration field.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Default returns a configuration with the classic Turtle parameters.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			SnapshotPath: "./data/positions.json",
			LockPath:     "./data/.check.lock",
			ArchiveDB:    "./data/turtle.sqlite",
			QuotesPath:   "./data/quotes.json",
			FillsPath:    "./data/fills.json",
		},
		Engine: EngineConfig{
			LockStaleness:       "30m",
			CollaboratorTimeout: "30s",
			FillLookback:        "72h",
			MatchTolerance:      "8h",
			QuoteMaxAge:         "48h",
			PriceTolerance:      0.01,
			ATRPeriod:           20,
		},
		Pyramid: PyramidConfig{
			MaxUnits:    4,
			IntervalN:   0.5,
			StopN:       2.0,
			EntryWindow: "24h",
		},
		Risk: RiskConfig{
			Limits: risk.DefaultLimits(),
			Groups: map[string][]string{},
		},
	}
}
