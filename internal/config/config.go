// Package config provides bootstrap configuration for tabkeeperd: the
// Chrome connection, where state and diagnostics live on disk, and
// which YAML file (if any) seeds a fresh settings blob on first run.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tabkeeper/tabkeeper/internal/core"
)

// Version is the current version of tabkeeper. Set at build time via
// ldflags.
var Version = "dev"

// Config holds every flag/file-settable bootstrap option.
type Config struct {
	// Connection
	ChromePort    string `yaml:"chrome_port"`
	AutoLaunch    bool   `yaml:"auto_launch"`
	ExtensionHint string `yaml:"extension_hint"`

	// State
	KVPath           string `yaml:"kv_path"`
	TailLogPath      string `yaml:"log_path"`
	SettingsSeedPath string `yaml:"settings_seed"`

	// Behavior
	RedactBookmarkURLs bool  `yaml:"redact"`
	EvalAlarmPeriodMS  int64 `yaml:"eval_period_ms"`
}

// DefaultConfig returns the default bootstrap configuration, mirrored
// from internal/core.DefaultConfig() so the two never drift.
func DefaultConfig() *Config {
	d := core.DefaultConfig()
	return &Config{
		ChromePort:         d.ChromePort,
		AutoLaunch:         d.AutoLaunch,
		ExtensionHint:      d.ExtensionHint,
		KVPath:             d.KVPath,
		TailLogPath:        d.TailLogPath,
		SettingsSeedPath:   d.SettingsSeedPath,
		RedactBookmarkURLs: d.RedactBookmarkURLs,
		EvalAlarmPeriodMS:  d.EvalAlarmPeriodMS,
	}
}

// LoadFromFile loads configuration from a YAML file. Values from the
// file override the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ChromePort == "" {
		return fmt.Errorf("chrome_port is required")
	}
	if c.KVPath == "" {
		return fmt.Errorf("kv_path is required")
	}
	if c.EvalAlarmPeriodMS <= 0 {
		return fmt.Errorf("eval_period_ms must be positive")
	}
	return nil
}

// ToCoreConfig adapts the bootstrap config to internal/core's own Config
// shape, kept as a distinct type so core has no dependency on cobra,
// YAML, or the flags this package parses.
func (c *Config) ToCoreConfig() core.Config {
	return core.Config{
		ChromePort:         c.ChromePort,
		AutoLaunch:         c.AutoLaunch,
		ExtensionHint:      c.ExtensionHint,
		KVPath:             c.KVPath,
		TailLogPath:        c.TailLogPath,
		SettingsSeedPath:   c.SettingsSeedPath,
		RedactBookmarkURLs: c.RedactBookmarkURLs,
		EvalAlarmPeriodMS:  c.EvalAlarmPeriodMS,
	}
}
