package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ChromePort != "9222" {
		t.Errorf("expected ChromePort 9222, got %s", cfg.ChromePort)
	}
	if cfg.AutoLaunch != false {
		t.Errorf("expected AutoLaunch false, got %v", cfg.AutoLaunch)
	}
	if cfg.KVPath == "" {
		t.Error("expected a non-empty default KVPath")
	}
	if cfg.EvalAlarmPeriodMS <= 0 {
		t.Errorf("expected a positive default EvalAlarmPeriodMS, got %d", cfg.EvalAlarmPeriodMS)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
chrome_port: "9223"
auto_launch: true
extension_hint: "tabkeeper-companion"
kv_path: "./state.db"
log_path: "./tail.jsonl"
redact: false
eval_period_ms: 30000
`

	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.ChromePort != "9223" {
		t.Errorf("expected ChromePort 9223, got %s", cfg.ChromePort)
	}
	if cfg.AutoLaunch != true {
		t.Errorf("expected AutoLaunch true, got %v", cfg.AutoLaunch)
	}
	if cfg.ExtensionHint != "tabkeeper-companion" {
		t.Errorf("expected ExtensionHint tabkeeper-companion, got %s", cfg.ExtensionHint)
	}
	if cfg.KVPath != "./state.db" {
		t.Errorf("expected KVPath ./state.db, got %s", cfg.KVPath)
	}
	if cfg.RedactBookmarkURLs != false {
		t.Errorf("expected RedactBookmarkURLs false, got %v", cfg.RedactBookmarkURLs)
	}
	if cfg.EvalAlarmPeriodMS != 30000 {
		t.Errorf("expected EvalAlarmPeriodMS 30000, got %d", cfg.EvalAlarmPeriodMS)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFilePartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	configContent := `
chrome_port: "9224"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.ChromePort != "9224" {
		t.Errorf("expected ChromePort 9224, got %s", cfg.ChromePort)
	}
	if cfg.KVPath != DefaultConfig().KVPath {
		t.Errorf("expected default KVPath preserved, got %s", cfg.KVPath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty chrome port",
			modify:  func(c *Config) { c.ChromePort = "" },
			wantErr: true,
		},
		{
			name:    "empty kv path",
			modify:  func(c *Config) { c.KVPath = "" },
			wantErr: true,
		},
		{
			name:    "non-positive eval period",
			modify:  func(c *Config) { c.EvalAlarmPeriodMS = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToCoreConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChromePort = "9333"

	core := cfg.ToCoreConfig()
	if core.ChromePort != "9333" {
		t.Errorf("expected ChromePort 9333, got %s", core.ChromePort)
	}
	if core.KVPath != cfg.KVPath {
		t.Errorf("expected KVPath to round-trip, got %s", core.KVPath)
	}
}
