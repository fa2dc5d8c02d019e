package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.SettleWindow != 100*time.Millisecond {
		t.Errorf("SettleWindow = %v, want 100ms", cfg.SettleWindow)
	}
	if cfg.StabilityPoll != 50*time.Millisecond {
		t.Errorf("StabilityPoll = %v, want 50ms", cfg.StabilityPoll)
	}
	if !cfg.Journal.Enabled || cfg.Journal.MaxEventsPerProject != 1000 {
		t.Errorf("Journal = %+v, want enabled with 1000 events", cfg.Journal)
	}
	if cfg.Reconnect.InitialDelay != time.Second || cfg.Reconnect.MaxDelay != 30*time.Second || cfg.Reconnect.Multiplier != 2 {
		t.Errorf("Reconnect = %+v, want 1s x2 capped at 30s", cfg.Reconnect)
	}
	if len(cfg.AllowedPaths) != 0 {
		t.Errorf("AllowedPaths = %v, want empty", cfg.AllowedPaths)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoadConfigValidFile tests loading a complete YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, DefaultConfigFile)

	configContent := `host: 0.0.0.0
port: 8080
allowed_paths:
  - /home/dev/work
  - /srv/projects
log_level: debug
log_dir: /tmp/logs
settle_window: 250ms
stability_poll: 20ms
journal:
  enabled: false
  db_path: /tmp/journal.db
  max_events_per_project: 50
reconnect:
  initial_delay: 500ms
  max_delay: 10s
  multiplier: 1.5
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Address() != "0.0.0.0:8080" {
		t.Errorf("Address() = %q, want 0.0.0.0:8080", cfg.Address())
	}
	if len(cfg.AllowedPaths) != 2 || cfg.AllowedPaths[1] != "/srv/projects" {
		t.Errorf("AllowedPaths = %v", cfg.AllowedPaths)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LogDir != "/tmp/logs" {
		t.Errorf("LogDir = %q, want /tmp/logs", cfg.LogDir)
	}
	if cfg.SettleWindow != 250*time.Millisecond {
		t.Errorf("SettleWindow = %v, want 250ms", cfg.SettleWindow)
	}
	if cfg.StabilityPoll != 20*time.Millisecond {
		t.Errorf("StabilityPoll = %v, want 20ms", cfg.StabilityPoll)
	}
	if cfg.Journal.Enabled {
		t.Error("Journal.Enabled = true, want false")
	}
	if cfg.Journal.DBPath != "/tmp/journal.db" || cfg.Journal.MaxEventsPerProject != 50 {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
	if cfg.Reconnect.InitialDelay != 500*time.Millisecond || cfg.Reconnect.MaxDelay != 10*time.Second || cfg.Reconnect.Multiplier != 1.5 {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
}

// TestLoadConfigFileNotExists tests fallback to defaults when file doesn't exist
func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/claudiomiro-ui.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() should not error on missing file, got: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000 (default)", cfg.Port)
	}
}

// TestLoadConfigInvalid tests error handling for malformed files
func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"broken yaml", "port: 3000\nallowed_paths: [this is not valid\n"},
		{"bad duration", "settle_window: soon\n"},
		{"wrong type", "port: many\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), DefaultConfigFile)
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}
			if _, err := LoadConfig(configPath); err == nil {
				t.Error("LoadConfig() expected error, got nil")
			}
		})
	}
}

// TestLoadConfigPartialValues tests that a partial file merges with defaults
func TestLoadConfigPartialValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), DefaultConfigFile)
	configContent := `port: 4000
journal:
  max_events_per_project: 10
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default", cfg.Host)
	}
	if !cfg.Journal.Enabled {
		t.Error("Journal.Enabled should keep its default when the key is absent")
	}
	if cfg.Journal.MaxEventsPerProject != 10 {
		t.Errorf("MaxEventsPerProject = %d, want 10", cfg.Journal.MaxEventsPerProject)
	}
	if cfg.Reconnect.Multiplier != 2 {
		t.Errorf("Reconnect.Multiplier = %v, want default 2", cfg.Reconnect.Multiplier)
	}
}

// TestMergeWithFlags tests that set flags override and nil flags don't
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = "/from/file"

	host := "0.0.0.0"
	port := 9000
	level := "trace"
	noJournal := true
	cfg.MergeWithFlags(&host, &port, []string{"/work"}, nil, &level, nil, &noJournal)

	if cfg.Host != host || cfg.Port != port || cfg.LogLevel != level {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if len(cfg.AllowedPaths) != 1 || cfg.AllowedPaths[0] != "/work" {
		t.Errorf("AllowedPaths = %v, want [/work]", cfg.AllowedPaths)
	}
	if cfg.LogDir != "/from/file" {
		t.Errorf("LogDir = %q, nil flag should keep file value", cfg.LogDir)
	}
	if cfg.Journal.Enabled {
		t.Error("--no-journal should disable the journal")
	}

	// an empty allow-list flag keeps the file's list
	cfg.MergeWithFlags(nil, nil, nil, nil, nil, nil, nil)
	if len(cfg.AllowedPaths) != 1 {
		t.Errorf("AllowedPaths = %v, want unchanged", cfg.AllowedPaths)
	}
}

// TestValidate covers each rejected field
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty host", func(c *Config) { c.Host = "" }, "host"},
		{"negative port", func(c *Config) { c.Port = -1 }, "port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"upper-case level", func(c *Config) { c.LogLevel = "WARN" }, "log_level"},
		{"zero settle", func(c *Config) { c.SettleWindow = 0 }, "settle_window"},
		{"zero poll", func(c *Config) { c.StabilityPoll = 0 }, "stability_poll"},
		{"missing static dir", func(c *Config) { c.StaticDir = "/nonexistent/ui" }, "static_dir"},
		{"journal max", func(c *Config) { c.Journal.MaxEventsPerProject = 0 }, "max_events_per_project"},
		{"zero initial delay", func(c *Config) { c.Reconnect.InitialDelay = 0 }, "initial_delay"},
		{"max below initial", func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }, "max_delay"},
		{"shrinking multiplier", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, "multiplier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}

	t.Run("disabled journal skips its checks", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Journal.Enabled = false
		cfg.Journal.MaxEventsPerProject = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

// TestGetHome tests the env override and journal path resolution
func TestGetHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ui-home")
	t.Setenv(HomeEnv, home)

	got, err := GetHome()
	if err != nil {
		t.Fatalf("GetHome() error = %v", err)
	}
	if got != home {
		t.Errorf("GetHome() = %q, want %q", got, home)
	}
	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		t.Errorf("home directory not created: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.ResolveJournalPath(); err != nil {
		t.Fatalf("ResolveJournalPath() error = %v", err)
	}
	if want := filepath.Join(home, "journal", "events.db"); cfg.Journal.DBPath != want {
		t.Errorf("Journal.DBPath = %q, want %q", cfg.Journal.DBPath, want)
	}

	// explicit paths are kept
	cfg.Journal.DBPath = "/custom.db"
	if err := cfg.ResolveJournalPath(); err != nil || cfg.Journal.DBPath != "/custom.db" {
		t.Errorf("explicit db path overwritten: %q (%v)", cfg.Journal.DBPath, err)
	}
}

func TestValidate_AcceptsEveryLoggerLevel(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		cfg := DefaultConfig()
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with log_level %q: %v", level, err)
		}
	}
}
