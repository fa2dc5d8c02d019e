package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/makerGeek/claudiomiro/internal/logger"
)

// DefaultConfigFile is looked up in the working directory when --config is not given
const DefaultConfigFile = "claudiomiro-ui.yaml"

// JournalConfig represents the event journal configuration
type JournalConfig struct {
	// Enabled records every broadcast frame in SQLite
	Enabled bool `yaml:"enabled"`

	// DBPath is the journal database; empty resolves under the home directory
	DBPath string `yaml:"db_path"`

	// MaxEventsPerProject bounds the history kept for one project
	MaxEventsPerProject int `yaml:"max_events_per_project"`
}

// ReconnectConfig is the backoff used by the tail client
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// Config represents dashboard server configuration options
type Config struct {
	// Host is the listen address of the HTTP server
	Host string `yaml:"host"`

	// Port is the listen port of the HTTP server
	Port int `yaml:"port"`

	// AllowedPaths restricts which project directories may be opened.
	// Empty allows any project with a state root.
	AllowedPaths []string `yaml:"allowed_paths"`

	// StaticDir holds the compiled browser UI; empty serves the API only
	StaticDir string `yaml:"static_dir"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir enables per-run log files when set
	LogDir string `yaml:"log_dir"`

	// SettleWindow is the debounce window of the file watcher
	SettleWindow time.Duration `yaml:"settle_window"`

	// StabilityPoll is how often a still-growing file is re-checked
	StabilityPoll time.Duration `yaml:"stability_poll"`

	Journal   JournalConfig   `yaml:"journal"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          3000,
		LogLevel:      "info",
		SettleWindow:  100 * time.Millisecond,
		StabilityPoll: 50 * time.Millisecond,
		Journal: JournalConfig{
			Enabled:             true,
			MaxEventsPerProject: 1000,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// A missing file yields the defaults; a malformed one is an error.
// Keys present in the file override the defaults, absent keys keep them.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Decoding into the populated defaults leaves absent keys untouched
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MergeWithFlags merges CLI flags into the configuration.
// Non-nil flag values override configuration values.
func (c *Config) MergeWithFlags(host *string, port *int, allowed []string, staticDir, logLevel, logDir *string, noJournal *bool) {
	if host != nil {
		c.Host = *host
	}
	if port != nil {
		c.Port = *port
	}
	if len(allowed) > 0 {
		c.AllowedPaths = allowed
	}
	if staticDir != nil {
		c.StaticDir = *staticDir
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if noJournal != nil && *noJournal {
		c.Journal.Enabled = false
	}
}

// ResolveJournalPath fills an empty journal path with the default location
func (c *Config) ResolveJournalPath() error {
	if !c.Journal.Enabled || c.Journal.DBPath != "" {
		return nil
	}
	path, err := GetJournalDBPath()
	if err != nil {
		return err
	}
	c.Journal.DBPath = path
	return nil
}

// Validate validates the configuration values
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}

	if !logger.IsValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.SettleWindow <= 0 {
		return fmt.Errorf("settle_window must be > 0, got %v", c.SettleWindow)
	}
	if c.StabilityPoll <= 0 {
		return fmt.Errorf("stability_poll must be > 0, got %v", c.StabilityPoll)
	}

	if c.StaticDir != "" {
		info, err := os.Stat(c.StaticDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("static_dir %q is not a directory", c.StaticDir)
		}
	}

	if c.Journal.Enabled && c.Journal.MaxEventsPerProject <= 0 {
		return fmt.Errorf("journal.max_events_per_project must be > 0, got %d", c.Journal.MaxEventsPerProject)
	}

	if c.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("reconnect.initial_delay must be > 0, got %v", c.Reconnect.InitialDelay)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay (%v) must be >= initial_delay (%v)", c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1, got %v", c.Reconnect.Multiplier)
	}

	return nil
}
