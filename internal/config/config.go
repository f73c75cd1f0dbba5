// ABOUTME: Configuration loading and parsing for veche
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete veche configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Polls     PollsConfig     `yaml:"polls"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Display   DisplayConfig   `yaml:"display"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PollsConfig holds poll creation and lifecycle limits
type PollsConfig struct {
	DefaultThreshold int `yaml:"default_threshold"` // percent, 1-100
	MaxOptions       int `yaml:"max_options"`
	MaxQuestionLen   int `yaml:"max_question_len"`
	MaxOptionLen     int `yaml:"max_option_len"`

	AutoCloseAfter  time.Duration `yaml:"-"`
	DuplicateWindow time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AutoCloseAfterRaw  string `yaml:"auto_close_after"`
	DuplicateWindowRaw string `yaml:"duplicate_window"`
}

// RateLimitConfig holds the sliding-window limiter settings
type RateLimitConfig struct {
	Limit    int `yaml:"limit"`
	MaxUsers int `yaml:"max_users"`

	Window        time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	WindowRaw        string `yaml:"window"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// SessionsConfig holds wizard session expiry settings
type SessionsConfig struct {
	Max int `yaml:"max"`

	IdleTimeout   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// DisplayConfig holds poll card display preferences
type DisplayConfig struct {
	ShowAuthor         bool `yaml:"show_author"`
	ShowDate           bool `yaml:"show_date"`
	ShowVoteCounts     bool `yaml:"show_vote_counts"`
	ShowVoterNames     bool `yaml:"show_voter_names"`
	ShowDecisionStatus bool `yaml:"show_decision_status"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "veche.db"},
		Polls: PollsConfig{
			DefaultThreshold: 50,
			MaxOptions:       10,
			MaxQuestionLen:   300,
			MaxOptionLen:     100,
			AutoCloseAfter:   24 * time.Hour,
			DuplicateWindow:  time.Hour,
		},
		RateLimit: RateLimitConfig{
			Limit:         10,
			MaxUsers:      1000,
			Window:        time.Hour,
			SweepInterval: time.Minute,
		},
		Sessions: SessionsConfig{
			Max:           1000,
			IdleTimeout:   2 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Display: DisplayConfig{
			ShowVoteCounts:     true,
			ShowDecisionStatus: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values. Fields left unset
// fall back to the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Polls.DefaultThreshold < 1 || c.Polls.DefaultThreshold > 100 {
		return fmt.Errorf("polls.default_threshold must be between 1 and 100")
	}
	if c.Polls.MaxOptions < 2 {
		return fmt.Errorf("polls.max_options must be at least 2")
	}
	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be at least 1")
	}
	if c.Sessions.Max < 1 {
		return fmt.Errorf("sessions.max must be at least 1")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Polls.AutoCloseAfterRaw, &cfg.Polls.AutoCloseAfter, "polls.auto_close_after"},
		{cfg.Polls.DuplicateWindowRaw, &cfg.Polls.DuplicateWindow, "polls.duplicate_window"},
		{cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window, "rate_limit.window"},
		{cfg.RateLimit.SweepIntervalRaw, &cfg.RateLimit.SweepInterval, "rate_limit.sweep_interval"},
		{cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout, "sessions.idle_timeout"},
		{cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval, "sessions.sweep_interval"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
