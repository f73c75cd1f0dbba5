// ABOUTME: Configuration loading for the Matrix bridge
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package matrix

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Matrix  HomeserverConfig `toml:"matrix"`
	Bridge  BridgeConfig     `toml:"bridge"`
	Logging LoggingConfig    `toml:"logging"`
}

type HomeserverConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

type BridgeConfig struct {
	AllowedRooms    []string `toml:"allowed_rooms"`
	CommandPrefix   string   `toml:"command_prefix"`
	TypingIndicator bool     `toml:"typing_indicator"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfigPath returns the XDG-compliant config location.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "veche", "matrix.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "matrix.toml"
	}
	return filepath.Join(home, ".config", "veche", "matrix.toml")
}

// LoadConfig reads config from the given path, expanding ${VAR} references
// from the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") {
		return fmt.Errorf("matrix.user_id must be a full Matrix ID (@user:server)")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	return nil
}
