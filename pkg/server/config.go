package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	UDP    UDPSection    `toml:"udp"`
	Log    LogSection    `toml:"log"`
}

type ServerSection struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsPort int    `toml:"metrics_port"`
	UsersFile   string `toml:"users_file"`
}

// ConfirmRetries and DrainGraceMs are pointers so an explicit 0 in the
// file is distinguishable from the key being absent.
type UDPSection struct {
	ConfirmTimeoutMs int  `toml:"confirm_timeout_ms"`
	ConfirmRetries   *int `toml:"confirm_retries"`
	DrainGraceMs     *int `toml:"drain_grace_ms"`
}

type LogSection struct {
	Level string `toml:"level"`
}

// Config is the validated runtime configuration the server runs with.
type Config struct {
	Host        string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	MetricsPort int    `validate:"min=0,max=65535"`
	UsersFile   string

	ConfirmTimeout time.Duration `validate:"min=1ms"`
	ConfirmRetries int           `validate:"min=0,max=10"`
	DrainGrace     time.Duration `validate:"min=0"`

	LogLevel string `validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the configuration the server ships with.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           4567,
		MetricsPort:    0, // 0 = disabled
		ConfirmTimeout: 250 * time.Millisecond,
		ConfirmRetries: 3,
		DrainGrace:     500 * time.Millisecond,
		LogLevel:       "info",
	}
}

// LoadConfig loads configuration from a TOML file, creates a default file
// if none exists, applies environment variable overrides and validates the
// result.
func LoadConfig(path string) (Config, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	var fileCfg TOMLConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, write the default one. A write failure is
		// not fatal; the server can still run on defaults.
		_ = writeDefaultConfig(path)
	} else if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := DefaultConfig()
	if strings.TrimSpace(fileCfg.Server.Host) != "" {
		cfg.Host = fileCfg.Server.Host
	}
	if fileCfg.Server.Port != 0 {
		cfg.Port = fileCfg.Server.Port
	}
	if fileCfg.Server.MetricsPort != 0 {
		cfg.MetricsPort = fileCfg.Server.MetricsPort
	}
	if strings.TrimSpace(fileCfg.Server.UsersFile) != "" {
		cfg.UsersFile = fileCfg.Server.UsersFile
	}
	if fileCfg.UDP.ConfirmTimeoutMs != 0 {
		cfg.ConfirmTimeout = time.Duration(fileCfg.UDP.ConfirmTimeoutMs) * time.Millisecond
	}
	if fileCfg.UDP.ConfirmRetries != nil {
		cfg.ConfirmRetries = *fileCfg.UDP.ConfirmRetries
	}
	if fileCfg.UDP.DrainGraceMs != nil {
		cfg.DrainGrace = time.Duration(*fileCfg.UDP.DrainGraceMs) * time.Millisecond
	}
	if strings.TrimSpace(fileCfg.Log.Level) != "" {
		cfg.LogLevel = fileCfg.Log.Level
	}

	cfg = applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid config: field %s failed %q constraint", e.Field(), e.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: PARLEY_SECTION_KEY
// Example: PARLEY_SERVER_PORT=5000
func applyEnvOverrides(cfg Config) Config {
	if val := os.Getenv("PARLEY_SERVER_HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("PARLEY_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.MetricsPort = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_USERS_FILE"); val != "" {
		cfg.UsersFile = val
	}
	if val := os.Getenv("PARLEY_UDP_CONFIRM_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.ConfirmTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("PARLEY_UDP_CONFIRM_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.ConfirmRetries = n
		}
	}
	if val := os.Getenv("PARLEY_UDP_DRAIN_GRACE_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.DrainGrace = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("PARLEY_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	return cfg
}

// writeDefaultConfig writes a documented default config file.
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Parley Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# PARLEY_SECTION_KEY (e.g., PARLEY_SERVER_PORT=5000)

[server]
# Address both listeners bind to
host = "0.0.0.0"

# Port shared by the TCP and UDP listeners
port = 4567

# Port for the Prometheus /metrics endpoint (0 = disabled)
metrics_port = 0

# Path to a username:bcrypt-hash credential file
# Leave empty to accept any credentials:
# users_file = "~/.parley/users"

[udp]
# How long to wait for a confirmation before retransmitting
confirm_timeout_ms = 250

# How many times to retransmit an unconfirmed datagram
confirm_retries = 3

# How long a closing session keeps confirming stragglers
drain_grace_ms = 500

[log]
# One of: debug, info, warn, error
level = "info"
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
