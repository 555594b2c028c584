package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	_, err = os.Stat(path)
	assert.NoError(t, err, "default config file should have been written")

	// The generated file parses back to the same configuration.
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
host = "127.0.0.1"
port = 5000
metrics_port = 9100

[udp]
confirm_timeout_ms = 100
confirm_retries = 5

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, 9100, cfg.MetricsPort)
	assert.Equal(t, 100*time.Millisecond, cfg.ConfirmTimeout)
	assert.Equal(t, 5, cfg.ConfirmRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset values keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.DrainGrace)
}

func TestLoadConfigExplicitZeroRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[udp]
confirm_retries = 0
drain_grace_ms = 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// An explicit zero in the file wins over the defaults.
	assert.Equal(t, 0, cfg.ConfirmRetries)
	assert.Equal(t, time.Duration(0), cfg.DrainGrace)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("PARLEY_SERVER_PORT", "6000")
	t.Setenv("PARLEY_LOG_LEVEL", "warn")
	t.Setenv("PARLEY_UDP_CONFIRM_RETRIES", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7, cfg.ConfirmRetries)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.ConfirmRetries = -1 }, wantErr: true},
		{name: "zero confirm timeout", mutate: func(c *Config) { c.ConfirmTimeout = 0 }, wantErr: true},
		{name: "empty host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not toml at {{{ all"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
