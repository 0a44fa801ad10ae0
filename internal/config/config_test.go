package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "UTC", cfg.Spin.Timezone)
	assert.Equal(t, 3, cfg.Spin.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Spin.Timeout)
	assert.Equal(t, "global", cfg.Spin.NoWinPolicy)
	assert.Equal(t, "max", cfg.Spin.StackingPolicy)
	assert.False(t, cfg.Spin.RecordRejected)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SPIN_COOLDOWN", "5m")
	t.Setenv("SPIN_TIMEZONE", "Asia/Bangkok")
	t.Setenv("SPIN_RECORD_REJECTED", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Spin.Cooldown)
	assert.True(t, cfg.Spin.RecordRejected)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Bangkok", loc.String())
}

func TestLoadConfigFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "7000"},
		"database": {"path": "/var/lib/spin.db"},
		"spin": {"timezone": "Asia/Bangkok", "max_retries": 5, "no_win_policy": "normalized"}
	}`), 0o600))
	t.Setenv("SERVER_PORT", "7100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, "/var/lib/spin.db", cfg.Database.Path, "file wins over defaults")
	assert.Equal(t, "Asia/Bangkok", cfg.Spin.Timezone)
	assert.Equal(t, 5, cfg.Spin.MaxRetries)
	assert.Equal(t, "normalized", cfg.Spin.NoWinPolicy)
}

func TestLoadConfigFileOverridesEveryDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rate_limit": {"enabled": false, "rate": 5},
		"tracing": {"enabled": true},
		"cache": {"enabled": false, "redis_db": 3},
		"events": {"amqp_exchange": "x"},
		"security": {"max_request_body_size": 10}
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.Rate)
	assert.Equal(t, 60, cfg.RateLimit.Window, "keys absent from the file keep their defaults")
	assert.True(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 3, cfg.Cache.RedisDB)
	assert.Equal(t, "x", cfg.Events.AMQPExchange)
	assert.Equal(t, int64(10), cfg.Security.MaxRequestBodySize)

	t.Setenv("RATE_LIMIT_RATE", "7")
	t.Setenv("CACHE_ENABLED", "true")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimit.Rate, "environment wins over the file")
	assert.True(t, cfg.Cache.Enabled)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 3, cfg.Cache.RedisDB)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := LoadConfig("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no port", func(c *Config) { c.Server.Port = "" }},
		{"bad rate", func(c *Config) { c.RateLimit.Rate = 0 }},
		{"negative cooldown", func(c *Config) { c.Spin.Cooldown = -time.Second }},
		{"no timeout", func(c *Config) { c.Spin.Timeout = 0 }},
		{"unknown no-win policy", func(c *Config) { c.Spin.NoWinPolicy = "sometimes" }},
		{"unknown stacking", func(c *Config) { c.Spin.StackingPolicy = "product" }},
		{"bad timezone", func(c *Config) { c.Spin.Timezone = "Mars/Olympus" }},
		{"cache without ttl", func(c *Config) { c.Cache.TTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
