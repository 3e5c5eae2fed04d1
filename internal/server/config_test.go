package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestNewConfig tests the default values.
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":5000", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 100, cfg.Relay.HistoryCapacity)
	assert.Zero(t, cfg.Relay.TypingTTL)
	assert.Equal(t, 30*time.Second, cfg.Shutdown.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Mirror.Enabled())
}

// TestLoadConfigFromFile tests YAML values layered over defaults.
func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: ":7000"
  allowed_origins:
    - http://chat.example
websocket:
  max_message_size: 1024
  pong_wait: 30s
  ping_interval: 20s
relay:
  history_capacity: 50
  typing_ttl: 5s
log:
  level: debug
mirror:
  redis_address: localhost:6379
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Port)
	assert.Equal(t, []string{"http://chat.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 20*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 50, cfg.Relay.HistoryCapacity)
	assert.Equal(t, 5*time.Second, cfg.Relay.TypingTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Mirror.Enabled())
	assert.Equal(t, "chatrelay:events", cfg.Mirror.Channel)
	assert.Equal(t, 10, cfg.RateLimit.Burst, "unset keys keep defaults")
}

// TestLoadConfigFromEnv tests environment overrides, including the short
// variable names and integer-second durations.
func TestLoadConfigFromEnv(t *testing.T) {
	path := writeConfigFile(t, "relay:\n  history_capacity: 50\n")

	t.Setenv("SERVER_PORT", "6000")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("HISTORY_CAPACITY", "20")
	t.Setenv("TYPING_TTL", "1500ms")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 20, cfg.Relay.HistoryCapacity, "environment beats the file")
	assert.Equal(t, 1500*time.Millisecond, cfg.Relay.TypingTTL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

// TestLoadConfigErrors tests unreadable files and bad durations.
func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeConfigFile(t, "relay:\n  typing_ttl: soon\n")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

// TestSanitizeConfig tests that unusable values fall back to defaults.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Server:    ServerConfig{Port: "8081", AllowedOrigins: []string{" ", " http://x.example "}},
		WebSocket: WebSocketConfig{PongWait: 10 * time.Second, PingInterval: time.Minute},
		RateLimit: RateLimitConfig{Burst: -1},
		Relay:     RelayConfig{HistoryCapacity: -5, TypingTTL: -time.Second},
	})

	assert.Equal(t, ":8081", cfg.Server.Port)
	assert.Equal(t, []string{"http://x.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(4096), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 9*time.Second, cfg.WebSocket.PingInterval, "ping must fire before the pong deadline")
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 100, cfg.Relay.HistoryCapacity)
	assert.Zero(t, cfg.Relay.TypingTTL)
	assert.Equal(t, time.Second, cfg.Relay.TypingSweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Shutdown.Timeout)
}

// TestParseDuration tests the accepted duration spellings.
func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{" 250ms ", 250 * time.Millisecond},
		{"1m30s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseDuration("later")
	assert.Error(t, err)
}
