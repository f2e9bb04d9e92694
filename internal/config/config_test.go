package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "data/prompts.json", cfg.PromptsPath)
	assert.Equal(t, "royalishq.db", cfg.HistoryDB)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.DisconnectDebounce)
	assert.Equal(t, 1*time.Second, cfg.ReconnectBase)
	assert.Equal(t, 16*time.Second, cfg.ReconnectCap)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RECONNECT_ATTEMPTS", "8")
	t.Setenv("DISCONNECT_DEBOUNCE", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.ReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.DisconnectDebounce)
}

func TestLoadRejectsMalformedDurations(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "often")
	_, err := Load()
	assert.Error(t, err)
}
