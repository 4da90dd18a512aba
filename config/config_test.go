package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.HistoryBackend)
	assert.True(t, cfg.RequireAuth)
	assert.Equal(t, 10, cfg.ColorCount)
	assert.Equal(t, 3, cfg.MaxNickChanges)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.HistoryTimeoutDuration())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ROOMHUB_PORT", "9000")
	t.Setenv("ROOMHUB_HISTORY_BACKEND", "Redis")
	t.Setenv("ROOMHUB_REQUIRE_AUTH", "false")
	t.Setenv("ROOMHUB_COLOR_COUNT", "14")
	t.Setenv("ROOMHUB_MAX_NICK_CHANGES", "0")
	t.Setenv("ROOMHUB_ALLOWED_ORIGINS", "http://localhost:9000, https://chat.example.com")
	t.Setenv("ROOMHUB_READ_TIMEOUT", "30")

	cfg := Load()

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "redis", cfg.HistoryBackend)
	assert.False(t, cfg.RequireAuth)
	assert.Equal(t, 14, cfg.ColorCount)
	assert.Equal(t, 0, cfg.MaxNickChanges)
	assert.Equal(t, []string{"http://localhost:9000", "https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeoutDuration())
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("ROOMHUB_PORT", "not-a-port")
	t.Setenv("ROOMHUB_MAX_HISTORY", "-4")
	t.Setenv("ROOMHUB_HISTORY_BACKEND", "postgres")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 50, cfg.MaxHistory)
	assert.Equal(t, "sqlite", cfg.HistoryBackend)
}

func TestValidateNickBounds(t *testing.T) {
	cfg := Default()
	cfg.MinNickLength = 10
	cfg.MaxNickLength = 4

	cfg.Validate()

	require.Equal(t, 10, cfg.MaxNickLength)
}
