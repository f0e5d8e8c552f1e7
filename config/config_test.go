package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POOL_API_URL", "POOL_API_TIMEOUT_SECONDS", "MAPPING_STORE_URL", "ROUTING_CONFIG_PATH",
		"CONTROL_API_PORT", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "LOG_LEVEL",
		"RECONCILER_INTERVAL_SECONDS", "ORPHAN_GRACE_SECONDS", "SHUTDOWN_TIMEOUT_SECONDS",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadConfigFailsLoudlyWhenRequiredVarsMissing(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POOL_API_URL")
	assert.Contains(t, err.Error(), "MAPPING_STORE_URL")
	assert.Contains(t, err.Error(), "ROUTING_CONFIG_PATH")
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("POOL_API_URL", "https://pool.internal")
	os.Setenv("MAPPING_STORE_URL", "redis://localhost:6379/0")
	os.Setenv("ROUTING_CONFIG_PATH", "/etc/copytrader/routes.yaml")
	os.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	os.Setenv("TELEGRAM_CHAT_ID", "12345")
	defer clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.ControlAPIPort)
	assert.Equal(t, int64(12345), cfg.TelegramChatID)
	assert.Equal(t, 60, int(cfg.ReconcilerInterval.Seconds()))
	assert.Equal(t, 30, int(cfg.OrphanGrace.Seconds()))
	assert.Equal(t, 30, int(cfg.ShutdownTimeout.Seconds()))
}

func TestLoadConfigRejectsInvalidTelegramChatID(t *testing.T) {
	clearEnv(t)
	os.Setenv("POOL_API_URL", "https://pool.internal")
	os.Setenv("MAPPING_STORE_URL", "redis://localhost:6379/0")
	os.Setenv("ROUTING_CONFIG_PATH", "/etc/copytrader/routes.yaml")
	os.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	os.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	defer clearEnv(t)

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")
}
