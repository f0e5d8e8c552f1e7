package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"copytrader/internal/adapters/logger"
)

// Config holds all Router Service configuration, loaded from the
// environment (or a .env file, for local development).
type Config struct {
	// Pool Client
	PoolAPIURL     string
	PoolAPITimeout time.Duration

	// Position Mapping Store
	MappingStoreURL string

	// Routing
	RoutingConfigPath string

	// Control API
	ControlAPIPort string

	// Telemetry
	TelegramBotToken string
	TelegramChatID   int64

	// Logging
	LogLevel logger.LogLevel

	// Reconciler
	ReconcilerInterval time.Duration
	OrphanGrace        time.Duration

	// Shutdown
	ShutdownTimeout time.Duration
}

// LoadConfig loads and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.PoolAPIURL = getEnv("POOL_API_URL", "")
	if cfg.PoolAPIURL == "" {
		errs = append(errs, "POOL_API_URL must be set")
	}

	timeoutSeconds, err := getEnvAsIntRequired("POOL_API_TIMEOUT_SECONDS", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POOL_API_TIMEOUT_SECONDS: %v", err))
	} else if timeoutSeconds <= 0 {
		errs = append(errs, "POOL_API_TIMEOUT_SECONDS must be positive")
	}
	cfg.PoolAPITimeout = time.Duration(timeoutSeconds) * time.Second

	cfg.MappingStoreURL = getEnv("MAPPING_STORE_URL", "")
	if cfg.MappingStoreURL == "" {
		errs = append(errs, "MAPPING_STORE_URL must be set (redis://... or 'memory' for an in-process store)")
	}

	cfg.RoutingConfigPath = getEnv("ROUTING_CONFIG_PATH", "")
	if cfg.RoutingConfigPath == "" {
		errs = append(errs, "ROUTING_CONFIG_PATH must be set")
	}

	cfg.ControlAPIPort = getEnv("CONTROL_API_PORT", "8090")

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "0")
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
	}
	cfg.TelegramChatID = chatID
	if cfg.TelegramBotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN must be set (alerts are load-bearing for §4.A/§7)")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	reconcilerSeconds := getEnvAsInt("RECONCILER_INTERVAL_SECONDS", 60)
	if reconcilerSeconds <= 0 {
		errs = append(errs, "RECONCILER_INTERVAL_SECONDS must be positive")
	}
	cfg.ReconcilerInterval = time.Duration(reconcilerSeconds) * time.Second

	orphanGraceSeconds := getEnvAsInt("ORPHAN_GRACE_SECONDS", 30)
	if orphanGraceSeconds <= 0 {
		errs = append(errs, "ORPHAN_GRACE_SECONDS must be positive")
	}
	cfg.OrphanGrace = time.Duration(orphanGraceSeconds) * time.Second

	shutdownSeconds := getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 30)
	if shutdownSeconds <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT_SECONDS must be positive")
	}
	cfg.ShutdownTimeout = time.Duration(shutdownSeconds) * time.Second

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
