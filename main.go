package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"copytrader/config"
	"copytrader/internal/adapters/logger"
	"copytrader/internal/router"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3-6. Build the Router Service: routing config, mapping store,
	// pool client with breaker state, one Copy Trader per source
	// account, one Reconciler per route, the Control API.
	svc, err := router.Build(context.Background(), router.Config{App: cfg, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to build router service")
		log.Fatalf("FATAL: Failed to build router service: %v", err)
	}
	appLogger.Info(context.Background(), "Router service built")

	// 7. Run until an OS signal or a fatal component error.
	if err := svc.Run(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Router service exited with error")
		log.Fatalf("FATAL: Router service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
