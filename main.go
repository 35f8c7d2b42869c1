package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"darkflow/config"
	"darkflow/internal/adapters/logger"
	"darkflow/internal/adapters/polygon"
	"darkflow/internal/adapters/sqlite"
	"darkflow/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Market Data Adapters
	stream, err := polygon.NewStream(polygon.StreamConfig{
		URL:            cfg.FeedURL,
		APIKey:         cfg.APIKey,
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade stream")
		log.Fatalf("FATAL: Failed to initialize trade stream: %v", err)
	}
	historical, err := polygon.NewHistoricalClient(polygon.HistoricalConfig{
		BaseURL:     cfg.RESTURL,
		APIKey:      cfg.APIKey,
		PageLimit:   cfg.PageLimit,
		PageTimeout: cfg.PageTimeout,
		RatePerSec:  cfg.PageRatePerSec,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize historical client")
		log.Fatalf("FATAL: Failed to initialize historical client: %v", err)
	}
	appLogger.Info(context.Background(), "Market data adapters initialized")

	// 5. Initialize Application Service
	service, err := app.NewService(cfg, appLogger, app.Deps{
		Stream:     stream,
		TradeRepo:  repo,
		LevelRepo:  repo,
		JobRepo:    repo,
		Historical: historical,
		Parser:     polygon.ParseFeedMessage,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}
	appLogger.Info(context.Background(), "Service initialized")

	// 6. Start the Service
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
