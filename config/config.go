package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"darkflow/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Market data provider
	APIKey  string
	FeedURL string // Streaming socket URL
	RESTURL string // Historical trade-query base URL

	// Ingestion pipeline
	WorkerCount    int
	QueueSize      int
	ReconnectDelay time.Duration

	// Trade classification floors
	Thresholds domain.Thresholds

	// Historical walker
	PageLimit      int           // Trades requested per page
	MaxPages       int           // Safety cap on pages per walk
	PageTimeout    time.Duration // Per page-fetch timeout
	PageRatePerSec float64       // Courtesy rate limit between pages

	// Database
	DBPath string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	cfg.APIKey = getEnv("POLYGON_API_KEY", "")
	if cfg.APIKey == "" {
		errs = append(errs, "POLYGON_API_KEY must be set")
	}
	cfg.FeedURL = getEnv("FEED_URL", "wss://delayed.polygon.io/stocks")
	cfg.RESTURL = getEnv("REST_URL", "https://api.polygon.io")

	cfg.WorkerCount = getEnvAsInt("WORKER_COUNT", 4)
	if cfg.WorkerCount <= 0 {
		errs = append(errs, "WORKER_COUNT must be positive")
	}
	cfg.QueueSize = getEnvAsInt("QUEUE_SIZE", 100_000)
	if cfg.QueueSize <= 0 {
		errs = append(errs, "QUEUE_SIZE must be positive")
	}

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 10)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	th := domain.DefaultThresholds()
	th.DarkPoolExchange = getEnvAsInt("DARK_POOL_EXCHANGE", th.DarkPoolExchange)
	th.BlockSizeFloor = int64(getEnvAsInt("BLOCK_SIZE_FLOOR", int(th.BlockSizeFloor)))
	th.BlockValueFloor = getEnvAsFloat("BLOCK_VALUE_FLOOR", th.BlockValueFloor)
	th.LitValueFloor = getEnvAsFloat("LIT_VALUE_FLOOR", th.LitValueFloor)
	if th.BlockSizeFloor <= 0 || th.BlockValueFloor <= 0 || th.LitValueFloor <= 0 {
		errs = append(errs, "classification floors must be positive")
	}
	cfg.Thresholds = th

	cfg.PageLimit = getEnvAsInt("PAGE_LIMIT", 50_000)
	if cfg.PageLimit <= 0 {
		errs = append(errs, "PAGE_LIMIT must be positive")
	}
	cfg.MaxPages = getEnvAsInt("MAX_PAGES", 200)
	if cfg.MaxPages <= 0 {
		errs = append(errs, "MAX_PAGES must be positive")
	}

	pageTimeoutSeconds := getEnvAsInt("PAGE_TIMEOUT_SECONDS", 60)
	if pageTimeoutSeconds <= 0 {
		errs = append(errs, "PAGE_TIMEOUT_SECONDS must be positive")
	}
	cfg.PageTimeout = time.Duration(pageTimeoutSeconds) * time.Second

	cfg.PageRatePerSec = getEnvAsFloat("PAGE_RATE_PER_SEC", 10.0)
	if cfg.PageRatePerSec <= 0 {
		errs = append(errs, "PAGE_RATE_PER_SEC must be positive")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/darkflow.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
