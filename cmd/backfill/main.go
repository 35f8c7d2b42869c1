// Command backfill replays historical trades for one or more tickers
// through the classifier and stores the qualifying block or lit trades,
// using the same idempotent writes as the live feed. Re-running a range
// is safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"darkflow/config"
	"darkflow/internal/adapters/logger"
	"darkflow/internal/adapters/polygon"
	"darkflow/internal/adapters/sqlite"
	"darkflow/internal/domain"
	"darkflow/internal/ports"
)

func main() {
	tickersFlag := flag.String("tickers", "", "Comma-separated tickers to backfill (required)")
	startFlag := flag.String("start", "", "Start date, YYYY-MM-DD (required)")
	endFlag := flag.String("end", "", "End date, YYYY-MM-DD inclusive (required)")
	modeFlag := flag.String("mode", "block", "Trade class to store: block or lit")
	flag.Parse()

	if *tickersFlag == "" || *startFlag == "" || *endFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	mode := domain.Classification(strings.ToLower(*modeFlag))
	if mode != domain.ClassBlock && mode != domain.ClassLit {
		log.Fatalf("FATAL: mode must be %q or %q", domain.ClassBlock, domain.ClassLit)
	}
	start, err := time.Parse("2006-01-02", *startFlag)
	if err != nil {
		log.Fatalf("FATAL: invalid start date %q: %v", *startFlag, err)
	}
	end, err := time.Parse("2006-01-02", *endFlag)
	if err != nil {
		log.Fatalf("FATAL: invalid end date %q: %v", *endFlag, err)
	}
	if end.Before(start) {
		log.Fatalf("FATAL: end date precedes start date")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	client, err := polygon.NewHistoricalClient(polygon.HistoricalConfig{
		BaseURL:     cfg.RESTURL,
		APIKey:      cfg.APIKey,
		PageLimit:   cfg.PageLimit,
		PageTimeout: cfg.PageTimeout,
		RatePerSec:  cfg.PageRatePerSec,
		Logger:      appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize historical client: %v", err)
	}

	ctx := context.Background()
	for _, raw := range strings.Split(*tickersFlag, ",") {
		ticker := strings.ToUpper(strings.TrimSpace(raw))
		if ticker == "" {
			continue
		}
		stored, err := backfillTicker(ctx, client, repo, appLogger, cfg.Thresholds, ticker, mode, start, end)
		if err != nil {
			appLogger.Error(ctx, err, "Backfill failed", map[string]interface{}{"ticker": ticker})
			os.Exit(1)
		}
		fmt.Printf("%s: stored %d %s trades\n", ticker, stored, mode)
	}
}

// backfillTicker walks every page of the range, classifies each trade and
// stores the ones matching the requested class, one transaction per page.
// Backfills are deliberately uncapped; a long range just takes longer.
func backfillTicker(ctx context.Context, client *polygon.HistoricalClient, repo ports.TradeRepository, appLogger ports.Logger, th domain.Thresholds, ticker string, mode domain.Classification, start, end time.Time) (int, error) {
	stored := 0
	pages := 0
	url := client.FirstPageURL(ticker, start, end)

	for url != "" {
		page, err := client.FetchPage(ctx, url)
		if err != nil {
			return stored, fmt.Errorf("page %d: %w", pages+1, err)
		}
		pages++

		batch := make([]ports.ClassifiedTrade, 0, len(page.Trades))
		for _, t := range page.Trades {
			if t.Ticker == "" {
				t.Ticker = ticker // The history endpoint omits the symbol per trade
			}
			if domain.Classify(t, th) == mode {
				batch = append(batch, ports.ClassifiedTrade{Trade: t, Class: mode})
			}
		}
		if len(batch) > 0 {
			n, err := repo.StoreTrades(ctx, batch)
			if err != nil {
				return stored, fmt.Errorf("storing page %d: %w", pages, err)
			}
			stored += n
		}

		appLogger.Info(ctx, "Backfill page processed", map[string]interface{}{
			"ticker":  ticker,
			"page":    pages,
			"matched": len(batch),
			"stored":  stored,
		})
		url = page.NextURL
	}
	return stored, nil
}
