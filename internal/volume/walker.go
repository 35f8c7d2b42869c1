package volume

import (
	"context"
	"fmt"
	"time"

	"darkflow/internal/domain"
	"darkflow/internal/ports"
)

// Walker pages through the historical trade-query endpoint and folds the
// trades inside a price band into a single aggregate. No intermediate
// storage is used; memory stays bounded regardless of the date range.
type Walker struct {
	provider ports.HistoricalTradeProvider
	maxPages int
	logger   ports.Logger
}

// Config holds configuration for the volume walker.
type Config struct {
	Provider ports.HistoricalTradeProvider
	MaxPages int // Safety cap on pages per walk
	Logger   ports.Logger
}

// New creates a volume walker.
func New(cfg Config) (*Walker, error) {
	if cfg.Provider == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("%w: provider and logger are required", ports.ErrConfigurationError)
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 200
	}
	return &Walker{provider: cfg.Provider, maxPages: maxPages, logger: cfg.Logger}, nil
}

// Walk accumulates volume, value, trade count and the observed price range
// for every trade whose price falls within [levelPrice - tolerance,
// levelPrice + tolerance] over the date range. It follows the provider's
// next-page cursor until none remains, a page comes back empty, or the page
// cap is reached. Any page-fetch error aborts the walk; partial sums are
// not returned because a partial level-volume figure is materially
// misleading.
func (w *Walker) Walk(ctx context.Context, ticker string, levelPrice, tolerance float64, start, end time.Time) (*domain.VolumeResult, error) {
	minPrice := levelPrice - tolerance
	maxPrice := levelPrice + tolerance

	result := &domain.VolumeResult{}
	url := w.provider.FirstPageURL(ticker, start, end)

	for url != "" {
		if result.Pages >= w.maxPages {
			w.logger.Warn(ctx, "Page cap reached, stopping walk", map[string]interface{}{
				"ticker": ticker,
				"pages":  result.Pages,
			})
			break
		}

		page, err := w.provider.FetchPage(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("page %d for %s: %w", result.Pages+1, ticker, err)
		}
		result.Pages++

		if len(page.Trades) == 0 {
			break
		}
		for _, t := range page.Trades {
			if t.Price <= 0 || t.Size <= 0 {
				continue
			}
			if t.Price < minPrice || t.Price > maxPrice {
				continue
			}
			if result.TotalTrades == 0 || t.Price < result.MinPrice {
				result.MinPrice = t.Price
			}
			if result.TotalTrades == 0 || t.Price > result.MaxPrice {
				result.MaxPrice = t.Price
			}
			result.TotalVolume += t.Size
			result.TotalValue += float64(t.Size) * t.Price
			result.TotalTrades++
		}

		url = page.NextURL
	}

	w.logger.Info(ctx, "Volume walk complete", map[string]interface{}{
		"ticker": ticker,
		"level":  levelPrice,
		"trades": result.TotalTrades,
		"volume": result.TotalVolume,
		"pages":  result.Pages,
	})
	return result, nil
}
