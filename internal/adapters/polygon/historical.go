package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"darkflow/internal/domain"
	"darkflow/internal/ports"
)

// HistoricalClient implements ports.HistoricalTradeProvider against the
// provider's v3 trades endpoint.
type HistoricalClient struct {
	baseURL    string
	apiKey     string
	pageLimit  int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     ports.Logger
}

// HistoricalConfig holds configuration for the historical trade client.
type HistoricalConfig struct {
	BaseURL     string
	APIKey      string
	PageLimit   int           // Trades requested per page
	PageTimeout time.Duration // Per page-fetch timeout
	RatePerSec  float64       // Courtesy limit between page fetches
	Logger      ports.Logger
}

// NewHistoricalClient creates a historical trade-query client.
func NewHistoricalClient(cfg HistoricalConfig) (*HistoricalClient, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: base URL and API key are required", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 50_000
	}
	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 60 * time.Second
	}
	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &HistoricalClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		pageLimit:  pageLimit,
		httpClient: &http.Client{Timeout: pageTimeout},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
		logger:     cfg.Logger,
	}, nil
}

// FirstPageURL builds the first page URL for a ticker and inclusive date
// range, using the provider's nanosecond timestamp bounds. The upper bound
// is midnight after the end date so the whole last day is covered.
func (c *HistoricalClient) FirstPageURL(ticker string, start, end time.Time) string {
	startNanos := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC).UnixNano()
	endNanos := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).UnixNano()
	return fmt.Sprintf("%s/v3/trades/%s?timestamp.gte=%d&timestamp.lte=%d&limit=%d",
		c.baseURL, ticker, startNanos, endNanos, c.pageLimit)
}

// tradePage is the wire shape of one historical results page.
type tradePage struct {
	Results []historyTrade `json:"results"`
	NextURL string         `json:"next_url"`
}

// FetchPage fetches and decodes one page. The rate limiter enforces the
// inter-page courtesy delay; the HTTP client enforces the per-call timeout.
func (c *HistoricalClient) FetchPage(ctx context.Context, pageURL string) (*ports.TradePage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait interrupted: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.signURL(pageURL), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ports.ErrFetchFailed, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned status %d", ports.ErrFetchFailed, resp.StatusCode)
	}

	var page tradePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decoding page: %v", ports.ErrFetchFailed, err)
	}

	trades := make([]*domain.Trade, 0, len(page.Results))
	for i := range page.Results {
		trades = append(trades, page.Results[i].toDomain())
	}
	return &ports.TradePage{Trades: trades, NextURL: page.NextURL}, nil
}

// signURL appends the API key when the URL does not already carry one;
// next_url cursors come back unsigned.
func (c *HistoricalClient) signURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	q := u.Query()
	if q.Get("apiKey") == "" {
		q.Set("apiKey", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
