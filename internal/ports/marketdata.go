package ports

import (
	"context"
	"time"

	"darkflow/internal/domain"
)

// TradeStream maintains the streaming connection to the market data feed.
type TradeStream interface {
	// Run connects, authenticates, subscribes and delivers each raw feed
	// message to the handler. It reconnects on any transport failure and
	// only returns once the context is cancelled. The handler may block
	// (backpressure); the stream must not drop messages to avoid it.
	Run(ctx context.Context, handler func(message []byte)) error
}

// TradePage is one page of historical trade results.
type TradePage struct {
	Trades  []*domain.Trade
	NextURL string // Cursor to the next page; empty when this is the last page
}

// HistoricalTradeProvider pages through the provider's historical
// trade-query endpoint.
type HistoricalTradeProvider interface {
	// FirstPageURL builds the URL of the first page for a ticker and date
	// range. The end date is inclusive.
	FirstPageURL(ticker string, start, end time.Time) string
	// FetchPage fetches and decodes one page. Pages must be fetched in the
	// order the provider hands out cursors; cursors are not resumable out
	// of order.
	FetchPage(ctx context.Context, url string) (*TradePage, error)
}
