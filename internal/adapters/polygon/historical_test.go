package polygon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkflow/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, baseURL string) *HistoricalClient {
	t.Helper()
	client, err := NewHistoricalClient(HistoricalConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		PageLimit:  50_000,
		RatePerSec: 1000, // No artificial delay in tests
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)
	return client
}

func TestHistoricalClient_FirstPageURL(t *testing.T) {
	client := newTestClient(t, "https://api.example.com")

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	url := client.FirstPageURL("AAPL", start, end)

	startNanos := start.UnixNano()
	endNanos := end.AddDate(0, 0, 1).UnixNano() // Inclusive end date
	assert.Equal(t, fmt.Sprintf(
		"https://api.example.com/v3/trades/AAPL?timestamp.gte=%d&timestamp.lte=%d&limit=50000",
		startNanos, endNanos), url)
}

func TestHistoricalClient_FetchPage(t *testing.T) {
	var gotKeys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKeys = append(gotKeys, r.URL.Query().Get("apiKey"))
		switch r.URL.Path {
		case "/v3/trades/AAPL":
			fmt.Fprintf(w, `{
				"results": [
					{"price": 100.0, "size": 1000, "exchange": 4, "trf_id": 201,
					 "trf_timestamp": 1767367800000000000, "participant_timestamp": 1767367799000000000},
					{"price": 100.02, "size": 500, "exchange": 11, "participant_timestamp": 1767367801000000000}
				],
				"next_url": %q
			}`, "http://"+r.Host+"/v3/trades/AAPL/page2")
		case "/v3/trades/AAPL/page2":
			fmt.Fprint(w, `{"results": []}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	page, err := client.FetchPage(ctx, server.URL+"/v3/trades/AAPL?limit=50000")
	require.NoError(t, err)
	require.Len(t, page.Trades, 2)
	assert.NotEmpty(t, page.NextURL)

	dark := page.Trades[0]
	assert.Equal(t, 100.0, dark.Price)
	require.NotNil(t, dark.TRFID)
	assert.Equal(t, int64(201), *dark.TRFID)
	require.NotNil(t, dark.TRFTime)

	// The cursor comes back unsigned and must be re-signed on the next call.
	last, err := client.FetchPage(ctx, page.NextURL)
	require.NoError(t, err)
	assert.Empty(t, last.Trades)
	assert.Empty(t, last.NextURL)

	require.Len(t, gotKeys, 2)
	assert.Equal(t, "test-key", gotKeys[0])
	assert.Equal(t, "test-key", gotKeys[1])
}

func TestHistoricalClient_FetchPage_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FetchPage(context.Background(), server.URL+"/v3/trades/AAPL")
	assert.ErrorIs(t, err, ports.ErrFetchFailed)
}

func TestHistoricalClient_FetchPage_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FetchPage(context.Background(), server.URL+"/v3/trades/AAPL")
	assert.ErrorIs(t, err, ports.ErrFetchFailed)
}
