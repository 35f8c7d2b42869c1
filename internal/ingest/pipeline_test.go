package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkflow/internal/adapters/polygon"
	"darkflow/internal/domain"
	"darkflow/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// captureRepo records every stored batch.
type captureRepo struct {
	mu      sync.Mutex
	batches [][]ports.ClassifiedTrade
	err     error
	stored  chan struct{}
}

func newCaptureRepo() *captureRepo {
	return &captureRepo{stored: make(chan struct{}, 16)}
}

func (c *captureRepo) StoreTrades(ctx context.Context, batch []ports.ClassifiedTrade) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		c.stored <- struct{}{}
		return 0, c.err
	}
	c.batches = append(c.batches, batch)
	c.stored <- struct{}{}
	return len(batch), nil
}

func (c *captureRepo) CountTrades(ctx context.Context, class domain.Classification, ticker string) (int64, error) {
	return 0, nil
}

func (c *captureRepo) RecentTrades(ctx context.Context, class domain.Classification, ticker string, limit int) ([]*domain.StoredTrade, error) {
	return nil, nil
}

func (c *captureRepo) all() [][]ports.ClassifiedTrade {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

func newTestPipeline(t *testing.T, repo ports.TradeRepository) *Pipeline {
	t.Helper()
	p, err := New(Config{
		QueueSize:  64,
		Workers:    4,
		Parser:     polygon.ParseFeedMessage,
		Thresholds: domain.DefaultThresholds(),
		Repo:       repo,
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)
	return p
}

func waitStored(t *testing.T, repo *captureRepo) {
	t.Helper()
	select {
	case <-repo.stored:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch to be stored")
	}
}

func TestPipeline_ConfigValidation(t *testing.T) {
	repo := newCaptureRepo()
	base := Config{
		QueueSize: 1, Workers: 1,
		Parser: polygon.ParseFeedMessage, Repo: repo, Logger: &mockLogger{},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing repo", mutate: func(c *Config) { c.Repo = nil }},
		{name: "missing logger", mutate: func(c *Config) { c.Logger = nil }},
		{name: "missing parser", mutate: func(c *Config) { c.Parser = nil }},
		{name: "zero queue", mutate: func(c *Config) { c.QueueSize = 0 }},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestPipeline_StoresQualifyingTrades(t *testing.T) {
	repo := newCaptureRepo()
	p := newTestPipeline(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// One dark block, one lit print, one small print that must be dropped.
	message := []byte(`[
		{"ev":"T","sym":"AAPL","p":50.0,"s":12000,"x":4,"trfi":201,"trft":1767367800000,"t":1767367800000,"c":[12,37]},
		{"ev":"T","sym":"MSFT","p":300.0,"s":50000,"x":11,"t":1767367800000},
		{"ev":"T","sym":"GME","p":5.0,"s":10,"x":11,"t":1767367800000}
	]`)
	p.Enqueue(message)
	waitStored(t, repo)

	batches := repo.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, domain.ClassBlock, batches[0][0].Class)
	assert.Equal(t, "AAPL", batches[0][0].Trade.Ticker)
	assert.Equal(t, domain.ClassLit, batches[0][1].Class)
	assert.Equal(t, "MSFT", batches[0][1].Trade.Ticker)
}

func TestPipeline_SkipsMalformedMessages(t *testing.T) {
	repo := newCaptureRepo()
	p := newTestPipeline(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Enqueue([]byte(`{"not":"an array"}`))
	p.Enqueue([]byte(`garbage`))
	// A status message parses but contains no trade events.
	p.Enqueue([]byte(`[{"ev":"status","message":"connected"}]`))
	// Finally a real trade proves the workers survived the junk.
	p.Enqueue([]byte(`[{"ev":"T","sym":"MSFT","p":300.0,"s":50000,"x":11,"t":1767367800000}]`))
	waitStored(t, repo)

	batches := repo.all()
	require.Len(t, batches, 1)
	assert.Equal(t, "MSFT", batches[0][0].Trade.Ticker)
}

func TestPipeline_PersistenceFailureDoesNotStopWorkers(t *testing.T) {
	repo := newCaptureRepo()
	repo.err = errors.New("disk full")
	p := newTestPipeline(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	message := []byte(`[{"ev":"T","sym":"MSFT","p":300.0,"s":50000,"x":11,"t":1767367800000}]`)
	p.Enqueue(message)
	waitStored(t, repo)

	// Clear the fault; the next message must still be processed.
	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()
	p.Enqueue(message)
	waitStored(t, repo)

	require.Len(t, repo.all(), 1)
}

func TestPipeline_WaitReturnsAfterCancel(t *testing.T) {
	repo := newCaptureRepo()
	p := newTestPipeline(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after cancellation")
	}
}
