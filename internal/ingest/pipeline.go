package ingest

import (
	"context"
	"fmt"
	"sync"

	"darkflow/internal/domain"
	"darkflow/internal/ports"
)

// Pipeline drains raw feed messages from a bounded queue with a fixed pool
// of workers. Each worker parses a message as a batch of trade events,
// classifies each event and persists the qualifying ones in a single
// transaction per message.
type Pipeline struct {
	queue      chan []byte
	workers    int
	parser     func(message []byte) ([]*domain.Trade, error)
	thresholds domain.Thresholds
	repo       ports.TradeRepository
	logger     ports.Logger
	wg         sync.WaitGroup
}

// Config holds configuration for the ingestion pipeline.
type Config struct {
	QueueSize  int
	Workers    int
	Parser     func(message []byte) ([]*domain.Trade, error)
	Thresholds domain.Thresholds
	Repo       ports.TradeRepository
	Logger     ports.Logger
}

// New creates an ingestion pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Repo == nil || cfg.Logger == nil || cfg.Parser == nil {
		return nil, fmt.Errorf("%w: repo, logger and parser are required", ports.ErrConfigurationError)
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("%w: queue size must be positive", ports.ErrConfigurationError)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: worker count must be positive", ports.ErrConfigurationError)
	}
	return &Pipeline{
		queue:      make(chan []byte, cfg.QueueSize),
		workers:    cfg.Workers,
		parser:     cfg.Parser,
		thresholds: cfg.Thresholds,
		repo:       cfg.Repo,
		logger:     cfg.Logger,
	}, nil
}

// Start launches the worker pool. Workers run until the context is
// cancelled; Wait blocks until they have all returned.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 1; i <= p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	p.logger.Info(ctx, "Ingestion workers started", map[string]interface{}{
		"workers":   p.workers,
		"queueSize": cap(p.queue),
	})
}

// Wait blocks until all workers have stopped.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Enqueue pushes one raw feed message onto the queue. It blocks when the
// queue is full: stalling ingestion is preferable to dropping messages or
// buffering without bound.
func (p *Pipeline) Enqueue(message []byte) {
	p.queue <- message
}

// QueueDepth reports the number of queued messages, for logging.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-p.queue:
			p.process(ctx, id, message)
		}
	}
}

// process handles one message. A malformed message is skipped and logged; a
// persistence error drops the whole batch (logged, not retried) and the
// worker moves on, accepting a visible gap over a stalled feed.
func (p *Pipeline) process(ctx context.Context, workerID int, message []byte) {
	trades, err := p.parser(message)
	if err != nil {
		p.logger.Warn(ctx, "Skipping malformed feed message", map[string]interface{}{
			"worker": workerID,
			"error":  err.Error(),
		})
		return
	}

	batch := make([]ports.ClassifiedTrade, 0, len(trades))
	for _, t := range trades {
		switch class := domain.Classify(t, p.thresholds); class {
		case domain.ClassBlock, domain.ClassLit:
			batch = append(batch, ports.ClassifiedTrade{Trade: t, Class: class})
		}
	}
	if len(batch) == 0 {
		return
	}

	if _, err := p.repo.StoreTrades(ctx, batch); err != nil {
		p.logger.Error(ctx, err, "Dropping trade batch after persistence failure", map[string]interface{}{
			"worker": workerID,
			"batch":  len(batch),
		})
	}
}
