package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"darkflow/config"
	"darkflow/internal/domain"
	"darkflow/internal/ingest"
	"darkflow/internal/jobs"
	"darkflow/internal/levels"
	"darkflow/internal/ports"
	"darkflow/internal/volume"
)

// queueDepthInterval is how often the ingestion queue depth is logged.
const queueDepthInterval = 30 * time.Second

// Service orchestrates the real-time ingestion loop and exposes the
// historical analysis operations (jobs and levels) to callers.
type Service struct {
	cfg          *config.Config
	logger       ports.Logger
	stream       ports.TradeStream
	pipeline     *ingest.Pipeline
	orchestrator *jobs.Orchestrator
	registry     *levels.Registry
	tradeRepo    ports.TradeRepository
}

// Deps bundles the adapters the service is built from. The service only
// sees the port interfaces and the internal components wired in main.
type Deps struct {
	Stream     ports.TradeStream
	TradeRepo  ports.TradeRepository
	LevelRepo  ports.LevelRepository
	JobRepo    ports.JobRepository
	Historical ports.HistoricalTradeProvider
	Parser     func(message []byte) ([]*domain.Trade, error)
}

// NewService creates the application service and wires the internal
// components from the given adapters.
func NewService(cfg *config.Config, logger ports.Logger, deps Deps) (*Service, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if deps.Stream == nil || deps.TradeRepo == nil || deps.LevelRepo == nil || deps.JobRepo == nil || deps.Historical == nil || deps.Parser == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}

	pipeline, err := ingest.New(ingest.Config{
		QueueSize:  cfg.QueueSize,
		Workers:    cfg.WorkerCount,
		Parser:     deps.Parser,
		Thresholds: cfg.Thresholds,
		Repo:       deps.TradeRepo,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build ingestion pipeline: %w", err)
	}

	walker, err := volume.New(volume.Config{
		Provider: deps.Historical,
		MaxPages: cfg.MaxPages,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build volume walker: %w", err)
	}

	registry, err := levels.NewRegistry(deps.LevelRepo, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build level registry: %w", err)
	}

	orchestrator, err := jobs.New(deps.JobRepo, walker, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build job orchestrator: %w", err)
	}

	return &Service{
		cfg:          cfg,
		logger:       logger,
		stream:       deps.Stream,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		registry:     registry,
		tradeRepo:    deps.TradeRepo,
	}, nil
}

// Start runs the ingestion loop until the context is cancelled or a
// shutdown signal arrives. It blocks for the life of the application.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting ingestion service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	s.pipeline.Start(ctx)
	go s.reportQueueDepth(ctx)

	// Run blocks until the context is cancelled; every disconnect inside
	// is retried with a fixed delay, so an error return means shutdown.
	err := s.stream.Run(ctx, s.pipeline.Enqueue)

	s.logger.Info(ctx, "Waiting for ingestion workers to drain...")
	s.pipeline.Wait()
	s.logger.Info(ctx, "Ingestion service stopped")

	if err != nil && ctx.Err() != nil {
		return nil // Clean shutdown
	}
	return err
}

func (s *Service) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Debug(ctx, "Ingestion queue depth", map[string]interface{}{
				"depth":    s.pipeline.QueueDepth(),
				"capacity": s.cfg.QueueSize,
			})
		}
	}
}

// --- Historical analysis operations ---

// StartJob creates a job and launches it on its own goroutine. The job id
// is returned immediately; callers poll JobStatus for progress.
func (s *Service) StartJob(ctx context.Context, req jobs.Request) (*domain.Job, error) {
	job, err := s.orchestrator.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	// Detach from the caller's context; the job outlives the request.
	go s.orchestrator.Run(context.WithoutCancel(ctx), job.ID)
	return job, nil
}

// JobStatus returns the current state of a job.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.orchestrator.Status(ctx, jobID)
}

// RecentJobs returns the most recently created jobs.
func (s *Service) RecentJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.orchestrator.Recent(ctx, limit)
}

// LinkJob applies a completed job's result to a level.
func (s *Service) LinkJob(ctx context.Context, jobID string, levelID int64) error {
	return s.orchestrator.Link(ctx, jobID, levelID)
}

// DeleteJob removes a job record.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	return s.orchestrator.Delete(ctx, jobID)
}

// CreateLevel declares a new supply or demand level.
func (s *Service) CreateLevel(ctx context.Context, ticker string, price float64, levelType domain.LevelType, name string) (*domain.Level, error) {
	return s.registry.Create(ctx, ticker, price, levelType, name)
}

// Levels returns the active levels for a ticker with volume tracking.
func (s *Service) Levels(ctx context.Context, ticker string) ([]*levels.LevelSummary, error) {
	return s.registry.Levels(ctx, ticker)
}

// LevelTimeline returns levels with their ordered absorption segments.
func (s *Service) LevelTimeline(ctx context.Context, ticker string) ([]*levels.LevelSummary, error) {
	return s.registry.Timeline(ctx, ticker)
}

// DeactivateLevel soft-deletes a level.
func (s *Service) DeactivateLevel(ctx context.Context, levelID int64) error {
	return s.registry.Deactivate(ctx, levelID)
}

// DeleteLevel removes a level and its tracking data and segments.
func (s *Service) DeleteLevel(ctx context.Context, levelID int64) error {
	return s.registry.Delete(ctx, levelID)
}

// TradeCount reports how many stored trades of a class exist for a ticker.
func (s *Service) TradeCount(ctx context.Context, class domain.Classification, ticker string) (int64, error) {
	return s.tradeRepo.CountTrades(ctx, class, ticker)
}

// RecentTrades lists the newest stored trades of a class for a ticker.
func (s *Service) RecentTrades(ctx context.Context, class domain.Classification, ticker string, limit int) ([]*domain.StoredTrade, error) {
	return s.tradeRepo.RecentTrades(ctx, class, ticker, limit)
}
