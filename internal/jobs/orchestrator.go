package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"darkflow/internal/domain"
	"darkflow/internal/levels"
	"darkflow/internal/ports"
	"darkflow/internal/volume"
)

const defaultTolerance = 0.025

// Progress milestones reported while a job runs. They exist purely for user
// feedback; no correctness depends on the exact values.
const (
	progressStarting = 10
	progressFetching = 30
	progressUpdating = 85
	progressDone     = 100
)

// Request describes a volume or absorption analysis to run. All optional
// knobs are explicit fields with defaults resolved once at creation.
type Request struct {
	Ticker       string
	LevelPrice   float64
	StartDate    string  // YYYY-MM-DD
	EndDate      string  // YYYY-MM-DD, inclusive
	Tolerance    float64 // Defaults to 0.025 when zero
	LevelID      *int64  // Level to update on completion; required for absorption
	IsAbsorption bool
}

// Orchestrator tracks background analysis jobs. The jobs table is the
// single source of truth for job state; there is no parallel in-memory map.
type Orchestrator struct {
	repo     ports.JobRepository
	walker   *volume.Walker
	registry *levels.Registry
	logger   ports.Logger
}

// New creates a job orchestrator.
func New(repo ports.JobRepository, walker *volume.Walker, registry *levels.Registry, logger ports.Logger) (*Orchestrator, error) {
	if repo == nil || walker == nil || registry == nil || logger == nil {
		return nil, fmt.Errorf("%w: repo, walker, registry and logger are required", ports.ErrConfigurationError)
	}
	return &Orchestrator{repo: repo, walker: walker, registry: registry, logger: logger}, nil
}

// Create validates the request, persists a job in state created with
// progress 0 and returns it. The analytic work is not started here.
func (o *Orchestrator) Create(ctx context.Context, req Request) (*domain.Job, error) {
	job, err := req.toJob()
	if err != nil {
		return nil, err
	}
	if err := o.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.logger.Info(ctx, "Job created", map[string]interface{}{
		"jobID":      job.ID,
		"ticker":     job.Ticker,
		"levelPrice": job.LevelPrice,
		"absorption": job.IsAbsorption,
	})
	return job, nil
}

// Run drives one job to a terminal state. It is meant to be invoked on its
// own goroutine and not awaited; all outcomes, including failures, end up
// in the job record rather than in the returned error of a caller.
func (o *Orchestrator) Run(ctx context.Context, jobID string) {
	job, err := o.repo.JobByID(ctx, jobID)
	if err != nil {
		o.logger.Error(ctx, err, "Cannot load job to run", map[string]interface{}{"jobID": jobID})
		return
	}
	if job == nil {
		o.logger.Warn(ctx, "Job to run not found", map[string]interface{}{"jobID": jobID})
		return
	}
	if !job.Status.CanTransitionTo(domain.JobRunning) {
		o.logger.Warn(ctx, "Job not runnable", map[string]interface{}{"jobID": jobID, "status": string(job.Status)})
		return
	}

	job.Status = domain.JobRunning
	o.setProgress(ctx, job, progressStarting)

	o.setProgress(ctx, job, progressFetching)
	result, err := o.walker.Walk(ctx, job.Ticker, job.LevelPrice, job.Tolerance, job.StartDate, job.EndDate)
	if err != nil {
		o.fail(ctx, job, err)
		return
	}

	o.setProgress(ctx, job, progressUpdating)
	if job.LevelID != nil {
		if err := o.applyToLevel(ctx, job, *job.LevelID, result); err != nil {
			o.fail(ctx, job, err)
			return
		}
	}

	job.Result = result
	job.Status = domain.JobCompleted
	job.Progress = progressDone
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		o.logger.Error(ctx, err, "Failed to persist completed job", map[string]interface{}{"jobID": job.ID})
		return
	}
	o.logger.Info(ctx, "Job completed", map[string]interface{}{
		"jobID":  job.ID,
		"trades": result.TotalTrades,
		"volume": result.TotalVolume,
		"pages":  result.Pages,
	})
}

// Status returns the job's current state from the store.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.repo.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ports.ErrJobNotFound)
	}
	return job, nil
}

// Recent returns the most recently created jobs.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]*domain.Job, error) {
	return o.repo.RecentJobs(ctx, limit)
}

// Link applies a completed job's result to a level, as baseline or
// absorption data per the job's flag. Re-linking re-applies the same
// update; duplicate links are not detected.
func (o *Orchestrator) Link(ctx context.Context, jobID string, levelID int64) error {
	job, err := o.repo.JobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s: %w", jobID, ports.ErrJobNotFound)
	}
	if job.Status != domain.JobCompleted || job.Result == nil {
		return fmt.Errorf("job %s: %w", jobID, ports.ErrJobNotCompleted)
	}

	if err := o.applyToLevel(ctx, job, levelID, job.Result); err != nil {
		return err
	}
	job.LevelID = &levelID
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return err
	}
	o.logger.Info(ctx, "Job linked to level", map[string]interface{}{"jobID": jobID, "levelID": levelID})
	return nil
}

// Delete removes a job record.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	return o.repo.DeleteJob(ctx, jobID)
}

func (o *Orchestrator) applyToLevel(ctx context.Context, job *domain.Job, levelID int64, result *domain.VolumeResult) error {
	if job.IsAbsorption {
		return o.registry.RecordAbsorption(ctx, levelID, job.ID, result, job.StartDate, job.EndDate)
	}
	return o.registry.SetBaseline(ctx, levelID, result, job.Tolerance, job.StartDate, job.EndDate)
}

// setProgress persists a progress milestone; failures are logged, not
// fatal, since milestones are feedback only.
func (o *Orchestrator) setProgress(ctx context.Context, job *domain.Job, progress int) {
	job.Progress = progress
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		o.logger.Warn(ctx, "Failed to persist job progress", map[string]interface{}{
			"jobID":    job.ID,
			"progress": progress,
			"error":    err.Error(),
		})
	}
}

// fail moves a job to the failed terminal state with a human-readable
// message. Failed jobs are never auto-retried.
func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, cause error) {
	job.Status = domain.JobFailed
	job.Error = cause.Error()
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		o.logger.Error(ctx, err, "Failed to persist failed job", map[string]interface{}{"jobID": job.ID})
	}
	o.logger.Error(ctx, cause, "Job failed", map[string]interface{}{"jobID": job.ID})
}

// toJob validates the request and materializes a fresh job record.
func (r Request) toJob() (*domain.Job, error) {
	if r.Ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", ports.ErrInvalidRequest)
	}
	if r.LevelPrice <= 0 {
		return nil, fmt.Errorf("%w: level price must be positive", ports.ErrInvalidRequest)
	}
	if r.IsAbsorption && r.LevelID == nil {
		return nil, fmt.Errorf("%w: level id is required for absorption analysis", ports.ErrInvalidRequest)
	}
	start, err := time.Parse("2006-01-02", r.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid start date %q", ports.ErrInvalidRequest, r.StartDate)
	}
	end, err := time.Parse("2006-01-02", r.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid end date %q", ports.ErrInvalidRequest, r.EndDate)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date precedes start date", ports.ErrInvalidRequest)
	}
	tolerance := r.Tolerance
	if tolerance == 0 {
		tolerance = defaultTolerance
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("%w: tolerance cannot be negative", ports.ErrInvalidRequest)
	}

	return &domain.Job{
		ID:           uuid.NewString(),
		Ticker:       strings.ToUpper(r.Ticker),
		LevelPrice:   r.LevelPrice,
		LevelID:      r.LevelID,
		Tolerance:    tolerance,
		StartDate:    start,
		EndDate:      end,
		IsAbsorption: r.IsAbsorption,
		Status:       domain.JobCreated,
		Progress:     0,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
