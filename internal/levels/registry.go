package levels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"darkflow/internal/domain"
	"darkflow/internal/ports"
)

// Registry manages supply/demand levels, their baseline volume and their
// absorption history. Absorbed totals are always derived from the segment
// table, never read-modified-written, so concurrent absorption jobs for the
// same level converge on the correct sum.
type Registry struct {
	repo   ports.LevelRepository
	logger ports.Logger
}

// LevelSummary is one level together with its derived volume data.
type LevelSummary struct {
	Level    *domain.Level
	Tracking *domain.VolumeTracking      // nil when no baseline has been set
	Segments []*domain.AbsorptionSegment // populated by Timeline, ordered by date_start
}

// NewRegistry creates a level registry.
func NewRegistry(repo ports.LevelRepository, logger ports.Logger) (*Registry, error) {
	if repo == nil || logger == nil {
		return nil, fmt.Errorf("%w: repo and logger are required", ports.ErrConfigurationError)
	}
	return &Registry{repo: repo, logger: logger}, nil
}

// Create declares a new level. Ticker is normalized to upper case; a level
// is unique per (ticker, price).
func (r *Registry) Create(ctx context.Context, ticker string, price float64, levelType domain.LevelType, name string) (*domain.Level, error) {
	if ticker == "" || price <= 0 {
		return nil, fmt.Errorf("%w: ticker and a positive price are required", ports.ErrInvalidRequest)
	}
	if !levelType.Valid() {
		return nil, fmt.Errorf("%w: level type must be %q or %q", ports.ErrInvalidRequest, domain.LevelSupply, domain.LevelDemand)
	}

	level := &domain.Level{
		Ticker:    strings.ToUpper(ticker),
		Price:     price,
		Type:      levelType,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	if _, err := r.repo.CreateLevel(ctx, level); err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "Level created", map[string]interface{}{
		"levelID": level.ID,
		"ticker":  level.Ticker,
		"price":   level.Price,
		"type":    string(level.Type),
	})
	return level, nil
}

// Levels returns the active levels for a ticker with their volume tracking.
func (r *Registry) Levels(ctx context.Context, ticker string) ([]*LevelSummary, error) {
	return r.summaries(ctx, ticker, false)
}

// Timeline returns the active levels for a ticker with tracking and the
// ordered absorption segments, for timeline reconstruction.
func (r *Registry) Timeline(ctx context.Context, ticker string) ([]*LevelSummary, error) {
	return r.summaries(ctx, ticker, true)
}

func (r *Registry) summaries(ctx context.Context, ticker string, withSegments bool) ([]*LevelSummary, error) {
	levels, err := r.repo.LevelsByTicker(ctx, strings.ToUpper(ticker))
	if err != nil {
		return nil, err
	}
	summaries := make([]*LevelSummary, 0, len(levels))
	for _, level := range levels {
		tracking, err := r.repo.Tracking(ctx, level.ID)
		if err != nil {
			return nil, err
		}
		summary := &LevelSummary{Level: level, Tracking: tracking}
		if withSegments {
			segments, err := r.repo.SegmentsByLevel(ctx, level.ID)
			if err != nil {
				return nil, err
			}
			summary.Segments = segments
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Deactivate soft-deletes a level.
func (r *Registry) Deactivate(ctx context.Context, levelID int64) error {
	return r.repo.DeactivateLevel(ctx, levelID)
}

// Delete hard-deletes a level and all its tracking data and segments.
func (r *Registry) Delete(ctx context.Context, levelID int64) error {
	return r.repo.DeleteLevel(ctx, levelID)
}

// SetBaseline records a job result as the level's original volume. Setting
// a baseline twice discards the prior one; a level has exactly one current
// baseline. Absorption history is left untouched.
func (r *Registry) SetBaseline(ctx context.Context, levelID int64, result *domain.VolumeResult, tolerance float64, start, end time.Time) error {
	level, err := r.repo.LevelByID(ctx, levelID)
	if err != nil {
		return err
	}
	if level == nil {
		return fmt.Errorf("level %d: %w", levelID, ports.ErrLevelNotFound)
	}

	tracking := &domain.VolumeTracking{
		LevelID:        levelID,
		PriceRangeLow:  level.Price - tolerance,
		PriceRangeHigh: level.Price + tolerance,
		OriginalVolume: result.TotalVolume,
		OriginalValue:  result.TotalValue,
		OriginalStart:  start,
		OriginalEnd:    end,
		LastUpdated:    time.Now().UTC(),
	}
	if err := r.repo.UpsertBaseline(ctx, tracking); err != nil {
		return err
	}
	// A fresh baseline changes the denominator; refresh the derived fields.
	if err := r.repo.RecalcAbsorbed(ctx, levelID); err != nil {
		return err
	}
	r.logger.Info(ctx, "Baseline recorded", map[string]interface{}{
		"levelID":        levelID,
		"originalVolume": result.TotalVolume,
	})
	return nil
}

// RecordAbsorption appends one job's contribution as an immutable segment
// and recomputes the level's cumulative absorbed totals from the segment
// table. It requires an existing baseline. Over-absorption (cumulative
// volume above the baseline) is a valid outcome.
func (r *Registry) RecordAbsorption(ctx context.Context, levelID int64, jobID string, result *domain.VolumeResult, start, end time.Time) error {
	tracking, err := r.repo.Tracking(ctx, levelID)
	if err != nil {
		return err
	}
	if tracking == nil || tracking.OriginalVolume <= 0 {
		return fmt.Errorf("level %d: %w", levelID, ports.ErrNoBaseline)
	}

	seg := &domain.AbsorptionSegment{
		JobID:     jobID,
		LevelID:   levelID,
		Volume:    result.TotalVolume,
		Value:     result.TotalValue,
		Trades:    result.TotalTrades,
		DateStart: start,
		DateEnd:   end,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.repo.AppendSegment(ctx, seg); err != nil {
		return err
	}
	if err := r.repo.RecalcAbsorbed(ctx, levelID); err != nil {
		return err
	}
	r.logger.Info(ctx, "Absorption segment recorded", map[string]interface{}{
		"levelID": levelID,
		"jobID":   jobID,
		"volume":  result.TotalVolume,
	})
	return nil
}
