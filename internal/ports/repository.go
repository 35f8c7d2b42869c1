package ports

import (
	"context"

	"darkflow/internal/domain"
)

// ClassifiedTrade pairs a raw trade with its classification for storage.
type ClassifiedTrade struct {
	Trade *domain.Trade
	Class domain.Classification
}

// TradeRepository persists classified trades into the block/lit tables.
type TradeRepository interface {
	// StoreTrades writes a batch of classified trades in a single
	// transaction. Redundant deliveries of the same physical trade are
	// absorbed silently; the returned count is the number of new rows.
	// Trades classified as reject must not appear in the batch.
	StoreTrades(ctx context.Context, batch []ClassifiedTrade) (int, error)
	// CountTrades returns the number of stored trades of the given class
	// for a ticker.
	CountTrades(ctx context.Context, class domain.Classification, ticker string) (int64, error)
	// RecentTrades returns the newest stored trades of the given class for
	// a ticker, up to a limit, newest first.
	RecentTrades(ctx context.Context, class domain.Classification, ticker string, limit int) ([]*domain.StoredTrade, error)
}

// LevelRepository stores supply/demand levels, their volume tracking record
// and their absorption segments.
type LevelRepository interface {
	// CreateLevel saves a new level and returns its assigned ID.
	CreateLevel(ctx context.Context, level *domain.Level) (int64, error)
	// LevelByID retrieves a level by ID. Returns nil, nil if not found.
	LevelByID(ctx context.Context, id int64) (*domain.Level, error)
	// LevelsByTicker retrieves the active levels for a ticker, ordered by price.
	LevelsByTicker(ctx context.Context, ticker string) ([]*domain.Level, error)
	// DeactivateLevel soft-deletes a level via its active flag.
	DeactivateLevel(ctx context.Context, id int64) error
	// DeleteLevel hard-deletes a level together with its volume tracking
	// and absorption segments.
	DeleteLevel(ctx context.Context, id int64) error

	// Tracking retrieves the volume tracking record for a level.
	// Returns nil, nil if the level has no baseline yet.
	Tracking(ctx context.Context, levelID int64) (*domain.VolumeTracking, error)
	// UpsertBaseline sets the original volume/value/date-range for a level.
	// A second baseline replaces the first; absorbed fields are untouched.
	UpsertBaseline(ctx context.Context, tracking *domain.VolumeTracking) error

	// AppendSegment inserts an immutable absorption segment and returns its ID.
	AppendSegment(ctx context.Context, seg *domain.AbsorptionSegment) (int64, error)
	// SegmentsByLevel retrieves a level's segments ordered by date_start.
	SegmentsByLevel(ctx context.Context, levelID int64) ([]*domain.AbsorptionSegment, error)
	// RecalcAbsorbed recomputes the cached absorbed volume/value and the
	// absorption percentage from the segments table in a single statement,
	// so concurrent absorption jobs cannot lose each other's contribution.
	RecalcAbsorbed(ctx context.Context, levelID int64) error
}

// JobRepository is the single source of truth for background jobs.
type JobRepository interface {
	// CreateJob persists a freshly created job.
	CreateJob(ctx context.Context, job *domain.Job) error
	// UpdateJob writes the job's current status/progress/result/error.
	UpdateJob(ctx context.Context, job *domain.Job) error
	// JobByID retrieves a job. Returns nil, nil if not found.
	JobByID(ctx context.Context, id string) (*domain.Job, error)
	// RecentJobs retrieves the most recently created jobs, up to a limit.
	RecentJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	// DeleteJob removes a job record.
	DeleteJob(ctx context.Context, id string) error
}
