package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"darkflow/internal/domain"
	"darkflow/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository, ports.LevelRepository and
// ports.JobRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/darkflow.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the ingest workers and job queries
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, fmt.Errorf("%w: %v", ports.ErrDBConnection, err)
	}

	// SQLite handles concurrency internally; the Go driver benefits from limiting connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS block_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_time TIMESTAMP NOT NULL,
		ticker TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		trade_value REAL NOT NULL,
		conditions TEXT,
		exchange INTEGER NOT NULL,
		trf_id INTEGER NOT NULL,
		trf_timestamp TIMESTAMP,
		UNIQUE (ticker, trade_time, price, quantity, trf_id)
	);

	CREATE TABLE IF NOT EXISTS lit_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_time TIMESTAMP NOT NULL,
		ticker TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		trade_value REAL NOT NULL,
		conditions TEXT,
		exchange INTEGER NOT NULL,
		UNIQUE (ticker, trade_time, price, quantity, exchange)
	);

	CREATE TABLE IF NOT EXISTS levels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		level_price REAL NOT NULL,
		level_type TEXT NOT NULL,
		level_name TEXT,
		date_created TIMESTAMP NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		UNIQUE (ticker, level_price)
	);

	CREATE TABLE IF NOT EXISTS volume_tracking (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level_id INTEGER NOT NULL UNIQUE REFERENCES levels(id) ON DELETE CASCADE,
		price_range_low REAL NOT NULL DEFAULT 0,
		price_range_high REAL NOT NULL DEFAULT 0,
		original_volume INTEGER NOT NULL DEFAULT 0,
		original_value REAL NOT NULL DEFAULT 0,
		absorbed_volume INTEGER NOT NULL DEFAULT 0,
		absorbed_value REAL NOT NULL DEFAULT 0,
		absorption_percentage REAL NOT NULL DEFAULT 0,
		original_date_start TIMESTAMP,
		original_date_end TIMESTAMP,
		last_updated TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS absorption_segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		level_id INTEGER NOT NULL REFERENCES levels(id) ON DELETE CASCADE,
		volume INTEGER NOT NULL,
		value REAL NOT NULL,
		trades INTEGER NOT NULL,
		date_start TIMESTAMP NOT NULL,
		date_end TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		level_price REAL NOT NULL,
		level_id INTEGER,
		tolerance REAL NOT NULL,
		date_start TIMESTAMP NOT NULL,
		date_end TIMESTAMP NOT NULL,
		is_absorption INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		result_data TEXT,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL
	);

	-- Indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_block_trades_ticker_time ON block_trades (ticker, trade_time);
	CREATE INDEX IF NOT EXISTS idx_lit_trades_ticker_time ON lit_trades (ticker, trade_time);
	CREATE INDEX IF NOT EXISTS idx_levels_ticker ON levels (ticker, is_active);
	CREATE INDEX IF NOT EXISTS idx_segments_level ON absorption_segments (level_id, date_start);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// StoreTrades writes a batch of classified trades in a single transaction.
// INSERT OR IGNORE against the natural-key unique constraints makes
// redundant deliveries of the same physical trade a silent no-op.
func (r *Repository) StoreTrades(ctx context.Context, batch []ports.ClassifiedTrade) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin trade batch transaction: %w", err)
	}
	defer tx.Rollback()

	const blockQuery = `
	INSERT OR IGNORE INTO block_trades
	  (trade_time, ticker, price, quantity, trade_value, conditions, exchange, trf_id, trf_timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	const litQuery = `
	INSERT OR IGNORE INTO lit_trades
	  (trade_time, ticker, price, quantity, trade_value, conditions, exchange)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	stored := 0
	for _, ct := range batch {
		t := ct.Trade
		storageTime, err := t.StorageTime()
		if err != nil {
			return 0, fmt.Errorf("unstorable trade for %s in batch: %w", t.Ticker, err)
		}
		conditions, err := json.Marshal(t.Conditions)
		if err != nil {
			return 0, fmt.Errorf("failed to encode conditions for %s: %w", t.Ticker, err)
		}

		var res sql.Result
		switch ct.Class {
		case domain.ClassBlock:
			var trfTime sql.NullTime
			if t.TRFTime != nil {
				trfTime = sql.NullTime{Time: *t.TRFTime, Valid: true}
			}
			res, err = tx.ExecContext(ctx, blockQuery,
				storageTime, t.Ticker, t.Price, t.Size, t.Value(), string(conditions), t.Exchange, *t.TRFID, trfTime)
		case domain.ClassLit:
			res, err = tx.ExecContext(ctx, litQuery,
				storageTime, t.Ticker, t.Price, t.Size, t.Value(), string(conditions), t.Exchange)
		default:
			return 0, fmt.Errorf("%w: trade classified %q in storage batch", ports.ErrInvalidRequest, ct.Class)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to insert %s trade for %s: %w", ct.Class, t.Ticker, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			stored += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trade batch: %w", err)
	}
	r.logger.Debug(ctx, "Trade batch stored", map[string]interface{}{"batch": len(batch), "new": stored})
	return stored, nil
}

// CountTrades returns the number of stored trades of the given class for a ticker.
func (r *Repository) CountTrades(ctx context.Context, class domain.Classification, ticker string) (int64, error) {
	var query string
	switch class {
	case domain.ClassBlock:
		query = `SELECT COUNT(*) FROM block_trades WHERE ticker = ?`
	case domain.ClassLit:
		query = `SELECT COUNT(*) FROM lit_trades WHERE ticker = ?`
	default:
		return 0, fmt.Errorf("%w: cannot count trades of class %q", ports.ErrInvalidRequest, class)
	}
	var count int64
	if err := r.db.QueryRowContext(ctx, query, ticker).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s trades for %s: %w", class, ticker, err)
	}
	return count, nil
}

// RecentTrades returns the newest stored trades of the given class for a
// ticker, newest first.
func (r *Repository) RecentTrades(ctx context.Context, class domain.Classification, ticker string, limit int) ([]*domain.StoredTrade, error) {
	var query string
	switch class {
	case domain.ClassBlock:
		query = `
		SELECT id, ticker, price, quantity, trade_value, exchange, trf_id, trade_time, COALESCE(conditions, '')
		FROM block_trades WHERE ticker = ?
		ORDER BY trade_time DESC, id DESC LIMIT ?`
	case domain.ClassLit:
		query = `
		SELECT id, ticker, price, quantity, trade_value, exchange, NULL, trade_time, COALESCE(conditions, '')
		FROM lit_trades WHERE ticker = ?
		ORDER BY trade_time DESC, id DESC LIMIT ?`
	default:
		return nil, fmt.Errorf("%w: cannot list trades of class %q", ports.ErrInvalidRequest, class)
	}

	rows, err := r.db.QueryContext(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent %s trades for %s: %w", class, ticker, err)
	}
	defer rows.Close()

	trades := make([]*domain.StoredTrade, 0)
	for rows.Next() {
		st := &domain.StoredTrade{Class: class}
		var trfID sql.NullInt64
		var conditions string
		if err := rows.Scan(&st.ID, &st.Ticker, &st.Price, &st.Size, &st.Value,
			&st.Exchange, &trfID, &st.TradeTime, &conditions); err != nil {
			return nil, fmt.Errorf("failed to scan trade during RecentTrades: %w", err)
		}
		if trfID.Valid {
			st.TRFID = &trfID.Int64
		}
		if conditions != "" {
			if err := json.Unmarshal([]byte(conditions), &st.Conditions); err != nil {
				return nil, fmt.Errorf("failed to decode conditions for trade %d: %w", st.ID, err)
			}
		}
		trades = append(trades, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- LevelRepository Implementation ---

// CreateLevel saves a new level and returns its assigned ID.
func (r *Repository) CreateLevel(ctx context.Context, level *domain.Level) (int64, error) {
	const query = `
	INSERT INTO levels (ticker, level_price, level_type, level_name, date_created, is_active)
	VALUES (?, ?, ?, ?, ?, ?)`

	var name sql.NullString
	if level.Name != "" {
		name = sql.NullString{String: level.Name, Valid: true}
	}
	result, err := r.db.ExecContext(ctx, query,
		level.Ticker, level.Price, level.Type, name, level.CreatedAt, level.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("level at %.2f already exists for %s: %w", level.Price, level.Ticker, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert level for %s: %w", level.Ticker, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for level %s: %w", level.Ticker, err)
	}
	level.ID = id
	r.logger.Debug(ctx, "Level created", map[string]interface{}{"levelID": id, "ticker": level.Ticker, "price": level.Price})
	return id, nil
}

// LevelByID retrieves a level by its unique ID.
func (r *Repository) LevelByID(ctx context.Context, id int64) (*domain.Level, error) {
	const query = `
	SELECT id, ticker, level_price, level_type, COALESCE(level_name, ''), date_created, is_active
	FROM levels WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	level, err := scanLevel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query level by ID %d: %w", id, err)
	}
	return level, nil
}

// LevelsByTicker retrieves the active levels for a ticker, ordered by price.
func (r *Repository) LevelsByTicker(ctx context.Context, ticker string) ([]*domain.Level, error) {
	const query = `
	SELECT id, ticker, level_price, level_type, COALESCE(level_name, ''), date_created, is_active
	FROM levels WHERE ticker = ? AND is_active = 1
	ORDER BY level_price`

	rows, err := r.db.QueryContext(ctx, query, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels for ticker %s: %w", ticker, err)
	}
	defer rows.Close()

	levels := make([]*domain.Level, 0)
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan level during LevelsByTicker: %w", err)
		}
		levels = append(levels, level)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating level rows: %w", err)
	}
	return levels, nil
}

// DeactivateLevel soft-deletes a level via its active flag.
func (r *Repository) DeactivateLevel(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE levels SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate level %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for deactivate level %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("level %d: %w", id, ports.ErrLevelNotFound)
	}
	return nil
}

// DeleteLevel hard-deletes a level and its dependent volume tracking and
// absorption segments in one transaction.
func (r *Repository) DeleteLevel(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction for level %d: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM absorption_segments WHERE level_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete segments for level %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM volume_tracking WHERE level_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete volume tracking for level %d: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM levels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete level %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for delete level %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("level %d: %w", id, ports.ErrLevelNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of level %d: %w", id, err)
	}
	r.logger.Debug(ctx, "Level deleted", map[string]interface{}{"levelID": id})
	return nil
}

// Tracking retrieves the volume tracking record for a level.
func (r *Repository) Tracking(ctx context.Context, levelID int64) (*domain.VolumeTracking, error) {
	const query = `
	SELECT level_id, price_range_low, price_range_high,
	       original_volume, original_value, absorbed_volume, absorbed_value,
	       absorption_percentage, original_date_start, original_date_end, last_updated
	FROM volume_tracking WHERE level_id = ?`

	row := r.db.QueryRowContext(ctx, query, levelID)
	vt := &domain.VolumeTracking{}
	var origStart, origEnd sql.NullTime
	err := row.Scan(
		&vt.LevelID, &vt.PriceRangeLow, &vt.PriceRangeHigh,
		&vt.OriginalVolume, &vt.OriginalValue, &vt.AbsorbedVolume, &vt.AbsorbedValue,
		&vt.AbsorptionPct, &origStart, &origEnd, &vt.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No baseline set yet
		}
		return nil, fmt.Errorf("failed to query volume tracking for level %d: %w", levelID, err)
	}
	if origStart.Valid {
		vt.OriginalStart = origStart.Time
	}
	if origEnd.Valid {
		vt.OriginalEnd = origEnd.Time
	}
	return vt, nil
}

// UpsertBaseline sets the original volume/value/date-range for a level.
// Setting a baseline twice discards the prior one; absorbed fields and the
// segment history are left untouched.
func (r *Repository) UpsertBaseline(ctx context.Context, vt *domain.VolumeTracking) error {
	const query = `
	INSERT INTO volume_tracking
	  (level_id, price_range_low, price_range_high, original_volume, original_value,
	   absorbed_volume, absorbed_value, absorption_percentage,
	   original_date_start, original_date_end, last_updated)
	VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?)
	ON CONFLICT (level_id) DO UPDATE SET
	  price_range_low = excluded.price_range_low,
	  price_range_high = excluded.price_range_high,
	  original_volume = excluded.original_volume,
	  original_value = excluded.original_value,
	  original_date_start = excluded.original_date_start,
	  original_date_end = excluded.original_date_end,
	  last_updated = excluded.last_updated`

	_, err := r.db.ExecContext(ctx, query,
		vt.LevelID, vt.PriceRangeLow, vt.PriceRangeHigh, vt.OriginalVolume, vt.OriginalValue,
		vt.OriginalStart, vt.OriginalEnd, vt.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline for level %d: %w", vt.LevelID, err)
	}
	r.logger.Debug(ctx, "Baseline set", map[string]interface{}{"levelID": vt.LevelID, "originalVolume": vt.OriginalVolume})
	return nil
}

// AppendSegment inserts an immutable absorption segment and returns its ID.
func (r *Repository) AppendSegment(ctx context.Context, seg *domain.AbsorptionSegment) (int64, error) {
	const query = `
	INSERT INTO absorption_segments (job_id, level_id, volume, value, trades, date_start, date_end, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		seg.JobID, seg.LevelID, seg.Volume, seg.Value, seg.Trades, seg.DateStart, seg.DateEnd, seg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert absorption segment for level %d: %w", seg.LevelID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for segment on level %d: %w", seg.LevelID, err)
	}
	seg.ID = id
	return id, nil
}

// SegmentsByLevel retrieves a level's segments ordered by date_start.
func (r *Repository) SegmentsByLevel(ctx context.Context, levelID int64) ([]*domain.AbsorptionSegment, error) {
	const query = `
	SELECT id, job_id, level_id, volume, value, trades, date_start, date_end, created_at
	FROM absorption_segments WHERE level_id = ?
	ORDER BY date_start ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, levelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments for level %d: %w", levelID, err)
	}
	defer rows.Close()

	segments := make([]*domain.AbsorptionSegment, 0)
	for rows.Next() {
		seg := &domain.AbsorptionSegment{}
		if err := rows.Scan(&seg.ID, &seg.JobID, &seg.LevelID, &seg.Volume, &seg.Value,
			&seg.Trades, &seg.DateStart, &seg.DateEnd, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment during SegmentsByLevel: %w", err)
		}
		segments = append(segments, seg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment rows: %w", err)
	}
	return segments, nil
}

// RecalcAbsorbed recomputes the cached absorbed totals and the absorption
// percentage from the segments table in a single statement. The sum over
// segments is the derivation source of truth, so concurrent jobs cannot
// overwrite each other's contribution.
func (r *Repository) RecalcAbsorbed(ctx context.Context, levelID int64) error {
	const query = `
	UPDATE volume_tracking SET
	  absorbed_volume = COALESCE((SELECT SUM(volume) FROM absorption_segments WHERE level_id = ?), 0),
	  absorbed_value = COALESCE((SELECT SUM(value) FROM absorption_segments WHERE level_id = ?), 0),
	  absorption_percentage = CASE WHEN original_volume > 0 THEN
	      COALESCE((SELECT SUM(volume) FROM absorption_segments WHERE level_id = ?), 0) * 100.0 / original_volume
	    ELSE 0 END,
	  last_updated = ?
	WHERE level_id = ?`

	result, err := r.db.ExecContext(ctx, query, levelID, levelID, levelID, time.Now().UTC(), levelID)
	if err != nil {
		return fmt.Errorf("failed to recalculate absorbed totals for level %d: %w", levelID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for recalc on level %d: %w", levelID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("level %d: %w", levelID, ports.ErrNoBaseline)
	}
	return nil
}

// --- JobRepository Implementation ---

// CreateJob persists a freshly created job.
func (r *Repository) CreateJob(ctx context.Context, job *domain.Job) error {
	const query = `
	INSERT INTO jobs (job_id, ticker, level_price, level_id, tolerance, date_start, date_end,
	                  is_absorption, status, progress, result_data, error_message, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	resultData, errMsg, err := encodeJobResult(job)
	if err != nil {
		return err
	}
	var levelID sql.NullInt64
	if job.LevelID != nil {
		levelID = sql.NullInt64{Int64: *job.LevelID, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.Ticker, job.LevelPrice, levelID, job.Tolerance, job.StartDate, job.EndDate,
		job.IsAbsorption, job.Status, job.Progress, resultData, errMsg, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	r.logger.Debug(ctx, "Job created", map[string]interface{}{"jobID": job.ID, "ticker": job.Ticker})
	return nil
}

// UpdateJob writes the job's current status/progress/result/error.
func (r *Repository) UpdateJob(ctx context.Context, job *domain.Job) error {
	const query = `
	UPDATE jobs SET status = ?, progress = ?, result_data = ?, error_message = ?, level_id = ?
	WHERE job_id = ?`

	resultData, errMsg, err := encodeJobResult(job)
	if err != nil {
		return err
	}
	var levelID sql.NullInt64
	if job.LevelID != nil {
		levelID = sql.NullInt64{Int64: *job.LevelID, Valid: true}
	}
	result, err := r.db.ExecContext(ctx, query, job.Status, job.Progress, resultData, errMsg, levelID, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update job %s: %w", job.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ports.ErrJobNotFound)
	}
	return nil
}

// JobByID retrieves a job by its unique ID.
func (r *Repository) JobByID(ctx context.Context, id string) (*domain.Job, error) {
	const query = `
	SELECT job_id, ticker, level_price, level_id, tolerance, date_start, date_end,
	       is_absorption, status, progress, result_data, error_message, created_at
	FROM jobs WHERE job_id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query job by ID %s: %w", id, err)
	}
	return job, nil
}

// RecentJobs retrieves the most recently created jobs, up to a limit.
func (r *Repository) RecentJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	const query = `
	SELECT job_id, ticker, level_price, level_id, tolerance, date_start, date_end,
	       is_absorption, status, progress, result_data, error_message, created_at
	FROM jobs ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job during RecentJobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job record.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for delete job %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job %s: %w", id, ports.ErrJobNotFound)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLevel(s scanner) (*domain.Level, error) {
	l := &domain.Level{}
	var levelType string
	err := s.Scan(&l.ID, &l.Ticker, &l.Price, &levelType, &l.Name, &l.CreatedAt, &l.Active)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	l.Type = domain.LevelType(levelType)
	return l, nil
}

func scanJob(s scanner) (*domain.Job, error) {
	j := &domain.Job{}
	var levelID sql.NullInt64
	var resultData, errMsg sql.NullString
	var status string
	err := s.Scan(&j.ID, &j.Ticker, &j.LevelPrice, &levelID, &j.Tolerance, &j.StartDate, &j.EndDate,
		&j.IsAbsorption, &status, &j.Progress, &resultData, &errMsg, &j.CreatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	j.Status = domain.JobStatus(status)
	if levelID.Valid {
		j.LevelID = &levelID.Int64
	}
	if errMsg.Valid {
		j.Error = errMsg.String
	}
	if resultData.Valid && resultData.String != "" {
		res := &domain.VolumeResult{}
		if err := json.Unmarshal([]byte(resultData.String), res); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", j.ID, err)
		}
		j.Result = res
	}
	return j, nil
}

func encodeJobResult(job *domain.Job) (sql.NullString, sql.NullString, error) {
	var resultData, errMsg sql.NullString
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return resultData, errMsg, fmt.Errorf("failed to encode result for job %s: %w", job.ID, err)
		}
		resultData = sql.NullString{String: string(data), Valid: true}
	}
	if job.Error != "" {
		errMsg = sql.NullString{String: job.Error, Valid: true}
	}
	return resultData, errMsg, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
