package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Feed / Provider Errors
	ErrConnectionFailed = errors.New("failed to connect to the market data feed")
	ErrAuthFailed       = errors.New("market data authentication failed (check API key)")
	ErrFetchFailed      = errors.New("historical trade page fetch failed")

	// Database Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")

	// Domain Errors
	ErrNoBaseline      = errors.New("no original volume set for level")
	ErrJobNotCompleted = errors.New("job must be completed to link to a level")
	ErrLevelNotFound   = errors.New("level not found")
	ErrJobNotFound     = errors.New("job not found")
)
