package domain

import "time"

// JobStatus is the lifecycle state of a background analysis job.
type JobStatus string

const (
	JobCreated   JobStatus = "created"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal states are
// immutable.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether the created -> running -> {completed,
// failed} state machine permits the move.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobCreated:
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// Job tracks one asynchronous volume or absorption analysis.
type Job struct {
	ID           string
	Ticker       string
	LevelPrice   float64
	LevelID      *int64 // Level to update on completion; required for absorption jobs
	Tolerance    float64
	StartDate    time.Time
	EndDate      time.Time
	IsAbsorption bool
	Status       JobStatus
	Progress     int // 0-100, coarse user-feedback milestones only
	Result       *VolumeResult
	Error        string
	CreatedAt    time.Time
}
