package jobs

import (
	"context"
	"time"
)

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// Store abstracts job persistence so backends are swappable. The daemon uses
// the SQLite implementation; nothing outside this package depends on SQL.
type Store interface {
	// Create persists a new job, assigning ID, token, and timestamps.
	Create(ctx context.Context, job *Job) error
	// GetByID fetches a job by internal identifier.
	GetByID(ctx context.Context, id int64) (*Job, error)
	// GetByToken fetches a job by its public token.
	GetByToken(ctx context.Context, token string) (*Job, error)
	// Update persists the full mutable state of a job.
	Update(ctx context.Context, job *Job) error
	// List returns jobs filtered to the given statuses (all when empty),
	// newest first.
	List(ctx context.Context, statuses ...Status) ([]*Job, error)
	// ClaimNextPending atomically moves the oldest pending job into the
	// validating status and returns it. Returns nil when the queue is empty.
	ClaimNextPending(ctx context.Context) (*Job, error)
	// RequestCancel marks a job for cooperative cancellation. Pending jobs
	// transition to cancelled immediately; terminal jobs return ErrTerminal.
	RequestCancel(ctx context.Context, token string) (*Job, error)
	// UpdateHeartbeat refreshes the liveness timestamp for an in-flight job.
	UpdateHeartbeat(ctx context.Context, id int64) error
	// ReclaimStale returns in-flight jobs with expired heartbeats to pending.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	// FailRunning fails every non-terminal in-flight job, used at shutdown.
	FailRunning(ctx context.Context, reason string) (int64, error)
	// Health reports aggregate queue counts.
	Health(ctx context.Context) (HealthSummary, error)
	Close() error
}
