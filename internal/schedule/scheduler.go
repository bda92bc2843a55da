// Package schedule abstracts a delayed-job queue: schedule-at, cancel,
// reschedule, and pending enumeration. Jobs execute "at or after" their
// scheduled time, never exactly at it.
package schedule

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownJob is returned when a job id does not resolve. Cancellation
// deliberately swallows it; everything else surfaces it.
var ErrUnknownJob = errors.New("unknown scheduler job")

// Status enumerates scheduler-side job states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// Job is one delayed invocation of a named worker function.
type Job struct {
	ID        string
	Func      string
	Kwargs    map[string]any
	RunAt     time.Time
	Timeout   time.Duration
	ResultTTL time.Duration
	Status    Status
}

// Options tunes a scheduled job.
type Options struct {
	Timeout   time.Duration
	ResultTTL time.Duration
}

// Scheduler is the facade the lifecycle core consumes.
type Scheduler interface {
	// Schedule enqueues funcName to run at or after the given time.
	Schedule(ctx context.Context, at time.Time, funcName string, kwargs map[string]any, opts Options) (*Job, error)
	// Cancel removes a pending job. Cancelling a completed, cancelled or
	// unknown job is a no-op.
	Cancel(ctx context.Context, jobID string) error
	// Reschedule moves a pending job to a new execution time.
	Reschedule(ctx context.Context, jobID string, at time.Time) error
	// Pending lists jobs scheduled within the horizon, soonest first.
	Pending(ctx context.Context, horizon time.Duration) ([]Job, error)
	// Contains reports whether the job is still queued.
	Contains(ctx context.Context, jobID string) (bool, error)
	// Status returns the job's current state.
	Status(ctx context.Context, jobID string) (Status, error)
}

// Completer is implemented by schedulers that can push terminal-state
// notifications, sparing callers a poll loop.
type Completer interface {
	// Done returns a channel that yields the job's terminal status once it
	// finishes, fails or is cancelled, then closes. A job already in a
	// terminal state yields immediately.
	Done(ctx context.Context, jobID string) (<-chan Status, error)
}

// Queue is the executor-side view used by the due-job runner.
type Queue interface {
	// ClaimDue atomically pops up to limit due jobs and marks them running.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// Finish records the terminal outcome of a claimed job.
	Finish(ctx context.Context, jobID string, execErr error) error
}
