package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryScheduler is a mutex-guarded Scheduler/Queue for tests and local
// runs without redis.
type InMemoryScheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	waiters map[string][]chan Status
}

// NewInMemoryScheduler constructs an empty in-memory scheduler.
func NewInMemoryScheduler() *InMemoryScheduler {
	return &InMemoryScheduler{
		jobs:    make(map[string]*Job),
		waiters: make(map[string][]chan Status),
	}
}

// notify wakes Done waiters. Callers must hold mu.
func (s *InMemoryScheduler) notify(jobID string, status Status) {
	for _, ch := range s.waiters[jobID] {
		ch <- status
		close(ch)
	}
	delete(s.waiters, jobID)
}

// Schedule enqueues funcName to run at or after the given time.
func (s *InMemoryScheduler) Schedule(ctx context.Context, at time.Time, funcName string, kwargs map[string]any, opts Options) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Func:      funcName,
		Kwargs:    kwargs,
		RunAt:     at.UTC(),
		Timeout:   opts.Timeout,
		ResultTTL: opts.ResultTTL,
		Status:    StatusPending,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	copied := *job
	return &copied, nil
}

// Cancel removes a pending job; unknown or terminal jobs are a no-op.
func (s *InMemoryScheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return nil
	}
	job.Status = StatusCancelled
	s.notify(jobID, StatusCancelled)
	return nil
}

// Reschedule moves a pending job to a new execution time.
func (s *InMemoryScheduler) Reschedule(ctx context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusPending {
		return ErrUnknownJob
	}
	job.RunAt = at.UTC()
	return nil
}

// Pending lists queued jobs scheduled within the horizon, soonest first.
func (s *InMemoryScheduler) Pending(ctx context.Context, horizon time.Duration) ([]Job, error) {
	cutoff := time.Now().UTC().Add(horizon)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && !job.RunAt.After(cutoff) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

// Contains reports whether the job is still queued.
func (s *InMemoryScheduler) Contains(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return ok && job.Status == StatusPending, nil
}

// Status returns the job's current state.
func (s *InMemoryScheduler) Status(ctx context.Context, jobID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", ErrUnknownJob
	}
	return job.Status, nil
}

// ClaimDue pops up to limit due jobs and marks them running.
func (s *InMemoryScheduler) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && !job.RunAt.After(now.UTC()) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]Job, 0, len(due))
	for _, job := range due {
		job.Status = StatusRunning
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// Finish records the terminal outcome of a claimed job.
func (s *InMemoryScheduler) Finish(ctx context.Context, jobID string, execErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	if execErr != nil {
		job.Status = StatusFailed
	} else {
		job.Status = StatusFinished
	}
	s.notify(jobID, job.Status)
	return nil
}

// Done returns a channel that yields the job's terminal status.
func (s *InMemoryScheduler) Done(ctx context.Context, jobID string) (<-chan Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrUnknownJob
	}
	out := make(chan Status, 1)
	if job.Status.Terminal() {
		out <- job.Status
		close(out)
		return out, nil
	}
	s.waiters[jobID] = append(s.waiters[jobID], out)
	return out, nil
}

// MarkFinished forces a job into the finished state. Test helper.
func (s *InMemoryScheduler) MarkFinished(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Status = StatusFinished
		s.notify(jobID, StatusFinished)
	}
}
