package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/schedule"
)

// Runner polls the schedule queue for due jobs and executes them through
// the handler registry with bounded concurrency.
type Runner struct {
	queue       schedule.Queue
	registry    *Registry
	logger      *zap.Logger
	poll        time.Duration
	concurrency int

	now func() time.Time
}

func NewRunner(queue schedule.Queue, registry *Registry, logger *zap.Logger, poll time.Duration, concurrency int) *Runner {
	if poll <= 0 {
		poll = time.Second
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		queue:       queue,
		registry:    registry,
		logger:      logger,
		poll:        poll,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled, draining due jobs each poll tick.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("error while draining due jobs", zap.Error(err))
			}
		}
	}
}

// RunOnce claims and executes one batch of due jobs.
func (r *Runner) RunOnce(ctx context.Context) error {
	jobs, err := r.queue.ClaimDue(ctx, r.now(), r.concurrency)
	if err != nil {
		return fmt.Errorf("claim due jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job schedule.Job) {
			defer wg.Done()
			r.execute(ctx, job)
		}(job)
	}
	wg.Wait()
	return nil
}

func (r *Runner) execute(ctx context.Context, job schedule.Job) {
	handler, ok := r.registry.Resolve(job.Func)
	if !ok {
		err := fmt.Errorf("no handler for function %q", job.Func)
		r.logger.Error("unknown job function",
			zap.String("job", job.ID), zap.String("func", job.Func))
		r.finish(ctx, job.ID, err)
		return
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = jobExecTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := handler(execCtx, job.Kwargs)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Error("job failed",
			zap.String("job", job.ID),
			zap.String("func", job.Func),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		r.logger.Info("job finished",
			zap.String("job", job.ID),
			zap.String("func", job.Func),
			zap.Duration("elapsed", elapsed))
	}
	r.finish(ctx, job.ID, err)
}

func (r *Runner) finish(ctx context.Context, jobID string, execErr error) {
	if err := r.queue.Finish(ctx, jobID, execErr); err != nil {
		r.logger.Error("error while finishing job", zap.String("job", jobID), zap.Error(err))
	}
}
