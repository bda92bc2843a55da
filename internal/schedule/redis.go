package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueKey   = "cerberus:sched:queue"
	jobPrefix  = "cerberus:sched:job:"
	donePrefix = "cerberus:sched:done:"

	defaultTimeout   = time.Hour
	defaultResultTTL = 500 * time.Second
)

// RedisScheduler stores delayed jobs in a sorted set scored by unix run
// time, with a hash per job carrying its payload and status.
type RedisScheduler struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisScheduler constructs the scheduler over an existing client.
func NewRedisScheduler(client *redis.Client, logger *zap.Logger) *RedisScheduler {
	return &RedisScheduler{client: client, logger: logger}
}

// Schedule enqueues funcName to run at or after the given time.
func (s *RedisScheduler) Schedule(ctx context.Context, at time.Time, funcName string, kwargs map[string]any, opts Options) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Func:      funcName,
		Kwargs:    kwargs,
		RunAt:     at.UTC(),
		Timeout:   opts.Timeout,
		ResultTTL: opts.ResultTTL,
		Status:    StatusPending,
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultTimeout
	}
	if job.ResultTTL <= 0 {
		job.ResultTTL = defaultResultTTL
	}

	payload, err := json.Marshal(job.Kwargs)
	if err != nil {
		return nil, fmt.Errorf("marshal kwargs: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobPrefix+job.ID, map[string]any{
		"func":        job.Func,
		"kwargs":      string(payload),
		"run_at":      job.RunAt.Unix(),
		"timeout_sec": int64(job.Timeout.Seconds()),
		"ttl_sec":     int64(job.ResultTTL.Seconds()),
		"status":      string(StatusPending),
	})
	pipe.ZAdd(ctx, queueKey, redis.Z{Score: float64(job.RunAt.Unix()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("schedule job: %w", err)
	}

	s.logger.Debug("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("func", job.Func),
		zap.Time("run_at", job.RunAt))
	return job, nil
}

// Cancel removes a pending job. Unknown or already-terminal jobs are a no-op.
func (s *RedisScheduler) Cancel(ctx context.Context, jobID string) error {
	status, err := s.Status(ctx, jobID)
	if errors.Is(err, ErrUnknownJob) {
		return nil
	}
	if err != nil {
		return err
	}
	if status.Terminal() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, queueKey, jobID)
	pipe.HSet(ctx, jobPrefix+jobID, "status", string(StatusCancelled))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	s.client.Publish(ctx, donePrefix+jobID, string(StatusCancelled))
	return nil
}

// Reschedule moves a pending job to a new execution time.
func (s *RedisScheduler) Reschedule(ctx context.Context, jobID string, at time.Time) error {
	queued, err := s.Contains(ctx, jobID)
	if err != nil {
		return err
	}
	if !queued {
		return fmt.Errorf("reschedule job %s: %w", jobID, ErrUnknownJob)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, queueKey, redis.Z{Score: float64(at.UTC().Unix()), Member: jobID})
	pipe.HSet(ctx, jobPrefix+jobID, "run_at", at.UTC().Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reschedule job %s: %w", jobID, err)
	}
	return nil
}

// Pending lists queued jobs scheduled within the horizon, soonest first.
func (s *RedisScheduler) Pending(ctx context.Context, horizon time.Duration) ([]Job, error) {
	max := time.Now().UTC().Add(horizon).Unix()
	ids, err := s.client.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(max, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.loadJob(ctx, id)
		if errors.Is(err, ErrUnknownJob) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.Status == StatusPending {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

// Contains reports whether the job is still queued.
func (s *RedisScheduler) Contains(ctx context.Context, jobID string) (bool, error) {
	_, err := s.client.ZScore(ctx, queueKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check job %s: %w", jobID, err)
	}
	return true, nil
}

// Status returns the job's current state.
func (s *RedisScheduler) Status(ctx context.Context, jobID string) (Status, error) {
	raw, err := s.client.HGet(ctx, jobPrefix+jobID, "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownJob
	}
	if err != nil {
		return "", fmt.Errorf("job %s status: %w", jobID, err)
	}
	return Status(raw), nil
}

// ClaimDue atomically pops up to limit due jobs and marks them running.
func (s *RedisScheduler) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UTC().Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}

	var claimed []Job
	for _, id := range ids {
		// ZRem returning 1 means this worker won the claim.
		removed, err := s.client.ZRem(ctx, queueKey, id).Result()
		if err != nil {
			return claimed, fmt.Errorf("claim job %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		job, err := s.loadJob(ctx, id)
		if errors.Is(err, ErrUnknownJob) {
			continue
		}
		if err != nil {
			return claimed, err
		}
		if job.Status != StatusPending {
			continue
		}
		if err := s.client.HSet(ctx, jobPrefix+id, "status", string(StatusRunning)).Err(); err != nil {
			return claimed, fmt.Errorf("mark job %s running: %w", id, err)
		}
		job.Status = StatusRunning
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// Finish records the terminal outcome of a claimed job and arms the result
// TTL so finished jobs eventually vanish.
func (s *RedisScheduler) Finish(ctx context.Context, jobID string, execErr error) error {
	status := StatusFinished
	if execErr != nil {
		status = StatusFailed
	}
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobPrefix+jobID, "status", string(status))
	pipe.Expire(ctx, jobPrefix+jobID, job.ResultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	s.client.Publish(ctx, donePrefix+jobID, string(status))
	return nil
}

// Done subscribes to the job's completion channel. The subscription is
// established before the status check so a finish racing the subscribe is
// never missed.
func (s *RedisScheduler) Done(ctx context.Context, jobID string) (<-chan Status, error) {
	sub := s.client.Subscribe(ctx, donePrefix+jobID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe job %s: %w", jobID, err)
	}

	out := make(chan Status, 1)
	status, err := s.Status(ctx, jobID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	if status.Terminal() {
		_ = sub.Close()
		out <- status
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		defer sub.Close() //nolint:errcheck
		select {
		case <-ctx.Done():
		case msg, ok := <-sub.Channel():
			if ok {
				out <- Status(msg.Payload)
			}
		}
	}()
	return out, nil
}

func (s *RedisScheduler) loadJob(ctx context.Context, id string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, jobPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrUnknownJob
	}

	runAt, _ := strconv.ParseInt(fields["run_at"], 10, 64)
	timeoutSec, _ := strconv.ParseInt(fields["timeout_sec"], 10, 64)
	ttlSec, _ := strconv.ParseInt(fields["ttl_sec"], 10, 64)

	var kwargs map[string]any
	if raw := fields["kwargs"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &kwargs); err != nil {
			return nil, fmt.Errorf("job %s kwargs: %w", id, err)
		}
	}

	return &Job{
		ID:        id,
		Func:      fields["func"],
		Kwargs:    kwargs,
		RunAt:     time.Unix(runAt, 0).UTC(),
		Timeout:   time.Duration(timeoutSec) * time.Second,
		ResultTTL: time.Duration(ttlSec) * time.Second,
		Status:    Status(fields["status"]),
	}, nil
}
