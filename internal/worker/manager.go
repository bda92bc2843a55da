package worker

import (
	"context"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/config"
	"github.com/jamiejackherer/cerberus-core/internal/lifecycle"
)

// SweepManager runs the periodic lifecycle sweeps on a single gocron
// scheduler. Each sweep is singleton-moded so a slow pass never overlaps
// the next one.
type SweepManager struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger

	started   bool
	startedMu sync.RWMutex
}

func NewSweepManager(logger *zap.Logger) (*SweepManager, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &SweepManager{scheduler: scheduler, logger: logger}, nil
}

// RegisterLifecycleSweeps binds the waiting, paused and presence sweeps at
// their configured cadences.
func (m *SweepManager) RegisterLifecycleSweeps(controller *lifecycle.Controller, cfg config.WorkerConfig) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(cfg.WaitingSweepInterval()),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.WaitingSweepInterval())
			defer cancel()
			if err := controller.UpdateWaiting(ctx); err != nil {
				m.logger.Error("update_waiting sweep failed", zap.Error(err))
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("lifecycle", "waiting"),
		gocron.WithName("update-waiting"),
	)
	if err != nil {
		return err
	}

	_, err = m.scheduler.NewJob(
		gocron.DurationJob(cfg.PausedSweepInterval()),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.PausedSweepInterval())
			defer cancel()
			if err := controller.UpdatePaused(ctx); err != nil {
				m.logger.Error("update_paused sweep failed", zap.Error(err))
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("lifecycle", "paused"),
		gocron.WithName("update-paused"),
	)
	if err != nil {
		return err
	}

	_, err = m.scheduler.NewJob(
		gocron.DurationJob(cfg.FollowTheSunInterval()),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.FollowTheSunInterval())
			defer cancel()
			if err := controller.FollowTheSun(ctx); err != nil {
				m.logger.Error("follow_the_sun sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("lifecycle", "presence"),
		gocron.WithName("follow-the-sun"),
	)
	if err != nil {
		return err
	}

	m.logger.Info("registered lifecycle sweeps",
		zap.Duration("waiting", cfg.WaitingSweepInterval()),
		zap.Duration("paused", cfg.PausedSweepInterval()),
		zap.Duration("presence", cfg.FollowTheSunInterval()))
	return nil
}

// Start launches all registered sweeps.
func (m *SweepManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()
	if m.started {
		return
	}
	m.scheduler.Start()
	m.started = true
	m.logger.Info("sweep scheduler started")
}

// Stop shuts the scheduler down, waiting for running sweeps.
func (m *SweepManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()
	if !m.started {
		return nil
	}
	err := m.scheduler.Shutdown()
	m.started = false
	if err != nil {
		return err
	}
	m.logger.Info("sweep scheduler stopped")
	return nil
}

// IsStarted reports whether the sweeps are running.
func (m *SweepManager) IsStarted() bool {
	m.startedMu.RLock()
	defer m.startedMu.RUnlock()
	return m.started
}
