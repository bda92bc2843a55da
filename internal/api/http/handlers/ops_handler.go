package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jamiejackherer/cerberus-core/internal/observability"
	"github.com/jamiejackherer/cerberus-core/internal/schedule"
	"github.com/jamiejackherer/cerberus-core/internal/worker"
)

// OpsHandler exposes the worker's operational state: sweep counters and
// the pending job queue.
type OpsHandler struct {
	metrics   *observability.Metrics
	scheduler schedule.Scheduler
	sweeps    *worker.SweepManager
}

// NewOpsHandler returns a new handler instance.
func NewOpsHandler(metrics *observability.Metrics, scheduler schedule.Scheduler, sweeps *worker.SweepManager) *OpsHandler {
	return &OpsHandler{metrics: metrics, scheduler: scheduler, sweeps: sweeps}
}

// Metrics dumps the counter snapshot.
func (h *OpsHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sweeps_running": h.sweeps.IsStarted(),
		"counters":       h.metrics.Snapshot(),
	})
}

// PendingJobs lists jobs scheduled within the next 24 hours.
func (h *OpsHandler) PendingJobs(c *fiber.Ctx) error {
	jobs, err := h.scheduler.Pending(c.UserContext(), 24*time.Hour)
	if err != nil {
		return err
	}

	out := make([]fiber.Map, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, fiber.Map{
			"id":     job.ID,
			"func":   job.Func,
			"run_at": job.RunAt,
			"status": job.Status,
		})
	}
	return c.JSON(fiber.Map{"count": len(out), "jobs": out})
}
