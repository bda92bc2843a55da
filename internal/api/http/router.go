package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jamiejackherer/cerberus-core/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health *handlers.HealthHandler
	Ops    *handlers.OpsHandler
}

// RegisterRoutes wires the worker's ops HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	ops := app.Group("/ops")
	ops.Get("/metrics", cfg.Ops.Metrics)
	ops.Get("/jobs", cfg.Ops.PendingJobs)
}
