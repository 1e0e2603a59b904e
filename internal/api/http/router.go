package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/query-service/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Queries *handlers.QueriesHandler
	Stream  *handlers.StreamHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	queries := app.Group("/api/queries")
	queries.Get("/", cfg.Queries.List)
	queries.Get("/stream", cfg.Stream.Stream)
	queries.Post("/ingest", cfg.Queries.Ingest)
	queries.Get("/:id", cfg.Queries.Get)
	queries.Post("/:id/update", cfg.Queries.Update)
}
