package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/examgrade/examgrade-api/internal/config"
	"github.com/examgrade/examgrade-api/internal/handler"
	"github.com/examgrade/examgrade-api/internal/observability"
	"github.com/examgrade/examgrade-api/internal/vectorstore"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	EvaluationHandler *handler.EvaluationHandler
	VectorStore       vectorstore.Store
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.VectorStore))

	if deps.EvaluationHandler != nil {
		deps.EvaluationHandler.Register(api)
	}

	app.Get("/metrics", observability.MetricsHandler())
}
