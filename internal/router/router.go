package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/config"
	"github.com/noah-isme/gema-feedback-api/internal/handler"
	"github.com/noah-isme/gema-feedback-api/internal/middleware"
	"github.com/noah-isme/gema-feedback-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	DraftHandler  *handler.DraftHandler
	SeedHandler   *handler.SeedHandler
	JWTMiddleware fiber.Handler
	HealthProbes  map[string]handler.Probe
	Logger        zerolog.Logger
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	if cfg.MetricsEnabled {
		app.Get("/metrics", observability.MetricsHandler(deps.Logger))
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	evaluation := app.Group("/api/v2/evaluation", jwtMiddleware)

	if deps.DraftHandler != nil {
		drafts := evaluation.Group("/drafts")
		// Submissions and retries fan out to several paid model calls; throttle them per user.
		drafts.Use(middleware.RateLimit("evaluation_submit", cfg.SubmitRateLimit, time.Minute, fiber.MethodPost))
		deps.DraftHandler.Register(drafts)
	}

	if deps.SeedHandler != nil {
		seed := app.Group("/api/v2/seed")
		deps.SeedHandler.Register(seed)
	}
}
