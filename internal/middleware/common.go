package middleware

import (
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/observability"
)

// Config customises the middleware registration pipeline.
type Config struct {
	Logger *zerolog.Logger
	// MetricsPrefix selects the request paths recorded by the observability middleware.
	MetricsPrefix string
	// AllowedOrigins is a comma separated CORS origin list; empty allows any origin.
	AllowedOrigins string
}

// Register attaches the common middlewares used across the API.
func Register(app *fiber.App, cfg Config) {
	requestLogger := zerolog.New(io.Discard)
	if cfg.Logger != nil {
		requestLogger = *cfg.Logger
	}

	prefix := cfg.MetricsPrefix
	if prefix == "" {
		prefix = "/api"
	}

	origins := cfg.AllowedOrigins
	if origins == "" {
		origins = "*"
	}

	// CorrelationID runs first so a recovered panic is logged with the request's id.
	app.Use(CorrelationID())
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, recovered interface{}) {
			correlation := GetCorrelationID(c)
			requestLogger.Error().
				Str("correlation_id", correlation).
				Str("route", c.Path()).
				Interface("panic", recovered).
				Msg("recovered from panic")
			observability.CaptureErr(fmt.Errorf("panic: %v", recovered), map[string]string{
				"correlation_id": correlation,
				"route":          c.Path(),
			})
		},
	}))
	app.Use(Observability(requestLogger, prefix))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency} ${locals:" + correlationLocalsKey + "}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Correlation-ID, X-Seed-Token",
		AllowMethods:  "GET,POST,OPTIONS",
		ExposeHeaders: "X-Correlation-ID",
	}))
}
