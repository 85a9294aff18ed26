package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/observability"
)

// Observability attaches Prometheus metrics and structured latency/error logging for evaluation endpoints.
func Observability(logger zerolog.Logger, prefix string) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		if strings.HasPrefix(c.Path(), prefix) {
			route := routeTemplate(c)
			method := c.Method()
			status := responseStatus(c, err)
			statusLabel := fmt.Sprintf("%d", status)

			observability.Requests().WithLabelValues(method, route, statusLabel).Inc()
			observability.Latency().WithLabelValues(method, route).Observe(duration.Seconds())
			if status >= fiber.StatusBadRequest {
				observability.Errors().WithLabelValues(method, route, statusLabel).Inc()
			}

			latencyMs := float64(duration) / float64(time.Millisecond)
			bucket := latencyBucket(duration)
			fields := logger.With().
				Str("correlation_id", GetCorrelationID(c)).
				Str("route", route).
				Str("method", method).
				Int("status", status).
				Float64("latency_ms", latencyMs).
				Str("latency_bucket", bucket)
			if actor, ok := ActorFromContext(c); ok {
				fields = fields.Uint("actor_id", actor.ID).Str("actor_role", actor.Role)
			}
			requestLogger := fields.Logger()

			switch {
			case status >= fiber.StatusInternalServerError:
				requestLogger.Error().Msg("evaluation request failed")
			case status >= fiber.StatusBadRequest:
				requestLogger.Warn().Msg("evaluation request completed with client error")
			default:
				requestLogger.Info().Msg("evaluation request completed")
			}
		}

		return err
	}
}

// responseStatus is the status the client will see. Errors returned by handlers are only turned into a
// response by the app's error handler, after this middleware has run.
func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func routeTemplate(c *fiber.Ctx) string {
	if c.Route() != nil && c.Route().Path != "" {
		return c.Route().Path
	}
	return c.Path()
}

func latencyBucket(duration time.Duration) string {
	switch {
	case duration <= 25*time.Millisecond:
		return "<=25ms"
	case duration <= 50*time.Millisecond:
		return "<=50ms"
	case duration <= 100*time.Millisecond:
		return "<=100ms"
	case duration <= 250*time.Millisecond:
		return "<=250ms"
	case duration <= 500*time.Millisecond:
		return "<=500ms"
	default:
		return ">500ms"
	}
}
