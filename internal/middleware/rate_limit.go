package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-feedback-api/internal/utils"
)

// RateLimit throttles requests per authenticated caller, falling back to the client IP. When methods
// are given only those methods count against the limit.
func RateLimit(identifier string, max int, window time.Duration, methods ...string) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	limited := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		limited[method] = struct{}{}
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Next: func(c *fiber.Ctx) bool {
			if len(limited) == 0 {
				return false
			}
			_, ok := limited[c.Method()]
			return !ok
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return rateLimitKey(identifier, c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests", fiber.Map{
				"retry_after_seconds": int(window.Seconds()),
			})
		},
	})
}

func rateLimitKey(identifier string, c *fiber.Ctx) string {
	if actor, ok := ActorFromContext(c); ok {
		return fmt.Sprintf("%s:user:%d", identifier, actor.ID)
	}
	return fmt.Sprintf("%s:ip:%s", identifier, c.IP())
}
