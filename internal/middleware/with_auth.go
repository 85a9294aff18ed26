package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-feedback-api/internal/service"
	"github.com/noah-isme/gema-feedback-api/internal/utils"
)

const actorLocalsKey = "evaluation_actor"

// SetActor binds the authenticated caller to the request.
func SetActor(c *fiber.Ctx, actor service.Actor) {
	c.Locals(actorLocalsKey, actor)
}

// ActorFromContext returns the caller bound by JWTProtected.
func ActorFromContext(c *fiber.Ctx) (service.Actor, bool) {
	actor, ok := c.Locals(actorLocalsKey).(service.Actor)
	if !ok || actor.ID == 0 {
		return service.Actor{}, false
	}
	return actor, true
}

// RequireActor rejects requests that reach a route without an authenticated caller.
func RequireActor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := ActorFromContext(c); !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		return c.Next()
	}
}
