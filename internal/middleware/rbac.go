package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-feedback-api/internal/service"
	"github.com/noah-isme/gema-feedback-api/internal/utils"
)

// RequireRole admits callers whose role is one of roles. Unknown roles panic at route registration.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if !service.KnownRole(normalized) {
			panic(fmt.Sprintf("middleware: unknown role %q", role))
		}
		allowed[normalized] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if _, ok := allowed[actor.Role]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"role": actor.Role})
		}
		return c.Next()
	}
}

// RequireReviewer admits teachers and admins.
func RequireReviewer() fiber.Handler {
	return RequireRole(service.RoleTeacher, service.RoleAdmin)
}
