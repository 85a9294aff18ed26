package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-feedback-api/internal/service"
	"github.com/noah-isme/gema-feedback-api/internal/utils"
)

// accessClaims is the token shape issued for the evaluation API: the numeric user id as subject and
// exactly one role.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var signingMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// JWTProtected validates HMAC bearer tokens and binds the caller to the request as a service.Actor.
// Tokens must carry an expiry, a positive numeric subject and a known role.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods(signingMethods), jwt.WithExpirationRequired())
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		authorization := c.Get(fiber.HeaderAuthorization)
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "bearer "
		if len(authorization) < len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims := &accessClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		actor, err := actorFromClaims(claims)
		if err != nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "invalid token claims", fiber.Map{"reason": err.Error()})
		}
		SetActor(c, actor)

		return c.Next()
	}
}

func actorFromClaims(claims *accessClaims) (service.Actor, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(claims.Subject), 10, 64)
	if err != nil || id == 0 {
		return service.Actor{}, errors.New("subject must be a positive user id")
	}

	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if !service.KnownRole(role) {
		return service.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}

	return service.Actor{ID: uint(id), Role: role}, nil
}
