package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/middleware"
	"github.com/noah-isme/gema-feedback-api/internal/service"
)

func TestRequireActorAdmitsBoundActor(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetActor(c, service.Actor{ID: 10, Role: service.RoleStudent})
		return c.Next()
	})

	var seen service.Actor
	app.Get("/", middleware.RequireActor(), func(c *fiber.Ctx) error {
		actor, ok := middleware.ActorFromContext(c)
		require.True(t, ok)
		seen = actor
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp := perform(t, app, http.MethodGet)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.Equal(t, service.Actor{ID: 10, Role: service.RoleStudent}, seen)
}

func TestRequireActorRejectsAnonymous(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.RequireActor(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp := perform(t, app, http.MethodGet)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestActorWithoutIDIsAnonymous(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetActor(c, service.Actor{Role: service.RoleAdmin})
		return c.Next()
	})
	app.Get("/", middleware.RequireActor(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp := perform(t, app, http.MethodGet)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func perform(t *testing.T, app *fiber.App, method string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}
