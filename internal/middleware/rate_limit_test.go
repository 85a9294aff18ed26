package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/service"
)

func limitedApp() *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if raw := c.Get("X-Test-User"); raw != "" {
			id, _ := strconv.Atoi(raw)
			SetActor(c, service.Actor{ID: uint(id), Role: service.RoleStudent})
		}
		return c.Next()
	})
	app.Use(RateLimit("drafts", 1, time.Minute, fiber.MethodPost))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func limitedRequest(t *testing.T, app *fiber.App, method, user string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "/", nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestRateLimitIsPerActor(t *testing.T) {
	app := limitedApp()

	require.Equal(t, fiber.StatusAccepted, limitedRequest(t, app, http.MethodPost, "1").StatusCode)

	limited := limitedRequest(t, app, http.MethodPost, "1")
	require.Equal(t, fiber.StatusTooManyRequests, limited.StatusCode)
	var payload struct {
		Success bool           `json:"success"`
		Details map[string]int `json:"details"`
	}
	require.NoError(t, json.NewDecoder(limited.Body).Decode(&payload))
	require.False(t, payload.Success)
	require.Equal(t, 60, payload.Details["retry_after_seconds"])

	require.Equal(t, fiber.StatusAccepted, limitedRequest(t, app, http.MethodPost, "2").StatusCode)
	require.Equal(t, fiber.StatusOK, limitedRequest(t, app, http.MethodGet, "1").StatusCode)
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	app := limitedApp()

	require.Equal(t, fiber.StatusAccepted, limitedRequest(t, app, http.MethodPost, "").StatusCode)
	require.Equal(t, fiber.StatusTooManyRequests, limitedRequest(t, app, http.MethodPost, "").StatusCode)
	require.Equal(t, fiber.StatusAccepted, limitedRequest(t, app, http.MethodPost, "9").StatusCode)
}
