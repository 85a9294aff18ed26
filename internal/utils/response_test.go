package utils_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/utils"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Details map[string]interface{} `json:"details"`
}

func TestSendSuccessWithStatusAcceptsSubmission(t *testing.T) {
	app := fiber.New()
	app.Post("/drafts", func(c *fiber.Ctx) error {
		return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "", fiber.Map{"id": 7, "status": "submitted"})
	})

	resp := perform(t, app, http.MethodPost, "/drafts")
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	payload := decode(t, resp)
	require.True(t, payload.Success)
	require.Equal(t, "success", payload.Message)
	require.Equal(t, "submitted", payload.Data["status"])
	require.Nil(t, payload.Meta)
	require.Nil(t, payload.Details)
}

func TestSendSuccessWithStatusDefaultsToOK(t *testing.T) {
	app := fiber.New()
	app.Get("/drafts/7", func(c *fiber.Ctx) error {
		return utils.SendSuccessWithStatus(c, 0, "draft status", fiber.Map{"status": "processing"})
	})

	resp := perform(t, app, http.MethodGet, "/drafts/7")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "draft status", decode(t, resp).Message)
}

func TestOKCarriesListMeta(t *testing.T) {
	app := fiber.New()
	app.Get("/drafts/7/feedback", func(c *fiber.Ctx) error {
		rows := fiber.Map{"Content": 90, "Structure": 80}
		return utils.OK(c, rows, "", fiber.Map{"count": 2})
	})

	resp := perform(t, app, http.MethodGet, "/drafts/7/feedback")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := decode(t, resp)
	require.True(t, payload.Success)
	require.Equal(t, float64(90), payload.Data["Content"])
	require.Equal(t, float64(2), payload.Meta["count"])
}

func TestFailReportsRejectedField(t *testing.T) {
	app := fiber.New()
	app.Post("/drafts/7/approve", func(c *fiber.Ctx) error {
		details := fiber.Map{"field": "overrides.Content", "reason": "score exceeds rubric maximum"}
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "invalid override", details)
	})

	resp := perform(t, app, http.MethodPost, "/drafts/7/approve")
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	payload := decode(t, resp)
	require.False(t, payload.Success)
	require.Equal(t, "invalid override", payload.Message)
	require.Equal(t, "overrides.Content", payload.Details["field"])
	require.Equal(t, "score exceeds rubric maximum", payload.Details["reason"])
	require.Nil(t, payload.Data)
}

func TestSendErrorOmitsDetails(t *testing.T) {
	app := fiber.New()
	app.Post("/drafts/7/retry", func(c *fiber.Ctx) error {
		return utils.SendError(c, fiber.StatusConflict, "")
	})

	resp := perform(t, app, http.MethodPost, "/drafts/7/retry")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	payload := decode(t, resp)
	require.False(t, payload.Success)
	require.Equal(t, "error", payload.Message)
	require.Nil(t, payload.Details)
}

func perform(t *testing.T, app *fiber.App, method, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil), -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}
