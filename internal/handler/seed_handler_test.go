package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/handler"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/service"
)

type mockSeedService struct {
	err       error
	lastToken string
	lastItems []models.SubmissionTypeConfig
	affected  int64
}

func (m *mockSeedService) SeedSubmissionTypes(_ context.Context, token string, items []models.SubmissionTypeConfig) (int64, error) {
	m.lastToken = token
	m.lastItems = items
	if m.err != nil {
		return 0, m.err
	}
	return m.affected, nil
}

func (m *mockSeedService) SeedDefaults(context.Context) (int64, error) {
	return 0, nil
}

func newSeedApp(svc service.SeedService) *fiber.App {
	app := fiber.New()
	handler.NewSeedHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/seed"))
	return app
}

func seedRequest(t *testing.T, payload interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/seed/submission-types", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Seed-Token", "secret")
	return req
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestSeedHandler_SubmissionTypesSuccess(t *testing.T) {
	svc := &mockSeedService{affected: 1}
	app := newSeedApp(svc)

	resp, err := app.Test(seedRequest(t, map[string]interface{}{
		"items": []models.SubmissionTypeConfig{{Code: "essay", Name: "Essay", Active: true, MinWords: 10}},
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			Affected        int64 `json:"affected"`
			RestartRequired bool  `json:"restart_required"`
		} `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.True(t, response.Success)
	require.Equal(t, int64(1), response.Data.Affected)
	require.True(t, response.Data.RestartRequired)
	require.Equal(t, "secret", svc.lastToken)
	require.Len(t, svc.lastItems, 1)
	require.Equal(t, 10, svc.lastItems[0].MinWords)
}

func TestSeedHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		statusCode int
	}{
		{name: "disabled", err: service.ErrSeedDisabled, statusCode: fiber.StatusForbidden},
		{name: "unauthorized", err: service.ErrSeedUnauthorized, statusCode: fiber.StatusForbidden},
		{name: "unknown type", err: errors.Join(service.ErrSeedInvalid, errors.New("quiz")), statusCode: fiber.StatusUnprocessableEntity},
		{name: "generic", err: errors.New("boom"), statusCode: fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newSeedApp(&mockSeedService{err: tc.err})

			resp, err := app.Test(seedRequest(t, map[string]interface{}{
				"items": []models.SubmissionTypeConfig{{Code: "essay"}},
			}))
			require.NoError(t, err)
			require.Equal(t, tc.statusCode, resp.StatusCode)

			var response struct {
				Success bool `json:"success"`
			}
			decodeResponse(t, resp, &response)
			require.False(t, response.Success)
		})
	}
}

func TestSeedHandler_InvalidPayload(t *testing.T) {
	svc := &mockSeedService{}
	app := newSeedApp(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/seed/submission-types", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(seedRequest(t, map[string]interface{}{"items": []models.SubmissionTypeConfig{}}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	require.Nil(t, svc.lastItems)
}
