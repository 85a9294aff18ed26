package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/service"
	"github.com/noah-isme/gema-feedback-api/internal/utils"
)

// SeedHandler exposes tooling endpoints for the submission type catalogue.
type SeedHandler struct {
	service service.SeedService
	logger  zerolog.Logger
}

// NewSeedHandler constructs a seed handler.
func NewSeedHandler(service service.SeedService, logger zerolog.Logger) *SeedHandler {
	return &SeedHandler{
		service: service,
		logger:  logger.With().Str("component", "seed_handler").Logger(),
	}
}

// Register wires seed routes.
func (h *SeedHandler) Register(router fiber.Router) {
	router.Post("/submission-types", h.submissionTypes)
}

type seedSubmissionTypesRequest struct {
	Items []models.SubmissionTypeConfig `json:"items"`
}

func (h *SeedHandler) submissionTypes(c *fiber.Ctx) error {
	token := c.Get("X-Seed-Token")
	var payload seedSubmissionTypesRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if len(payload.Items) == 0 {
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "items must not be empty", fiber.Map{"field": "items"})
	}

	affected, err := h.service.SeedSubmissionTypes(c.UserContext(), token, payload.Items)
	if err != nil {
		return h.seedError(c, err)
	}

	// The registry is built at start-up; seeded types apply after the next restart.
	return utils.SendSuccess(c, "submission types seeded", fiber.Map{"affected": affected, "restart_required": true})
}

func (h *SeedHandler) seedError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrSeedDisabled):
		return utils.SendError(c, fiber.StatusForbidden, "seeding disabled")
	case errors.Is(err, service.ErrSeedUnauthorized):
		return utils.SendError(c, fiber.StatusForbidden, "invalid token")
	case errors.Is(err, service.ErrSeedInvalid):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), fiber.Map{"field": "code"})
	default:
		h.logger.Error().Err(err).Msg("seed operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "seed operation failed")
	}
}
