package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/dto"
	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/middleware"
	"github.com/noah-isme/gema-feedback-api/internal/service"
	"github.com/noah-isme/gema-feedback-api/internal/utils"
)

// DraftHandler exposes the evaluation pipeline over HTTP.
type DraftHandler struct {
	service service.DraftService
	logger  zerolog.Logger
}

// NewDraftHandler builds a draft handler instance.
func NewDraftHandler(service service.DraftService, logger zerolog.Logger) *DraftHandler {
	return &DraftHandler{
		service: service,
		logger:  logger.With().Str("component", "draft_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *DraftHandler) Register(router fiber.Router) {
	authenticated := middleware.RequireActor()
	reviewer := middleware.RequireReviewer()

	router.Post("", authenticated, h.submit)
	router.Get("/:id/status", authenticated, h.status)
	router.Get("/:id/feedback", authenticated, h.feedback)
	router.Post("/:id/approve", authenticated, reviewer, h.approve)
	router.Post("/:id/retry", authenticated, reviewer, h.retry)
}

func (h *DraftHandler) submit(c *fiber.Ctx) error {
	var payload dto.DraftSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	actor := actorFromContext(c)
	if !actor.IsReviewer() {
		// Students always submit as themselves.
		payload.StudentID = actor.ID
	}

	response, err := h.service.Submit(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "draft submitted", response)
}

func (h *DraftHandler) status(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	status, err := h.service.GetStatus(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	actor := actorFromContext(c)
	if !actor.IsReviewer() && status.StudentID != actor.ID {
		return h.handleError(c, service.ErrDraftForbidden)
	}

	return utils.SendSuccess(c, "draft status retrieved", status)
}

func (h *DraftHandler) feedback(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	items, err := h.service.GetAggregatedFeedback(c.UserContext(), id, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, items, "feedback retrieved", fiber.Map{"count": len(items)})
}

func (h *DraftHandler) approve(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ApproveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	response, err := h.service.Approve(c.UserContext(), id, payload, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	message := "feedback approved"
	if response.Released {
		message = "feedback released"
	}
	return utils.SendSuccess(c, message, response)
}

func (h *DraftHandler) retry(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.service.Retry(c.UserContext(), id, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "evaluation restarted", response)
}

func (h *DraftHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErr *evaluation.ValidationError
	var stateErr *evaluation.StateError
	switch {
	case errors.As(err, &validationErr):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, validationErr.Error(), fiber.Map{
			"field":  validationErr.Field,
			"reason": validationErr.Reason,
		})
	case errors.As(err, &stateErr):
		return utils.Fail(c, fiber.StatusConflict, stateErr.Error(), fiber.Map{"status": stateErr.Current})
	case errors.Is(err, service.ErrDraftNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "draft not found")
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrFeedbackNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "feedback category not found")
	case errors.Is(err, service.ErrDraftForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "draft belongs to another student")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// actorFromContext is only reached behind RequireActor, so a missing actor never grants access.
func actorFromContext(c *fiber.Ctx) service.Actor {
	actor, _ := middleware.ActorFromContext(c)
	return actor
}

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	value, err := strconv.ParseUint(c.Params(key), 10, 64)
	if err != nil || value == 0 {
		return 0, errors.New("invalid " + key)
	}
	return uint(value), nil
}
