package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-feedback-api/internal/dto"
	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
)

// ErrFeedbackNotFound indicates the draft has no aggregated row for the requested category.
var ErrFeedbackNotFound = errors.New("feedback category not found")

// ReviewService is the gate between generated feedback and the student.
type ReviewService interface {
	Route(ctx context.Context, draft models.Draft, requireReview bool) (string, error)
	Approve(ctx context.Context, draftID uint, req dto.ApproveRequest, actor Actor) (dto.ApproveResponse, error)
}

type reviewService struct {
	drafts    repository.DraftRepository
	feedback  repository.FeedbackRepository
	lifecycle *DraftLifecycle
	eraser    ContentEraser
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewReviewService constructs the review gate.
func NewReviewService(drafts repository.DraftRepository, feedback repository.FeedbackRepository, lifecycle *DraftLifecycle, eraser ContentEraser, logger zerolog.Logger) ReviewService {
	return &reviewService{
		drafts:    drafts,
		feedback:  feedback,
		lifecycle: lifecycle,
		eraser:    eraser,
		logger:    logger.With().Str("component", "review_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-feedback-api/internal/service/review"),
		now:       time.Now,
	}
}

// Route moves a feedback_ready draft to under_review, or straight to released when no review is required.
func (s *reviewService) Route(ctx context.Context, draft models.Draft, requireReview bool) (string, error) {
	next := evaluation.ReviewOutcome(requireReview)
	moved, err := s.lifecycle.transition(ctx, draft, next)
	if err != nil {
		return draft.Status, err
	}
	if !moved {
		return draft.Status, nil
	}

	draft.Status = next
	if next == models.DraftStatusReleased {
		s.erase(ctx, draft)
	}
	return next, nil
}

func (s *reviewService) Approve(ctx context.Context, draftID uint, req dto.ApproveRequest, actor Actor) (dto.ApproveResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "evaluation.approve", trace.WithAttributes(
		attribute.Int("draft.id", int(draftID)),
		attribute.Int("actor.id", int(actor.ID)),
	))
	defer span.End()

	draft, err := s.drafts.GetByID(spanCtx, draftID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ApproveResponse{}, ErrDraftNotFound
		}
		span.RecordError(err)
		return dto.ApproveResponse{}, err
	}
	if draft.Status != models.DraftStatusUnderReview {
		return dto.ApproveResponse{}, &evaluation.StateError{Action: "approve", Current: draft.Status}
	}
	// Row approvals and score overrides change the status view while the draft stays under_review.
	defer s.lifecycle.touched(spanCtx, draft.ID)

	approval := repository.Approval{ApproverID: actor.ID, At: s.now().UTC()}
	response := dto.ApproveResponse{DraftID: draft.ID, Status: draft.Status}

	if req.CategoryID == nil {
		if req.EditedText != nil || req.OverrideScore != nil {
			return dto.ApproveResponse{}, evaluation.NewValidationError("category_id", "required when editing text or overriding a score")
		}
		approved, err := s.feedback.ApprovePending(spanCtx, draft.ID, approval)
		if err != nil {
			span.RecordError(err)
			return dto.ApproveResponse{}, err
		}
		response.Approved = approved
	} else {
		if req.EditedText != nil {
			cleaned := evaluation.SanitizeText(*req.EditedText)
			if cleaned == "" {
				return dto.ApproveResponse{}, evaluation.NewValidationError("edited_text", "must not be empty")
			}
			approval.EditedText = &cleaned
		}
		approval.OverrideScore = req.OverrideScore

		approved, err := s.feedback.ApproveCategory(spanCtx, draft.ID, *req.CategoryID, approval)
		if err != nil {
			span.RecordError(err)
			return dto.ApproveResponse{}, err
		}
		if !approved {
			return dto.ApproveResponse{}, s.explainRejectedApproval(spanCtx, draft.ID, *req.CategoryID)
		}
		response.Approved = 1

		if req.OverrideScore != nil {
			if err := s.refreshOverall(spanCtx, draft.ID); err != nil {
				span.RecordError(err)
				return dto.ApproveResponse{}, err
			}
		}
	}

	pending, err := s.feedback.CountPending(spanCtx, draft.ID)
	if err != nil {
		span.RecordError(err)
		return dto.ApproveResponse{}, err
	}
	response.Pending = pending

	if pending == 0 {
		moved, err := s.lifecycle.transition(spanCtx, draft, models.DraftStatusReleased)
		if err != nil {
			return dto.ApproveResponse{}, err
		}
		// A concurrent approval may have released the draft first; either way it is released now.
		response.Status = models.DraftStatusReleased
		response.Released = true
		if moved {
			draft.Status = models.DraftStatusReleased
			s.erase(spanCtx, draft)
		}
	}

	s.logger.Info().
		Uint("draft_id", draft.ID).
		Uint("actor_id", actor.ID).
		Int64("approved", response.Approved).
		Int64("pending", response.Pending).
		Msg("feedback approved")

	return response, nil
}

func (s *reviewService) explainRejectedApproval(ctx context.Context, draftID, categoryID uint) error {
	rows, err := s.feedback.ListAggregated(ctx, draftID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.RubricCategoryID == categoryID {
			return &evaluation.StateError{Action: "approve category", Current: row.Status}
		}
	}
	return ErrFeedbackNotFound
}

func (s *reviewService) refreshOverall(ctx context.Context, draftID uint) error {
	rows, err := s.feedback.ListAggregated(ctx, draftID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	weighted := make([]evaluation.WeightedScore, 0, len(rows))
	for _, row := range rows {
		weighted = append(weighted, evaluation.WeightedScore{Score: row.EffectiveScore(), Weight: row.RubricCategory.Weight})
	}
	overall := evaluation.OverallScore(weighted)
	return s.drafts.UpdateOverallScore(ctx, draftID, &overall)
}

func (s *reviewService) erase(ctx context.Context, draft models.Draft) {
	if _, err := s.eraser.Erase(ctx, draft); err != nil {
		// The sweeper retries erasure of released drafts that still hold content.
		s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to erase released draft content")
	}
}
