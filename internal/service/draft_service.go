package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-feedback-api/internal/dto"
	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/observability"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
)

// Roles recognised by the evaluation endpoints.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

var (
	// ErrDraftNotFound indicates the draft does not exist.
	ErrDraftNotFound = errors.New("draft not found")
	// ErrAssignmentNotFound indicates the referenced assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrDraftForbidden indicates a student asked for another student's draft.
	ErrDraftForbidden = errors.New("draft belongs to another student")
)

// Actor identifies the authenticated caller.
type Actor struct {
	ID   uint
	Role string
}

// KnownRole reports whether role is one the evaluation endpoints grant access to.
func KnownRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsReviewer reports whether the actor may review and release feedback.
func (a Actor) IsReviewer() bool {
	return a.Role == RoleTeacher || a.Role == RoleAdmin
}

// DraftService is the public surface of the evaluation core.
type DraftService interface {
	Submit(ctx context.Context, req dto.DraftSubmitRequest) (dto.DraftSubmitResponse, error)
	GetStatus(ctx context.Context, draftID uint) (dto.DraftStatusResponse, error)
	GetAggregatedFeedback(ctx context.Context, draftID uint, actor Actor) ([]dto.AggregatedFeedbackResponse, error)
	Approve(ctx context.Context, draftID uint, req dto.ApproveRequest, actor Actor) (dto.ApproveResponse, error)
	Retry(ctx context.Context, draftID uint, actor Actor) (dto.RetryResponse, error)
}

// DraftServiceDeps groups the collaborators of the draft service.
type DraftServiceDeps struct {
	Assignments  repository.AssignmentRepository
	Drafts       repository.DraftRepository
	Runs         repository.ModelRunRepository
	Feedback     repository.FeedbackRepository
	Registry     *submission.Registry
	Orchestrator Orchestrator
	Review       ReviewService
	Events       *DraftEventPublisher
	Cache        *StatusCache
	Validator    *validator.Validate
}

type draftService struct {
	deps   DraftServiceDeps
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewDraftService constructs the draft service.
func NewDraftService(deps DraftServiceDeps, logger zerolog.Logger) DraftService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	return &draftService{
		deps:   deps,
		logger: logger.With().Str("component", "draft_service").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-feedback-api/internal/service/draft"),
		now:    time.Now,
	}
}

// Submit validates and preprocesses the input, stores a new draft version and dispatches its runs.
// Nothing is persisted when validation fails.
func (s *draftService) Submit(ctx context.Context, req dto.DraftSubmitRequest) (dto.DraftSubmitResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "evaluation.submit", trace.WithAttributes(
		attribute.Int("assignment.id", int(req.AssignmentID)),
		attribute.String("submission.type", req.SubmissionType),
	))
	defer span.End()

	if err := s.deps.Validator.Struct(req); err != nil {
		return dto.DraftSubmitResponse{}, s.reject(validationFailure(err))
	}

	assignment, err := s.deps.Assignments.GetWithRubric(spanCtx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.DraftSubmitResponse{}, ErrAssignmentNotFound
		}
		span.RecordError(err)
		return dto.DraftSubmitResponse{}, err
	}

	submissionType := strings.ToLower(strings.TrimSpace(req.SubmissionType))
	if assignment.SubmissionType != "" && submissionType != assignment.SubmissionType {
		return dto.DraftSubmitResponse{}, s.reject(evaluation.NewValidationError("submission_type",
			fmt.Sprintf("assignment expects %q submissions", assignment.SubmissionType)))
	}
	handler, ok := s.deps.Registry.Handler(submissionType)
	if !ok {
		return dto.DraftSubmitResponse{}, s.reject(evaluation.NewValidationError("submission_type",
			fmt.Sprintf("type %q is not supported", submissionType)))
	}

	input := submission.Input{
		Content:  req.Content,
		FileRef:  req.FileRef,
		FilePath: req.FilePath,
		FileName: req.FileName,
		FileSize: req.FileSize,
		Metadata: req.Metadata,
	}
	if err := handler.Validate(spanCtx, input); err != nil {
		return dto.DraftSubmitResponse{}, s.reject(err)
	}
	pre, err := handler.Preprocess(spanCtx, input)
	if err != nil {
		return dto.DraftSubmitResponse{}, s.reject(err)
	}

	draft := models.Draft{
		AssignmentID:   assignment.ID,
		StudentID:      req.StudentID,
		SubmissionType: submissionType,
		Content:        pre.Text,
		FileRef:        req.FileRef,
		WordCount:      pre.WordCount,
		Metadata:       datatypes.JSONMap(submission.Persistable(pre)),
		Status:         models.DraftStatusSubmitted,
		SubmittedAt:    s.now().UTC(),
	}
	if err := s.deps.Drafts.CreateVersioned(spanCtx, &draft, assignment.MaxDrafts); err != nil {
		if errors.Is(err, repository.ErrDraftLimitReached) {
			return dto.DraftSubmitResponse{}, s.reject(evaluation.NewValidationError("assignment_id",
				fmt.Sprintf("maximum of %d drafts reached", assignment.MaxDrafts)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.DraftSubmitResponse{}, err
	}
	s.deps.Events.Publish(spanCtx, draft, "", models.DraftStatusSubmitted)

	batch, err := s.deps.Orchestrator.Dispatch(spanCtx, draft, assignment)
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to dispatch draft")
		return dto.DraftSubmitResponse{}, err
	}

	s.logger.Info().
		Uint("draft_id", draft.ID).
		Uint("student_id", draft.StudentID).
		Int("version", draft.Version).
		Msg("draft submitted")

	return dto.DraftSubmitResponse{
		DraftID:     draft.ID,
		Version:     draft.Version,
		Status:      models.DraftStatusProcessing,
		Batch:       batch,
		SubmittedAt: draft.SubmittedAt,
	}, nil
}

func (s *draftService) GetStatus(ctx context.Context, draftID uint) (dto.DraftStatusResponse, error) {
	if cached, ok := s.deps.Cache.Get(ctx, draftID); ok {
		return cached, nil
	}
	generation := s.deps.Cache.Generation(ctx, draftID)

	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return dto.DraftStatusResponse{}, err
	}
	assignment, err := s.deps.Assignments.GetWithRubric(ctx, draft.AssignmentID)
	if err != nil {
		return dto.DraftStatusResponse{}, err
	}

	batch, err := s.deps.Runs.LatestBatch(ctx, draft.ID)
	if err != nil {
		return dto.DraftStatusResponse{}, err
	}
	runs, err := s.deps.Runs.ListBatch(ctx, draft.ID, batch)
	if err != nil {
		return dto.DraftStatusResponse{}, err
	}
	rows, err := s.deps.Feedback.ListAggregated(ctx, draft.ID)
	if err != nil {
		return dto.DraftStatusResponse{}, err
	}

	response := dto.DraftStatusResponse{
		DraftID:       draft.ID,
		AssignmentID:  draft.AssignmentID,
		StudentID:     draft.StudentID,
		Version:       draft.Version,
		Status:        draft.Status,
		WordCount:     draft.WordCount,
		OverallScore:  draft.OverallScore,
		ErrorSummary:  draft.ErrorSummary,
		ContentErased: draft.IsErased(),
		Runs:          summarizeRuns(batch, runs),
		Categories:    categoryStatuses(draft.Status, assignment.Rubric, rows),
		SubmittedAt:   draft.SubmittedAt,
		UpdatedAt:     draft.UpdatedAt,
	}

	// Run counters move without a draft transition while processing, so only settled states are cached.
	if draft.Status != models.DraftStatusSubmitted && draft.Status != models.DraftStatusProcessing {
		s.deps.Cache.Set(ctx, response, generation)
	}
	return response, nil
}

// GetAggregatedFeedback returns feedback visible to the caller. Students only see their own draft once
// it is released; reviewers see every row from feedback_ready onwards.
func (s *draftService) GetAggregatedFeedback(ctx context.Context, draftID uint, actor Actor) ([]dto.AggregatedFeedbackResponse, error) {
	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.AggregatedFeedbackResponse, 0)
	if !actor.IsReviewer() {
		if draft.StudentID != actor.ID {
			return nil, ErrDraftForbidden
		}
		if draft.Status != models.DraftStatusReleased {
			return responses, nil
		}
	} else if !feedbackExists(draft.Status) {
		return responses, nil
	}

	rows, err := s.deps.Feedback.ListAggregated(ctx, draft.ID)
	if err != nil {
		return nil, err
	}

	handler, _ := s.deps.Registry.Handler(draft.SubmissionType)
	for _, row := range rows {
		if !actor.IsReviewer() && !row.IsApproved() {
			continue
		}
		text := row.EffectiveText()
		format := submission.FormatPlain
		if handler != nil {
			display := handler.FormatFeedback(text, map[string]interface{}(draft.Metadata))
			text, format = display.Text, display.Format
		}
		responses = append(responses, dto.NewAggregatedFeedbackResponse(row, text, format))
	}
	return responses, nil
}

func (s *draftService) Approve(ctx context.Context, draftID uint, req dto.ApproveRequest, actor Actor) (dto.ApproveResponse, error) {
	if err := s.deps.Validator.Struct(req); err != nil {
		return dto.ApproveResponse{}, validationFailure(err)
	}
	return s.deps.Review.Approve(ctx, draftID, req, actor)
}

// Retry dispatches a fresh batch for a draft whose previous batch failed entirely.
func (s *draftService) Retry(ctx context.Context, draftID uint, actor Actor) (dto.RetryResponse, error) {
	draft, err := s.loadDraft(ctx, draftID)
	if err != nil {
		return dto.RetryResponse{}, err
	}
	if draft.Status != models.DraftStatusError {
		return dto.RetryResponse{}, &evaluation.StateError{Action: "retry", Current: draft.Status}
	}

	assignment, err := s.deps.Assignments.GetWithRubric(ctx, draft.AssignmentID)
	if err != nil {
		return dto.RetryResponse{}, err
	}

	batch, err := s.deps.Orchestrator.Dispatch(ctx, draft, assignment)
	if err != nil {
		return dto.RetryResponse{}, err
	}

	runs := assignment.Settings.NumRuns
	if runs <= 0 {
		runs = 1
	}
	s.logger.Info().Uint("draft_id", draft.ID).Uint("actor_id", actor.ID).Int("batch", batch).Msg("draft retried")

	return dto.RetryResponse{
		DraftID: draft.ID,
		Batch:   batch,
		Runs:    runs,
		Status:  models.DraftStatusProcessing,
	}, nil
}

func (s *draftService) loadDraft(ctx context.Context, draftID uint) (models.Draft, error) {
	draft, err := s.deps.Drafts.GetByID(ctx, draftID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Draft{}, ErrDraftNotFound
		}
		return models.Draft{}, err
	}
	return draft, nil
}

func (s *draftService) reject(err error) error {
	var validationErr *evaluation.ValidationError
	if errors.As(err, &validationErr) {
		observability.RejectedSubmissions().WithLabelValues(validationErr.Field).Inc()
		s.logger.Info().Str("field", validationErr.Field).Str("reason", validationErr.Reason).Msg("submission rejected")
	}
	return err
}

func feedbackExists(status string) bool {
	switch status {
	case models.DraftStatusFeedbackReady, models.DraftStatusUnderReview, models.DraftStatusReleased:
		return true
	default:
		return false
	}
}

func summarizeRuns(batch int, runs []models.ModelRun) dto.RunSummary {
	summary := dto.RunSummary{Batch: batch, Total: len(runs)}
	for _, run := range runs {
		switch run.Status {
		case models.ModelRunStatusPending:
			summary.Pending++
		case models.ModelRunStatusRunning:
			summary.Running++
		case models.ModelRunStatusComplete:
			summary.Complete++
		case models.ModelRunStatusError:
			summary.Error++
		}
	}
	return summary
}

// categoryStatuses flags a category as insufficient once aggregation ran without producing a row for it.
func categoryStatuses(status string, rubric []models.RubricCategory, rows []models.AggregatedFeedback) []dto.CategoryStatus {
	byCategory := make(map[uint]models.AggregatedFeedback, len(rows))
	for _, row := range rows {
		byCategory[row.RubricCategoryID] = row
	}
	aggregated := feedbackExists(status)

	result := make([]dto.CategoryStatus, 0, len(rubric))
	for _, category := range rubric {
		entry := dto.CategoryStatus{CategoryID: category.ID, Name: category.Name}
		if row, ok := byCategory[category.ID]; ok {
			entry.FeedbackStatus = row.Status
		} else if aggregated {
			entry.InsufficientData = true
		}
		result = append(result, entry)
	}
	return result
}

func validationFailure(err error) error {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		first := fieldErrors[0]
		return evaluation.NewValidationError(snakeCase(first.Field()), fmt.Sprintf("failed %q validation", first.Tag()))
	}
	return evaluation.NewValidationError("", err.Error())
}

func snakeCase(name string) string {
	var builder strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				builder.WriteByte('_')
			}
			builder.WriteRune(unicode.ToLower(r))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
