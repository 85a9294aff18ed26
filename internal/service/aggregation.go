package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/observability"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
)

// AggregationService parses the terminal runs of a batch and writes one aggregated row per scored category.
type AggregationService interface {
	Aggregate(ctx context.Context, draft models.Draft, assignment models.Assignment, runs []models.ModelRun) (evaluation.Result, error)
}

type aggregationService struct {
	feedback repository.FeedbackRepository
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAggregationService constructs the aggregation step of the pipeline.
func NewAggregationService(feedback repository.FeedbackRepository, logger zerolog.Logger) AggregationService {
	return &aggregationService{
		feedback: feedback,
		logger:   logger.With().Str("component", "aggregation_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-feedback-api/internal/service/aggregation"),
		now:      time.Now,
	}
}

// Aggregate is idempotent: run results are stored once per run and aggregated rows once per category,
// so running it again over the same runs leaves the stored feedback unchanged.
func (s *aggregationService) Aggregate(ctx context.Context, draft models.Draft, assignment models.Assignment, runs []models.ModelRun) (evaluation.Result, error) {
	spanCtx, span := s.tracer.Start(ctx, "evaluation.aggregate", trace.WithAttributes(
		attribute.Int("draft.id", int(draft.ID)),
		attribute.Int("runs", len(runs)),
	))
	defer span.End()

	runIDs := make([]uint, 0, len(runs))
	for _, run := range runs {
		if run.Status != models.ModelRunStatusComplete {
			continue
		}
		runIDs = append(runIDs, run.ID)

		parsed := evaluation.ParseResponse(run.RawResponse, assignment.Rubric)
		if len(parsed.Missing) > 0 {
			parseErr := &evaluation.ParseError{RunNumber: run.RunNumber, Categories: parsed.MissingNames()}
			observability.Anomalies().WithLabelValues("parse").Inc()
			s.logger.Warn().
				Err(parseErr).
				Uint("draft_id", draft.ID).
				Uint("run_id", run.ID).
				Strs("problems", parsed.Problems).
				Msg("model output incomplete")
		}

		if err := s.feedback.SaveRunResults(spanCtx, run.ID, parsed.Overall, parsed.Scores, parsed.Items); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return evaluation.Result{}, fmt.Errorf("store results of run %d: %w", run.ID, err)
		}
	}

	scores, err := s.feedback.ListScores(spanCtx, runIDs)
	if err != nil {
		span.RecordError(err)
		return evaluation.Result{}, err
	}
	items, err := s.feedback.ListItems(spanCtx, runIDs)
	if err != nil {
		span.RecordError(err)
		return evaluation.Result{}, err
	}

	result := evaluation.Compute(evaluation.Input{
		Rubric: assignment.Rubric,
		Method: assignment.Settings.AggregationMethod,
		Scores: scores,
		Items:  items,
	})

	for _, anomaly := range result.Anomalies {
		observability.Anomalies().WithLabelValues("configuration").Inc()
		observability.CaptureErr(anomaly, map[string]string{
			"component":     "aggregation_service",
			"assignment_id": fmt.Sprint(assignment.ID),
		})
		s.logger.Warn().Err(anomaly).Uint("draft_id", draft.ID).Uint("assignment_id", assignment.ID).Msg("configuration anomaly")
	}

	status := evaluation.InitialFeedbackStatus(assignment.Settings.RequireReview)
	now := s.now().UTC()
	rows := make([]models.AggregatedFeedback, 0, len(result.Categories))
	for _, category := range result.Categories {
		row := models.AggregatedFeedback{
			DraftID:          draft.ID,
			RubricCategoryID: category.CategoryID,
			AggregatedScore:  category.Score,
			SampleCount:      category.SampleCount,
			Method:           category.Method,
			FeedbackText:     category.Text,
			Strengths:        datatypes.NewJSONSlice(category.Strengths),
			Improvements:     datatypes.NewJSONSlice(category.Improvements),
			Status:           status,
		}
		if status == models.FeedbackStatusApproved {
			approvedAt := now
			row.ApprovedAt = &approvedAt
		}
		rows = append(rows, row)
	}

	if err := s.feedback.CreateAggregated(spanCtx, rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return evaluation.Result{}, err
	}

	span.SetAttributes(attribute.Int("categories", len(rows)), attribute.Int("insufficient", len(result.Insufficient)))
	return result, nil
}
