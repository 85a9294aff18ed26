package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/observability"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
	"github.com/noah-isme/gema-feedback-api/pkg/ai"
)

const (
	defaultRunTimeout   = 60 * time.Second
	defaultDraftCeiling = 5 * time.Minute
)

// OrchestratorConfig bounds the run pipeline.
type OrchestratorConfig struct {
	Workers      int
	RunTimeout   time.Duration
	DraftCeiling time.Duration
}

// OrchestratorDeps groups the collaborators of the orchestrator.
type OrchestratorDeps struct {
	Assignments repository.AssignmentRepository
	Drafts      repository.DraftRepository
	Runs        repository.ModelRunRepository
	Registry    *submission.Registry
	Providers   ai.Providers
	Aggregation AggregationService
	Review      ReviewService
	Lifecycle   *DraftLifecycle
}

// Orchestrator fans a draft out into model runs on a shared bounded pool and hands each batch to
// aggregation exactly once.
type Orchestrator interface {
	Dispatch(ctx context.Context, draft models.Draft, assignment models.Assignment) (int, error)
	Recover(ctx context.Context, draft models.Draft) (bool, error)
	Ceiling() time.Duration
	Wait()
}

type orchestrator struct {
	deps       OrchestratorDeps
	cfg        OrchestratorConfig
	pool       *evaluation.Pool
	barriers   *evaluation.Barriers
	finalizing sync.Map
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewOrchestrator constructs the run orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig, logger zerolog.Logger) Orchestrator {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if cfg.DraftCeiling <= 0 {
		cfg.DraftCeiling = defaultDraftCeiling
	}

	o := &orchestrator{
		deps:   deps,
		cfg:    cfg,
		pool:   evaluation.NewPool(cfg.Workers),
		logger: logger.With().Str("component", "orchestrator").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-feedback-api/internal/service/orchestrator"),
		now:    time.Now,
	}
	o.barriers = evaluation.NewBarriers(cfg.DraftCeiling, o.onFire)
	return o
}

func (o *orchestrator) Ceiling() time.Duration {
	return o.cfg.DraftCeiling
}

// Wait blocks until every enqueued run finished. Used on shutdown and in tests.
func (o *orchestrator) Wait() {
	o.pool.Wait()
}

// Dispatch moves the draft to processing, creates a fresh batch of runs and enqueues them. It returns
// the batch number without waiting for any run.
func (o *orchestrator) Dispatch(ctx context.Context, draft models.Draft, assignment models.Assignment) (int, error) {
	spanCtx, span := o.tracer.Start(ctx, "evaluation.dispatch", trace.WithAttributes(
		attribute.Int("draft.id", int(draft.ID)),
		attribute.String("submission.type", draft.SubmissionType),
	))
	defer span.End()

	if draft.Status != models.DraftStatusSubmitted && draft.Status != models.DraftStatusError {
		return 0, &evaluation.StateError{Action: "dispatch", Current: draft.Status}
	}

	handler, ok := o.deps.Registry.Handler(draft.SubmissionType)
	if !ok {
		return 0, evaluation.NewValidationError("submission_type", fmt.Sprintf("type %q is not registered", draft.SubmissionType))
	}
	prompt := handler.BuildPrompt(assignment.Rubric, submission.Restore(draft))
	o.checkModels(assignment)

	moved, err := o.deps.Lifecycle.transition(spanCtx, draft, models.DraftStatusProcessing)
	if err != nil {
		return 0, err
	}
	if !moved {
		current, err := o.deps.Drafts.GetByID(spanCtx, draft.ID)
		if err != nil {
			return 0, err
		}
		return 0, &evaluation.StateError{Action: "dispatch", Current: current.Status}
	}
	processing := draft
	processing.Status = models.DraftStatusProcessing

	runs, batch, err := o.createBatch(spanCtx, draft.ID, assignment.Settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.failDispatch(spanCtx, processing, err)
		return 0, err
	}

	key := evaluation.BatchKey{DraftID: draft.ID, Batch: batch}
	o.barriers.Arm(key, len(runs))
	for _, run := range runs {
		o.pool.Go(func() { o.execute(run, prompt) }, func() { o.barriers.Done(key) })
	}

	span.SetAttributes(attribute.Int("batch", batch), attribute.Int("runs", len(runs)))
	o.logger.Info().
		Uint("draft_id", draft.ID).
		Int("batch", batch).
		Int("runs", len(runs)).
		Msg("draft dispatched")
	return batch, nil
}

func (o *orchestrator) createBatch(ctx context.Context, draftID uint, settings models.AssignmentEvaluationSettings) ([]models.ModelRun, int, error) {
	latest, err := o.deps.Runs.LatestBatch(ctx, draftID)
	if err != nil {
		return nil, 0, err
	}
	batch := latest + 1

	numRuns := settings.NumRuns
	if numRuns <= 0 {
		numRuns = 1
	}

	runs := make([]models.ModelRun, 0, numRuns)
	for number := 1; number <= numRuns; number++ {
		runs = append(runs, models.ModelRun{
			DraftID:   draftID,
			Batch:     batch,
			RunNumber: number,
			RunKey:    uuid.NewString(),
			ModelID:   settings.ModelForRun(number),
			Status:    models.ModelRunStatusPending,
		})
	}
	if err := o.deps.Runs.CreateBatch(ctx, runs); err != nil {
		return nil, 0, err
	}
	return runs, batch, nil
}

func (o *orchestrator) failDispatch(ctx context.Context, draft models.Draft, cause error) {
	outcome := repository.DraftOutcome{ErrorSummary: "dispatch failed: " + cause.Error()}
	if _, err := o.deps.Lifecycle.finalize(ctx, draft, models.DraftStatusError, outcome); err != nil {
		o.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to mark undispatched draft as error")
	}
}

func (o *orchestrator) checkModels(assignment models.Assignment) {
	modelsList := assignment.Settings.ModelList()
	if len(modelsList) == 0 {
		o.anomaly(assignment.ID, &evaluation.ConfigurationError{Detail: "no models configured"})
		return
	}
	for _, model := range modelsList {
		if _, ok := o.deps.Providers.Get(model); !ok {
			o.anomaly(assignment.ID, &evaluation.ConfigurationError{Detail: fmt.Sprintf("model %q is not available", model)})
		}
	}
}

func (o *orchestrator) anomaly(assignmentID uint, err *evaluation.ConfigurationError) {
	observability.Anomalies().WithLabelValues("configuration").Inc()
	observability.CaptureErr(err, map[string]string{"component": "orchestrator", "assignment_id": fmt.Sprint(assignmentID)})
	o.logger.Warn().Err(err).Uint("assignment_id", assignmentID).Msg("configuration anomaly")
}

// execute runs one model call on a detached context so a caller going away never cancels it.
func (o *orchestrator) execute(run models.ModelRun, prompt string) {
	ctx := context.Background()
	logger := o.logger.With().Uint("draft_id", run.DraftID).Uint("run_id", run.ID).Str("model", run.ModelID).Logger()

	observability.RunsInFlight().Inc()
	defer observability.RunsInFlight().Dec()

	start := o.now()
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error().Interface("panic", recovered).Msg("model run panicked")
			o.finish(ctx, run, start, "", fmt.Errorf("panic: %v", recovered), logger)
		}
	}()

	started, err := o.deps.Runs.MarkRunning(ctx, run.ID, start.UTC())
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark model run running")
		o.finish(ctx, run, start, "", err, logger)
		return
	}
	if !started {
		logger.Warn().Msg("model run no longer pending, skipping")
		return
	}

	client, ok := o.deps.Providers.Get(run.ModelID)
	if !ok {
		o.finish(ctx, run, start, "", fmt.Errorf("model %q is not configured", run.ModelID), logger)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	resp, err := client.Invoke(callCtx, ai.Request{
		RunKey:  run.RunKey,
		Prompt:  prompt,
		Timeout: o.cfg.RunTimeout,
	})
	if err == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = ai.ErrTimeout
	}
	o.finish(ctx, run, start, resp.Text, err, logger)
}

func (o *orchestrator) finish(ctx context.Context, run models.ModelRun, start time.Time, raw string, callErr error, logger zerolog.Logger) {
	completed := o.now()
	elapsed := completed.Sub(start)
	result := repository.RunResult{
		Status:          models.ModelRunStatusComplete,
		RawResponse:     raw,
		ExecutionTimeMs: elapsed.Milliseconds(),
		CompletedAt:     completed.UTC(),
	}
	outcome := "complete"
	if callErr != nil {
		providerErr := &evaluation.ProviderError{RunNumber: run.RunNumber, Model: run.ModelID, Err: callErr}
		result.Status = models.ModelRunStatusError
		result.RawResponse = ""
		result.ErrorMessage = providerErr.Error()
		outcome = "error"
		if errors.Is(callErr, ai.ErrTimeout) {
			outcome = "timeout"
		}
		logger.Warn().Err(providerErr).Msg("model run failed")
	}

	observability.ModelRuns().WithLabelValues(run.ModelID, outcome).Inc()
	observability.ModelRunDuration().WithLabelValues(run.ModelID).Observe(elapsed.Seconds())

	recorded, err := o.deps.Runs.Finish(ctx, run.ID, result)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record model run outcome")
		return
	}
	if !recorded {
		logger.Warn().Msg("model run already terminal, outcome discarded")
	}
}

func (o *orchestrator) onFire(key evaluation.BatchKey, reason string) {
	observability.BarrierFires().WithLabelValues(reason).Inc()
	if err := o.finalize(context.Background(), key, reason); err != nil {
		o.logger.Error().Err(err).Uint("draft_id", key.DraftID).Int("batch", key.Batch).Msg("failed to finalize draft")
		observability.CaptureErr(err, map[string]string{"component": "orchestrator"})
	}
}

// Recover finalizes a processing draft whose batch is no longer tracked in memory, e.g. after a restart.
func (o *orchestrator) Recover(ctx context.Context, draft models.Draft) (bool, error) {
	if draft.Status != models.DraftStatusProcessing {
		return false, nil
	}
	batch, err := o.deps.Runs.LatestBatch(ctx, draft.ID)
	if err != nil {
		return false, err
	}
	key := evaluation.BatchKey{DraftID: draft.ID, Batch: batch}
	if o.barriers.Armed(key) {
		return false, nil
	}
	observability.BarrierFires().WithLabelValues("recovered").Inc()
	if err := o.finalize(ctx, key, evaluation.FireCeiling); err != nil {
		return false, err
	}
	return true, nil
}

// finalize is single-writer per draft: a second caller for the same draft returns immediately and the
// conditional status update rejects any later attempt once the draft left processing.
func (o *orchestrator) finalize(ctx context.Context, key evaluation.BatchKey, reason string) error {
	if _, busy := o.finalizing.LoadOrStore(key.DraftID, struct{}{}); busy {
		return nil
	}
	defer o.finalizing.Delete(key.DraftID)

	logger := o.logger.With().Uint("draft_id", key.DraftID).Int("batch", key.Batch).Str("reason", reason).Logger()

	if reason == evaluation.FireCeiling {
		message := fmt.Sprintf("abandoned: draft ceiling of %s elapsed", o.cfg.DraftCeiling)
		abandoned, err := o.deps.Runs.AbandonUnfinished(ctx, key.DraftID, key.Batch, message, o.now().UTC())
		if err != nil {
			return err
		}
		if abandoned > 0 {
			logger.Warn().Int64("abandoned", abandoned).Msg("unfinished runs abandoned")
		}
	}

	draft, err := o.deps.Drafts.GetByID(ctx, key.DraftID)
	if err != nil {
		return err
	}
	if draft.Status != models.DraftStatusProcessing {
		logger.Debug().Str("status", draft.Status).Msg("draft already finalized")
		return nil
	}

	runs, err := o.deps.Runs.ListBatch(ctx, key.DraftID, key.Batch)
	if err != nil {
		return err
	}

	var failures []string
	successes := 0
	for _, run := range runs {
		switch run.Status {
		case models.ModelRunStatusComplete:
			successes++
		case models.ModelRunStatusError:
			failures = append(failures, run.ErrorMessage)
		}
	}

	if successes == 0 {
		summary := strings.Join(failures, "\n")
		if summary == "" {
			summary = "no model run completed"
		}
		if _, err := o.deps.Lifecycle.finalize(ctx, draft, models.DraftStatusError, repository.DraftOutcome{ErrorSummary: summary}); err != nil {
			return err
		}
		observability.CaptureErr(errors.New(summary), map[string]string{"component": "orchestrator", "draft_id": fmt.Sprint(draft.ID)})
		logger.Error().Int("runs", len(runs)).Msg("every model run failed")
		return nil
	}

	assignment, err := o.deps.Assignments.GetWithRubric(ctx, draft.AssignmentID)
	if err != nil {
		return err
	}

	result, err := o.deps.Aggregation.Aggregate(ctx, draft, assignment, runs)
	if err != nil {
		outcome := repository.DraftOutcome{ErrorSummary: "aggregation failed: " + err.Error()}
		if _, finalizeErr := o.deps.Lifecycle.finalize(ctx, draft, models.DraftStatusError, outcome); finalizeErr != nil {
			logger.Error().Err(finalizeErr).Msg("failed to mark draft as error")
		}
		return err
	}

	outcome := repository.DraftOutcome{OverallScore: result.Overall, ErrorSummary: strings.Join(failures, "\n")}
	moved, err := o.deps.Lifecycle.finalize(ctx, draft, models.DraftStatusFeedbackReady, outcome)
	if err != nil || !moved {
		return err
	}

	draft.Status = models.DraftStatusFeedbackReady
	next, err := o.deps.Review.Route(ctx, draft, assignment.Settings.RequireReview)
	if err != nil {
		return err
	}

	logger.Info().
		Int("successful_runs", successes).
		Int("failed_runs", len(failures)).
		Int("insufficient_categories", len(result.Insufficient)).
		Str("status", next).
		Msg("draft evaluated")
	return nil
}
