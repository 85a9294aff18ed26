package service

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
	"github.com/noah-isme/gema-feedback-api/pkg/ai"
)

// PipelineDeps lists what the evaluation pipeline needs from the outside.
type PipelineDeps struct {
	Assignments repository.AssignmentRepository
	Drafts      repository.DraftRepository
	Runs        repository.ModelRunRepository
	Feedback    repository.FeedbackRepository
	Registry    *submission.Registry
	Providers   ai.Providers
	Files       FileStore
	Events      *DraftEventPublisher
	Cache       *StatusCache
	Validator   *validator.Validate
}

// PipelineConfig tunes the orchestrator and the sweeper.
type PipelineConfig struct {
	Orchestrator OrchestratorConfig
	SweepGrace   time.Duration
}

// Pipeline is the wired evaluation core.
type Pipeline struct {
	Drafts       DraftService
	Orchestrator Orchestrator
	Review       ReviewService
	Eraser       ContentEraser
	Sweeper      *Sweeper
}

// NewPipeline wires lifecycle, eraser, review gate, aggregation, orchestrator and the draft service.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig, logger zerolog.Logger) *Pipeline {
	lifecycle := NewDraftLifecycle(deps.Drafts, deps.Events, deps.Cache, logger)
	eraser := NewContentEraser(deps.Drafts, deps.Files, deps.Cache, logger)
	review := NewReviewService(deps.Drafts, deps.Feedback, lifecycle, eraser, logger)
	aggregation := NewAggregationService(deps.Feedback, logger)

	orchestrator := NewOrchestrator(OrchestratorDeps{
		Assignments: deps.Assignments,
		Drafts:      deps.Drafts,
		Runs:        deps.Runs,
		Registry:    deps.Registry,
		Providers:   deps.Providers,
		Aggregation: aggregation,
		Review:      review,
		Lifecycle:   lifecycle,
	}, cfg.Orchestrator, logger)

	drafts := NewDraftService(DraftServiceDeps{
		Assignments:  deps.Assignments,
		Drafts:       deps.Drafts,
		Runs:         deps.Runs,
		Feedback:     deps.Feedback,
		Registry:     deps.Registry,
		Orchestrator: orchestrator,
		Review:       review,
		Events:       deps.Events,
		Cache:        deps.Cache,
		Validator:    deps.Validator,
	}, logger)

	grace := cfg.SweepGrace
	if grace <= 0 {
		grace = time.Minute
	}

	return &Pipeline{
		Drafts:       drafts,
		Orchestrator: orchestrator,
		Review:       review,
		Eraser:       eraser,
		Sweeper:      NewSweeper(deps.Drafts, deps.Assignments, orchestrator, review, eraser, grace, logger),
	}
}
