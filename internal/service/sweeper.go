package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
)

// Sweeper periodically settles drafts the in-memory pipeline lost track of, typically after a restart.
// Submitted drafts that were never dispatched get their first batch, processing drafts whose batch
// outlived the ceiling are finalized, feedback_ready drafts that missed routing are routed, and
// released drafts that still hold content are erased.
type Sweeper struct {
	drafts       repository.DraftRepository
	assignments  repository.AssignmentRepository
	orchestrator Orchestrator
	review       ReviewService
	eraser       ContentEraser
	grace        time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewSweeper builds the sweeper. grace is added to the draft ceiling before a draft counts as stale.
// Drafts in the short-lived submitted and feedback_ready states count as stale after grace alone.
func NewSweeper(drafts repository.DraftRepository, assignments repository.AssignmentRepository, orchestrator Orchestrator, review ReviewService, eraser ContentEraser, grace time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		drafts:       drafts,
		assignments:  assignments,
		orchestrator: orchestrator,
		review:       review,
		eraser:       eraser,
		grace:        grace,
		logger:       logger.With().Str("component", "draft_sweeper").Logger(),
		now:          time.Now,
	}
}

// Start runs Sweep on every tick until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.logger.Error().Err(err).Msg("draft sweep failed")
				}
			}
		}
	}()
}

// Sweep performs one pass and returns the first repository error.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()

	undispatched, err := s.drafts.ListByStatusBefore(ctx, models.DraftStatusSubmitted, now.Add(-s.grace))
	if err != nil {
		return err
	}
	for _, draft := range undispatched {
		s.dispatch(ctx, draft)
	}

	stale, err := s.drafts.ListByStatusBefore(ctx, models.DraftStatusProcessing, now.Add(-(s.orchestrator.Ceiling() + s.grace)))
	if err != nil {
		return err
	}
	for _, draft := range stale {
		recovered, err := s.orchestrator.Recover(ctx, draft)
		if err != nil {
			s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to recover stale draft")
			continue
		}
		if recovered {
			s.logger.Warn().Uint("draft_id", draft.ID).Msg("stale draft finalized")
		}
	}

	unrouted, err := s.drafts.ListByStatusBefore(ctx, models.DraftStatusFeedbackReady, now.Add(-s.grace))
	if err != nil {
		return err
	}
	for _, draft := range unrouted {
		s.route(ctx, draft)
	}

	released, err := s.drafts.ListReleasedUnerased(ctx)
	if err != nil {
		return err
	}
	for _, draft := range released {
		if _, err := s.eraser.Erase(ctx, draft); err != nil {
			s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to erase released draft")
		}
	}
	return nil
}

func (s *Sweeper) dispatch(ctx context.Context, draft models.Draft) {
	assignment, err := s.assignments.GetWithRubric(ctx, draft.AssignmentID)
	if err != nil {
		s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to load assignment of undispatched draft")
		return
	}
	batch, err := s.orchestrator.Dispatch(ctx, draft, assignment)
	if err != nil {
		s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to dispatch undispatched draft")
		return
	}
	s.logger.Warn().Uint("draft_id", draft.ID).Int("batch", batch).Msg("undispatched draft dispatched")
}

func (s *Sweeper) route(ctx context.Context, draft models.Draft) {
	assignment, err := s.assignments.GetWithRubric(ctx, draft.AssignmentID)
	if err != nil {
		s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to load assignment of unrouted draft")
		return
	}
	next, err := s.review.Route(ctx, draft, assignment.Settings.RequireReview)
	if err != nil {
		s.logger.Error().Err(err).Uint("draft_id", draft.ID).Msg("failed to route feedback_ready draft")
		return
	}
	s.logger.Warn().Uint("draft_id", draft.ID).Str("status", next).Msg("unrouted draft routed")
}
