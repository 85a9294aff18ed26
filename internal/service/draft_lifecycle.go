package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/observability"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
)

// DraftLifecycle applies draft status transitions. Every move is checked against the transition table
// and written as a compare-and-set, so a lost race returns false instead of moving the draft twice.
type DraftLifecycle struct {
	drafts repository.DraftRepository
	events *DraftEventPublisher
	cache  *StatusCache
	logger zerolog.Logger
}

// NewDraftLifecycle builds the transition helper shared by the pipeline services.
func NewDraftLifecycle(drafts repository.DraftRepository, events *DraftEventPublisher, cache *StatusCache, logger zerolog.Logger) *DraftLifecycle {
	return &DraftLifecycle{
		drafts: drafts,
		events: events,
		cache:  cache,
		logger: logger.With().Str("component", "draft_lifecycle").Logger(),
	}
}

func (l *DraftLifecycle) transition(ctx context.Context, draft models.Draft, to string) (bool, error) {
	if !evaluation.CanTransition(draft.Status, to) {
		return false, &evaluation.StateError{Action: "move to " + to, Current: draft.Status}
	}

	moved, err := l.drafts.TransitionStatus(ctx, draft.ID, draft.Status, to)
	if err != nil || !moved {
		return moved, err
	}
	l.changed(ctx, draft, to)
	return true, nil
}

func (l *DraftLifecycle) finalize(ctx context.Context, draft models.Draft, to string, outcome repository.DraftOutcome) (bool, error) {
	if !evaluation.CanTransition(draft.Status, to) {
		return false, &evaluation.StateError{Action: "finalize as " + to, Current: draft.Status}
	}

	moved, err := l.drafts.Finalize(ctx, draft.ID, draft.Status, to, outcome)
	if err != nil || !moved {
		return moved, err
	}
	l.changed(ctx, draft, to)
	return true, nil
}

// touched drops cached views of a draft whose feedback rows changed without a status move.
func (l *DraftLifecycle) touched(ctx context.Context, draftID uint) {
	l.cache.Invalidate(ctx, draftID)
}

func (l *DraftLifecycle) changed(ctx context.Context, draft models.Draft, to string) {
	observability.DraftTransitions().WithLabelValues(to).Inc()
	l.cache.Invalidate(ctx, draft.ID)
	l.events.Publish(ctx, draft, draft.Status, to)
	l.logger.Info().
		Uint("draft_id", draft.ID).
		Str("from", draft.Status).
		Str("to", to).
		Msg("draft status changed")
}
