package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/observability"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
)

// FileStore deletes stored original submission files. *cloudinary.Store satisfies it.
type FileStore interface {
	Delete(ctx context.Context, fileRef string) error
}

// ContentEraser clears the raw content of released drafts while keeping derived metrics.
type ContentEraser interface {
	Erase(ctx context.Context, draft models.Draft) (bool, error)
}

type contentEraser struct {
	drafts repository.DraftRepository
	files  FileStore
	cache  *StatusCache
	logger zerolog.Logger
	now    func() time.Time
}

// NewContentEraser builds the eraser. files may be nil when originals are not stored remotely.
func NewContentEraser(drafts repository.DraftRepository, files FileStore, cache *StatusCache, logger zerolog.Logger) ContentEraser {
	return &contentEraser{
		drafts: drafts,
		files:  files,
		cache:  cache,
		logger: logger.With().Str("component", "content_eraser").Logger(),
		now:    time.Now,
	}
}

// Erase overwrites the content of a released draft exactly once. It returns false when the draft is
// not released or was already erased.
func (e *contentEraser) Erase(ctx context.Context, draft models.Draft) (bool, error) {
	metadata := datatypes.JSONMap{}
	for key, value := range draft.Metadata {
		if key == submission.ContextKey {
			continue
		}
		metadata[key] = value
	}

	erased, err := e.drafts.EraseContent(ctx, draft.ID, models.ErasedContentPlaceholder, metadata, e.now().UTC())
	if err != nil || !erased {
		return false, err
	}

	observability.ContentErasures().Inc()
	e.cache.Invalidate(ctx, draft.ID)

	if draft.FileRef != "" && e.files != nil {
		if err := e.files.Delete(ctx, draft.FileRef); err != nil {
			e.logger.Warn().Err(err).Uint("draft_id", draft.ID).Msg("failed to delete stored submission file")
			observability.CaptureErr(err, map[string]string{"component": "content_eraser"})
		}
	}

	e.logger.Info().Uint("draft_id", draft.ID).Msg("draft content erased")
	return true, nil
}
