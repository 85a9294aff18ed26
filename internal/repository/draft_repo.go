package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// ErrDraftLimitReached indicates the student already used every allowed draft of an assignment.
var ErrDraftLimitReached = errors.New("draft limit reached")

// DraftOutcome carries the derived fields written when a draft leaves processing.
type DraftOutcome struct {
	OverallScore *float64
	ErrorSummary string
}

// DraftRepository persists drafts. Status changes are conditional updates so concurrent writers
// cannot move a draft twice.
type DraftRepository interface {
	CreateVersioned(ctx context.Context, draft *models.Draft, maxDrafts int) error
	GetByID(ctx context.Context, id uint) (models.Draft, error)
	TransitionStatus(ctx context.Context, id uint, from, to string) (bool, error)
	Finalize(ctx context.Context, id uint, from, to string, outcome DraftOutcome) (bool, error)
	UpdateOverallScore(ctx context.Context, id uint, score *float64) error
	EraseContent(ctx context.Context, id uint, placeholder string, metadata datatypes.JSONMap, at time.Time) (bool, error)
	ListByStatusBefore(ctx context.Context, status string, before time.Time) ([]models.Draft, error)
	ListReleasedUnerased(ctx context.Context) ([]models.Draft, error)
}

type draftRepository struct {
	db *gorm.DB
}

// NewDraftRepository instantiates a GORM-backed repository.
func NewDraftRepository(db *gorm.DB) DraftRepository {
	return &draftRepository{db: db}
}

// CreateVersioned assigns the next version for the (assignment, student) pair and inserts the
// draft, refusing when maxDrafts versions already exist.
func (r *draftRepository) CreateVersioned(ctx context.Context, draft *models.Draft, maxDrafts int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest struct {
			Count   int64
			Version int
		}
		err := tx.Model(&models.Draft{}).
			Select("COUNT(*) AS count, COALESCE(MAX(version), 0) AS version").
			Where("assignment_id = ? AND student_id = ?", draft.AssignmentID, draft.StudentID).
			Scan(&latest).Error
		if err != nil {
			return err
		}
		if maxDrafts > 0 && latest.Count >= int64(maxDrafts) {
			return ErrDraftLimitReached
		}

		draft.Version = latest.Version + 1
		return tx.Omit(clause.Associations).Create(draft).Error
	})
}

func (r *draftRepository) GetByID(ctx context.Context, id uint) (models.Draft, error) {
	var draft models.Draft
	if err := r.db.WithContext(ctx).First(&draft, id).Error; err != nil {
		return models.Draft{}, err
	}
	return draft, nil
}

func (r *draftRepository) TransitionStatus(ctx context.Context, id uint, from, to string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Draft{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *draftRepository) Finalize(ctx context.Context, id uint, from, to string, outcome DraftOutcome) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Draft{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":        to,
			"overall_score": outcome.OverallScore,
			"error_summary": outcome.ErrorSummary,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *draftRepository) UpdateOverallScore(ctx context.Context, id uint, score *float64) error {
	return r.db.WithContext(ctx).Model(&models.Draft{}).
		Where("id = ?", id).
		Update("overall_score", score).Error
}

// EraseContent overwrites the content of a released draft. It only matches once per draft.
func (r *draftRepository) EraseContent(ctx context.Context, id uint, placeholder string, metadata datatypes.JSONMap, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Draft{}).
		Where("id = ? AND status = ? AND erased_at IS NULL", id, models.DraftStatusReleased).
		Updates(map[string]interface{}{
			"content":    placeholder,
			"metadata":   metadata,
			"erased_at":  at,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *draftRepository) ListByStatusBefore(ctx context.Context, status string, before time.Time) ([]models.Draft, error) {
	var drafts []models.Draft
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("id ASC").
		Find(&drafts).Error
	if err != nil {
		return nil, err
	}
	return drafts, nil
}

func (r *draftRepository) ListReleasedUnerased(ctx context.Context) ([]models.Draft, error) {
	var drafts []models.Draft
	err := r.db.WithContext(ctx).
		Where("status = ? AND erased_at IS NULL", models.DraftStatusReleased).
		Order("id ASC").
		Find(&drafts).Error
	if err != nil {
		return nil, err
	}
	return drafts, nil
}
