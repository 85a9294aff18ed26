package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// Approval describes one reviewer approval.
type Approval struct {
	ApproverID    uint
	At            time.Time
	EditedText    *string
	OverrideScore *float64
}

// FeedbackRepository persists per-run parse results and the aggregated feedback of drafts.
type FeedbackRepository interface {
	SaveRunResults(ctx context.Context, runID uint, overall *float64, scores []models.CategoryScore, items []models.FeedbackItem) error
	ListScores(ctx context.Context, runIDs []uint) ([]models.CategoryScore, error)
	ListItems(ctx context.Context, runIDs []uint) ([]models.FeedbackItem, error)
	CreateAggregated(ctx context.Context, rows []models.AggregatedFeedback) error
	ListAggregated(ctx context.Context, draftID uint) ([]models.AggregatedFeedback, error)
	ApproveCategory(ctx context.Context, draftID, categoryID uint, approval Approval) (bool, error)
	ApprovePending(ctx context.Context, draftID uint, approval Approval) (int64, error)
	CountPending(ctx context.Context, draftID uint) (int64, error)
}

type feedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository instantiates a GORM-backed repository.
func NewFeedbackRepository(db *gorm.DB) FeedbackRepository {
	return &feedbackRepository{db: db}
}

// SaveRunResults writes the parsed scores and items of one run. A run that already has results is
// left as is, so re-running the parser never duplicates rows.
func (r *feedbackRepository) SaveRunResults(ctx context.Context, runID uint, overall *float64, scores []models.CategoryScore, items []models.FeedbackItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.CategoryScore{}).Where("model_run_id = ?", runID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		if overall != nil {
			if err := tx.Model(&models.ModelRun{}).Where("id = ?", runID).Update("overall_score", *overall).Error; err != nil {
				return err
			}
		}
		if len(scores) > 0 {
			for i := range scores {
				scores[i].ModelRunID = runID
			}
			if err := tx.Create(&scores).Error; err != nil {
				return err
			}
		}
		if len(items) > 0 {
			for i := range items {
				items[i].ModelRunID = runID
			}
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *feedbackRepository) ListScores(ctx context.Context, runIDs []uint) ([]models.CategoryScore, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	var scores []models.CategoryScore
	if err := r.db.WithContext(ctx).Where("model_run_id IN ?", runIDs).Order("model_run_id ASC, id ASC").Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *feedbackRepository) ListItems(ctx context.Context, runIDs []uint) ([]models.FeedbackItem, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	var items []models.FeedbackItem
	if err := r.db.WithContext(ctx).Where("model_run_id IN ?", runIDs).Order("model_run_id ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CreateAggregated inserts aggregated rows; rows that already exist for a (draft, category) pair are kept.
func (r *feedbackRepository) CreateAggregated(ctx context.Context, rows []models.AggregatedFeedback) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "draft_id"}, {Name: "rubric_category_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *feedbackRepository) ListAggregated(ctx context.Context, draftID uint) ([]models.AggregatedFeedback, error) {
	var rows []models.AggregatedFeedback
	err := r.db.WithContext(ctx).
		Preload("RubricCategory").
		Where("draft_id = ?", draftID).
		Order("rubric_category_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ApproveCategory approves one pending row, applying optional reviewer edits.
func (r *feedbackRepository) ApproveCategory(ctx context.Context, draftID, categoryID uint, approval Approval) (bool, error) {
	updates := map[string]interface{}{
		"status":      models.FeedbackStatusApproved,
		"approved_by": approval.ApproverID,
		"approved_at": approval.At,
		"updated_at":  approval.At,
	}
	if approval.EditedText != nil {
		updates["edited_text"] = *approval.EditedText
	}
	if approval.OverrideScore != nil {
		updates["override_score"] = *approval.OverrideScore
	}

	result := r.db.WithContext(ctx).Model(&models.AggregatedFeedback{}).
		Where("draft_id = ? AND rubric_category_id = ? AND status = ?", draftID, categoryID, models.FeedbackStatusPendingReview).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *feedbackRepository) ApprovePending(ctx context.Context, draftID uint, approval Approval) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.AggregatedFeedback{}).
		Where("draft_id = ? AND status = ?", draftID, models.FeedbackStatusPendingReview).
		Updates(map[string]interface{}{
			"status":      models.FeedbackStatusApproved,
			"approved_by": approval.ApproverID,
			"approved_at": approval.At,
			"updated_at":  approval.At,
		})
	return result.RowsAffected, result.Error
}

func (r *feedbackRepository) CountPending(ctx context.Context, draftID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AggregatedFeedback{}).
		Where("draft_id = ? AND status = ?", draftID, models.FeedbackStatusPendingReview).
		Count(&count).Error
	return count, err
}
