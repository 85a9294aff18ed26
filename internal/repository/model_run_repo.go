package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// RunResult is the terminal outcome of one model run.
type RunResult struct {
	Status          string
	RawResponse     string
	ErrorMessage    string
	ExecutionTimeMs int64
	CompletedAt     time.Time
}

// ModelRunRepository persists model runs. Runs are never deleted and become immutable once terminal.
type ModelRunRepository interface {
	CreateBatch(ctx context.Context, runs []models.ModelRun) error
	LatestBatch(ctx context.Context, draftID uint) (int, error)
	MarkRunning(ctx context.Context, id uint, at time.Time) (bool, error)
	Finish(ctx context.Context, id uint, result RunResult) (bool, error)
	ListBatch(ctx context.Context, draftID uint, batch int) ([]models.ModelRun, error)
	AbandonUnfinished(ctx context.Context, draftID uint, batch int, message string, at time.Time) (int64, error)
}

type modelRunRepository struct {
	db *gorm.DB
}

// NewModelRunRepository instantiates a GORM-backed repository.
func NewModelRunRepository(db *gorm.DB) ModelRunRepository {
	return &modelRunRepository{db: db}
}

func (r *modelRunRepository) CreateBatch(ctx context.Context, runs []models.ModelRun) error {
	if len(runs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(&runs).Error
}

func (r *modelRunRepository) LatestBatch(ctx context.Context, draftID uint) (int, error) {
	var batch int
	err := r.db.WithContext(ctx).Model(&models.ModelRun{}).
		Select("COALESCE(MAX(batch), 0)").
		Where("draft_id = ?", draftID).
		Scan(&batch).Error
	if err != nil {
		return 0, err
	}
	return batch, nil
}

func (r *modelRunRepository) MarkRunning(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.ModelRun{}).
		Where("id = ? AND status = ?", id, models.ModelRunStatusPending).
		Updates(map[string]interface{}{"status": models.ModelRunStatusRunning, "started_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Finish records a terminal outcome. Runs that are already terminal are left untouched.
func (r *modelRunRepository) Finish(ctx context.Context, id uint, outcome RunResult) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.ModelRun{}).
		Where("id = ? AND status IN ?", id, []string{models.ModelRunStatusPending, models.ModelRunStatusRunning}).
		Updates(map[string]interface{}{
			"status":            outcome.Status,
			"raw_response":      outcome.RawResponse,
			"error_message":     outcome.ErrorMessage,
			"execution_time_ms": outcome.ExecutionTimeMs,
			"completed_at":      outcome.CompletedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *modelRunRepository) ListBatch(ctx context.Context, draftID uint, batch int) ([]models.ModelRun, error) {
	var runs []models.ModelRun
	err := r.db.WithContext(ctx).
		Where("draft_id = ? AND batch = ?", draftID, batch).
		Order("run_number ASC, id ASC").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// AbandonUnfinished marks every non-terminal run of a batch as error.
func (r *modelRunRepository) AbandonUnfinished(ctx context.Context, draftID uint, batch int, message string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.ModelRun{}).
		Where("draft_id = ? AND batch = ? AND status IN ?", draftID, batch, []string{models.ModelRunStatusPending, models.ModelRunStatusRunning}).
		Updates(map[string]interface{}{
			"status":        models.ModelRunStatusError,
			"error_message": message,
			"completed_at":  at,
		})
	return result.RowsAffected, result.Error
}
