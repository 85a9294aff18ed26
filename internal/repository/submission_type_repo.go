package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// SubmissionTypeRepository reads submission type configuration.
type SubmissionTypeRepository interface {
	ListActive(ctx context.Context) ([]models.SubmissionTypeConfig, error)
	Upsert(ctx context.Context, config *models.SubmissionTypeConfig) error
}

type submissionTypeRepository struct {
	db *gorm.DB
}

// NewSubmissionTypeRepository instantiates a GORM-backed repository.
func NewSubmissionTypeRepository(db *gorm.DB) SubmissionTypeRepository {
	return &submissionTypeRepository{db: db}
}

func (r *submissionTypeRepository) ListActive(ctx context.Context) ([]models.SubmissionTypeConfig, error) {
	var configs []models.SubmissionTypeConfig
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("code ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// Upsert creates or replaces a configuration by code.
func (r *submissionTypeRepository) Upsert(ctx context.Context, config *models.SubmissionTypeConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "input_kind", "allowed_extensions", "max_size_bytes", "min_words", "max_words", "active", "config", "updated_at"}),
	}).Create(config).Error
}
