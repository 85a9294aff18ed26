package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// AssignmentRepository reads assignment definitions together with their rubric and settings.
type AssignmentRepository interface {
	GetWithRubric(ctx context.Context, id uint) (models.Assignment, error)
	Create(ctx context.Context, assignment *models.Assignment) error
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository instantiates a GORM-backed repository.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) GetWithRubric(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	err := r.db.WithContext(ctx).
		Preload("Rubric", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Settings").
		First(&assignment, id).Error
	if err != nil {
		return models.Assignment{}, err
	}

	return assignment, nil
}

// Create stores an assignment with its rubric and settings. Rubric authoring lives outside the
// evaluation core; this exists for seeding and tests.
func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}
