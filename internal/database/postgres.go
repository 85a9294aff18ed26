package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// ConnectPostgres establishes a connection to the PostgreSQL database using the provided DSN.
// maxOpen caps the pool; model runs finish concurrently, so it should exceed the worker count.
func ConnectPostgres(dsn string, maxOpen int) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen / 2)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates or updates the evaluation schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.SubmissionTypeConfig{},
		&models.Assignment{},
		&models.RubricCategory{},
		&models.AssignmentEvaluationSettings{},
		&models.Draft{},
		&models.ModelRun{},
		&models.CategoryScore{},
		&models.FeedbackItem{},
		&models.AggregatedFeedback{},
	)
}
