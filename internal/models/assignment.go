package models

import (
	"strings"
	"time"
)

// Aggregation methods supported by the evaluation engine.
const (
	AggregationMean         = "mean"
	AggregationWeightedMean = "weighted_mean"
	AggregationMedian       = "median"
	AggregationTrimmedMean  = "trimmed_mean"
)

// Assignment is the read-only assignment definition the evaluation core grades against.
type Assignment struct {
	ID             uint                         `gorm:"primaryKey" json:"id"`
	Title          string                       `gorm:"size:255;not null" json:"title"`
	Description    string                       `gorm:"type:text" json:"description"`
	SubmissionType string                       `gorm:"size:32;not null" json:"submission_type"`
	MaxDrafts      int                          `gorm:"not null;default:1" json:"max_drafts"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
	Rubric         []RubricCategory             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"rubric"`
	Settings       AssignmentEvaluationSettings `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"settings"`
}

// RubricCategory is a weighted dimension of evaluation.
type RubricCategory struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	AssignmentID uint    `gorm:"not null;index" json:"assignment_id"`
	Name         string  `gorm:"size:128;not null" json:"name"`
	Description  string  `gorm:"type:text" json:"description"`
	Weight       float64 `gorm:"not null;default:0" json:"weight"`
	Position     int     `gorm:"default:0" json:"position"`
}

// AssignmentEvaluationSettings configures how drafts of an assignment are graded.
type AssignmentEvaluationSettings struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	AssignmentID      uint   `gorm:"not null;uniqueIndex" json:"assignment_id"`
	Models            string `gorm:"size:512;not null" json:"models"`
	NumRuns           int    `gorm:"not null;default:3" json:"num_runs"`
	AggregationMethod string `gorm:"size:32;not null;default:mean" json:"aggregation_method"`
	RequireReview     bool   `gorm:"not null" json:"require_review"`
}

// ModelList returns the configured model identifiers in declaration order.
func (s AssignmentEvaluationSettings) ModelList() []string {
	parts := strings.Split(s.Models, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ModelForRun picks the model for a 1-based run number, cycling through the configured list.
func (s AssignmentEvaluationSettings) ModelForRun(runNumber int) string {
	models := s.ModelList()
	if len(models) == 0 || runNumber <= 0 {
		return ""
	}
	return models[(runNumber-1)%len(models)]
}

// TotalWeight sums the weights of a rubric.
func TotalWeight(rubric []RubricCategory) float64 {
	var total float64
	for _, category := range rubric {
		total += category.Weight
	}
	return total
}
