package models

import (
	"time"

	"gorm.io/datatypes"
)

// Feedback item kinds.
const (
	FeedbackKindStrength    = "strength"
	FeedbackKindImprovement = "improvement"
)

// Aggregated feedback review states.
const (
	FeedbackStatusPendingReview = "pending_review"
	FeedbackStatusApproved      = "approved"
)

// CategoryScore is the score one model run assigned to one rubric category.
type CategoryScore struct {
	ID               uint    `gorm:"primaryKey" json:"id"`
	ModelRunID       uint    `gorm:"not null;index" json:"model_run_id"`
	RubricCategoryID uint    `gorm:"not null;index" json:"rubric_category_id"`
	Score            float64 `gorm:"not null" json:"score"`
	Confidence       float64 `gorm:"not null" json:"confidence"`
}

// FeedbackItem is a strength or improvement statement produced by a model run.
type FeedbackItem struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ModelRunID       uint      `gorm:"not null;index" json:"model_run_id"`
	RubricCategoryID uint      `gorm:"not null;index" json:"rubric_category_id"`
	Kind             string    `gorm:"size:16;not null" json:"kind"`
	Text             string    `gorm:"type:text;not null" json:"text"`
	CreatedAt        time.Time `json:"created_at"`
}

// AggregatedFeedback is the combined result for one draft and one rubric category.
type AggregatedFeedback struct {
	ID               uint                        `gorm:"primaryKey" json:"id"`
	DraftID          uint                        `gorm:"not null;uniqueIndex:idx_aggregated_draft_category" json:"draft_id"`
	RubricCategoryID uint                        `gorm:"not null;uniqueIndex:idx_aggregated_draft_category" json:"rubric_category_id"`
	AggregatedScore  float64                     `gorm:"not null" json:"aggregated_score"`
	SampleCount      int                         `gorm:"not null" json:"sample_count"`
	Method           string                      `gorm:"size:32;not null" json:"method"`
	FeedbackText     string                      `gorm:"type:text" json:"feedback_text"`
	Strengths        datatypes.JSONSlice[string] `json:"strengths"`
	Improvements     datatypes.JSONSlice[string] `json:"improvements"`
	EditedText       *string                     `gorm:"type:text" json:"edited_text"`
	OverrideScore    *float64                    `json:"override_score"`
	Status           string                      `gorm:"size:32;not null" json:"status"`
	ApprovedBy       *uint                       `json:"approved_by"`
	ApprovedAt       *time.Time                  `json:"approved_at"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
	RubricCategory   RubricCategory              `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// EffectiveScore returns the instructor override when present, otherwise the computed score.
func (f AggregatedFeedback) EffectiveScore() float64 {
	if f.OverrideScore != nil {
		return *f.OverrideScore
	}
	return f.AggregatedScore
}

// EffectiveText returns the reviewer-edited text when present.
func (f AggregatedFeedback) EffectiveText() string {
	if f.EditedText != nil {
		return *f.EditedText
	}
	return f.FeedbackText
}

// IsApproved reports whether the row was approved.
func (f AggregatedFeedback) IsApproved() bool {
	return f.Status == FeedbackStatusApproved
}
