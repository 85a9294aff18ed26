package models

import (
	"time"

	"gorm.io/datatypes"
)

// Draft lifecycle states.
const (
	DraftStatusSubmitted     = "submitted"
	DraftStatusProcessing    = "processing"
	DraftStatusFeedbackReady = "feedback_ready"
	DraftStatusUnderReview   = "under_review"
	DraftStatusReleased      = "released"
	DraftStatusError         = "error"
)

// ErasedContentPlaceholder replaces draft content once feedback has been released.
const ErasedContentPlaceholder = "[content erased after release]"

// Draft is one submitted attempt of a student for an assignment.
type Draft struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	AssignmentID   uint              `gorm:"not null;uniqueIndex:idx_draft_version" json:"assignment_id"`
	StudentID      uint              `gorm:"not null;uniqueIndex:idx_draft_version" json:"student_id"`
	Version        int               `gorm:"not null;uniqueIndex:idx_draft_version" json:"version"`
	SubmissionType string            `gorm:"size:32;not null" json:"submission_type"`
	Content        string            `gorm:"type:text" json:"content"`
	FileRef        string            `gorm:"size:512" json:"file_ref"`
	WordCount      int               `gorm:"not null;default:0" json:"word_count"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	Status         string            `gorm:"size:32;not null;index" json:"status"`
	OverallScore   *float64          `json:"overall_score"`
	ErrorSummary   string            `gorm:"type:text" json:"error_summary"`
	SubmittedAt    time.Time         `gorm:"not null" json:"submitted_at"`
	ErasedAt       *time.Time        `json:"erased_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Assignment     Assignment        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Runs           []ModelRun        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"runs,omitempty"`
}

// IsErased reports whether the privacy eraser already cleared the content.
func (d Draft) IsErased() bool {
	return d.ErasedAt != nil
}
