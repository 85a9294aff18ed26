package models

import "time"

// ModelRun states.
const (
	ModelRunStatusPending  = "pending"
	ModelRunStatusRunning  = "running"
	ModelRunStatusComplete = "complete"
	ModelRunStatusError    = "error"
)

// ModelRun is one attempt of one model to grade a draft. Rows are kept as an audit trail.
type ModelRun struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	DraftID         uint            `gorm:"not null;index" json:"draft_id"`
	Batch           int             `gorm:"not null;default:1" json:"batch"`
	RunNumber       int             `gorm:"not null" json:"run_number"`
	RunKey          string          `gorm:"size:64;not null;uniqueIndex" json:"run_key"`
	ModelID         string          `gorm:"size:128;not null" json:"model_id"`
	Status          string          `gorm:"size:32;not null" json:"status"`
	RawResponse     string          `gorm:"type:text" json:"raw_response"`
	OverallScore    *float64        `json:"overall_score"`
	ExecutionTimeMs int64           `gorm:"default:0" json:"execution_time_ms"`
	ErrorMessage    string          `gorm:"type:text" json:"error_message"`
	StartedAt       *time.Time      `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
	CreatedAt       time.Time       `json:"created_at"`
	Scores          []CategoryScore `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"scores,omitempty"`
	FeedbackItems   []FeedbackItem  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"feedback_items,omitempty"`
}

// IsTerminal reports whether the run reached complete or error.
func (r ModelRun) IsTerminal() bool {
	return r.Status == ModelRunStatusComplete || r.Status == ModelRunStatusError
}
