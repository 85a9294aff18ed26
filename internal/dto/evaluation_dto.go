package dto

import (
	"time"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// DraftSubmitRequest is the ingress payload of one submission. Content holds the already extracted
// text; file based types reference the stored original and, when available locally, its path.
type DraftSubmitRequest struct {
	AssignmentID   uint                   `json:"assignment_id" validate:"required,gt=0"`
	StudentID      uint                   `json:"student_id" validate:"required,gt=0"`
	SubmissionType string                 `json:"submission_type" validate:"required,max=32"`
	Content        string                 `json:"content" validate:"max=500000"`
	FileRef        string                 `json:"file_ref" validate:"omitempty,max=512"`
	FilePath       string                 `json:"file_path" validate:"omitempty,max=1024"`
	FileName       string                 `json:"file_name" validate:"omitempty,max=255"`
	FileSize       int64                  `json:"file_size" validate:"gte=0"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// DraftSubmitResponse acknowledges an accepted submission.
type DraftSubmitResponse struct {
	DraftID     uint      `json:"draft_id"`
	Version     int       `json:"version"`
	Status      string    `json:"status"`
	Batch       int       `json:"batch"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CategoryStatus reports the per-category state of a draft.
type CategoryStatus struct {
	CategoryID       uint   `json:"category_id"`
	Name             string `json:"name"`
	InsufficientData bool   `json:"insufficient_data"`
	FeedbackStatus   string `json:"feedback_status,omitempty"`
}

// RunSummary counts the runs of the latest batch by status.
type RunSummary struct {
	Batch    int `json:"batch"`
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Running  int `json:"running"`
	Complete int `json:"complete"`
	Error    int `json:"error"`
}

// DraftStatusResponse is the status view of a draft.
type DraftStatusResponse struct {
	DraftID       uint             `json:"draft_id"`
	AssignmentID  uint             `json:"assignment_id"`
	StudentID     uint             `json:"student_id"`
	Version       int              `json:"version"`
	Status        string           `json:"status"`
	WordCount     int              `json:"word_count"`
	OverallScore  *float64         `json:"overall_score"`
	ErrorSummary  string           `json:"error_summary,omitempty"`
	ContentErased bool             `json:"content_erased"`
	Runs          RunSummary       `json:"runs"`
	Categories    []CategoryStatus `json:"categories"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// AggregatedFeedbackResponse is one category of feedback as shown to students and reviewers.
type AggregatedFeedbackResponse struct {
	CategoryID    uint       `json:"category_id"`
	CategoryName  string     `json:"category_name"`
	Weight        float64    `json:"weight"`
	Score         float64    `json:"score"`
	ComputedScore float64    `json:"computed_score"`
	Overridden    bool       `json:"overridden"`
	SampleCount   int        `json:"sample_count"`
	Method        string     `json:"method"`
	Feedback      string     `json:"feedback"`
	Format        string     `json:"format"`
	Edited        bool       `json:"edited"`
	Strengths     []string   `json:"strengths"`
	Improvements  []string   `json:"improvements"`
	Status        string     `json:"status"`
	ApprovedBy    *uint      `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
}

// NewAggregatedFeedbackResponse maps an aggregated row; text and format come from the submission handler.
func NewAggregatedFeedbackResponse(row models.AggregatedFeedback, text, format string) AggregatedFeedbackResponse {
	strengths := []string(row.Strengths)
	if strengths == nil {
		strengths = []string{}
	}
	improvements := []string(row.Improvements)
	if improvements == nil {
		improvements = []string{}
	}

	return AggregatedFeedbackResponse{
		CategoryID:    row.RubricCategoryID,
		CategoryName:  row.RubricCategory.Name,
		Weight:        row.RubricCategory.Weight,
		Score:         row.EffectiveScore(),
		ComputedScore: row.AggregatedScore,
		Overridden:    row.OverrideScore != nil,
		SampleCount:   row.SampleCount,
		Method:        row.Method,
		Feedback:      text,
		Format:        format,
		Edited:        row.EditedText != nil,
		Strengths:     strengths,
		Improvements:  improvements,
		Status:        row.Status,
		ApprovedBy:    row.ApprovedBy,
		ApprovedAt:    row.ApprovedAt,
	}
}

// ApproveRequest is a reviewer approval. Without CategoryID every pending category is approved;
// edits and overrides require a category.
type ApproveRequest struct {
	CategoryID    *uint    `json:"category_id" validate:"omitempty,gt=0"`
	EditedText    *string  `json:"edited_text" validate:"omitempty,max=20000"`
	OverrideScore *float64 `json:"override_score" validate:"omitempty,gte=0,lte=100"`
}

// ApproveResponse reports the draft state after an approval.
type ApproveResponse struct {
	DraftID  uint   `json:"draft_id"`
	Approved int64  `json:"approved"`
	Pending  int64  `json:"pending"`
	Status   string `json:"status"`
	Released bool   `json:"released"`
}

// RetryResponse describes the batch created by a manual retry.
type RetryResponse struct {
	DraftID uint   `json:"draft_id"`
	Batch   int    `json:"batch"`
	Runs    int    `json:"runs"`
	Status  string `json:"status"`
}
