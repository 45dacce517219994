package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// PreviewGradeRequest carries raw text to grade without persisting anything.
type PreviewGradeRequest struct {
	Text string `json:"text" validate:"required,max=200000"`
}

// PreviewGradeResponse is the unsaved grading result for a preview.
type PreviewGradeResponse struct {
	Feedback []models.CriterionResult `json:"feedback"`
	AIScore  *float64                 `json:"ai_score"`
}

// GradingAcceptedResponse acknowledges a batch grading request.
type GradingAcceptedResponse struct {
	JobID        string `json:"job_id"`
	AssignmentID uint   `json:"assignment_id"`
	Targets      int    `json:"targets"`
}

// GradingJobResponse reports the progress of a batch grading job.
type GradingJobResponse struct {
	JobID        string     `json:"job_id"`
	AssignmentID uint       `json:"assignment_id"`
	Targets      int        `json:"targets"`
	Graded       int        `json:"graded"`
	Failed       int        `json:"failed"`
	Pending      int        `json:"pending"`
	Done         bool       `json:"done"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// TeacherGradingStatsResponse exposes the per-teacher graded counter.
type TeacherGradingStatsResponse struct {
	TeacherID   uint  `json:"teacher_id"`
	GradedCount int64 `json:"graded_count"`
}
