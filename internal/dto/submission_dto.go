package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// SubmissionCreateRequest describes the multipart payload for submission upload.
type SubmissionCreateRequest struct {
	StudentName   string `form:"student_name" validate:"required,max=255"`
	StudentEmail  string `form:"student_email" validate:"omitempty,email,max=255"`
	IsHandwriting bool   `form:"is_handwriting"`
}

// SubmissionRenameRequest is used by teachers to correct a student's display name.
type SubmissionRenameRequest struct {
	StudentName string `json:"student_name" validate:"required,max=255"`
}

// SubmissionFilter describes query string filters for listing submissions.
type SubmissionFilter struct {
	Status *string `query:"status" validate:"omitempty,oneof=open submitted grading graded regrade error"`
}

// SubmissionResponse is the polling view of a submission.
type SubmissionResponse struct {
	ID            uint                     `json:"id"`
	AssignmentID  uint                     `json:"assignment_id"`
	StudentID     uint                     `json:"student_id"`
	StudentName   string                   `json:"student_name"`
	StudentEmail  string                   `json:"student_email"`
	DateSubmitted time.Time                `json:"date_submitted"`
	Status        string                   `json:"status"`
	Feedback      []models.CriterionResult `json:"feedback"`
	DocumentRef   string                   `json:"document_ref"`
	IsHandwriting bool                     `json:"is_handwriting"`
	AIScore       *float64                 `json:"ai_score"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	feedback := []models.CriterionResult(model.Feedback)
	if feedback == nil {
		feedback = []models.CriterionResult{}
	}

	return SubmissionResponse{
		ID:            model.ID,
		AssignmentID:  model.AssignmentID,
		StudentID:     model.StudentID,
		StudentName:   model.StudentName,
		StudentEmail:  model.StudentEmail,
		DateSubmitted: model.DateSubmitted,
		Status:        string(model.Status),
		Feedback:      feedback,
		DocumentRef:   model.DocumentRef,
		IsHandwriting: model.IsHandwriting,
		AIScore:       model.AIScore,
		UpdatedAt:     model.UpdatedAt,
	}
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(models []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(models))
	for _, submission := range models {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}
