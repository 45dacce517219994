package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission represents a document uploaded by a student for an assignment.
type Submission struct {
	ID            uint                                 `gorm:"primaryKey" json:"id"`
	AssignmentID  uint                                 `gorm:"not null;index" json:"assignment_id"`
	StudentID     uint                                 `gorm:"not null;index" json:"student_id"`
	StudentName   string                               `gorm:"size:255" json:"student_name"`
	StudentEmail  string                               `gorm:"size:255" json:"student_email"`
	DateSubmitted time.Time                            `json:"date_submitted"`
	Status        SubmissionStatus                     `gorm:"size:32;not null;index" json:"status"`
	Feedback      datatypes.JSONSlice[CriterionResult] `json:"feedback"`
	DocumentRef   string                               `gorm:"size:1024" json:"document_ref"`
	IsHandwriting bool                                 `gorm:"not null;default:false" json:"is_handwriting"`
	AIScore       *float64                             `json:"ai_score"`
	CreatedAt     time.Time                            `json:"created_at"`
	UpdatedAt     time.Time                            `json:"updated_at"`
}

// IsGraded reports whether the submission has final feedback.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}
