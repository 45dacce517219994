package models

import (
	"time"

	"gorm.io/datatypes"
)

// Assignment owns a rubric and the submissions graded against it.
type Assignment struct {
	ID          uint                           `gorm:"primaryKey" json:"id"`
	Name        string                         `gorm:"size:255;not null" json:"name"`
	TeacherID   uint                           `gorm:"not null;index" json:"teacher_id"`
	Rubric      datatypes.JSONSlice[Criterion] `json:"rubric"`
	DueDate     time.Time                      `gorm:"not null" json:"due_date"`
	CreatedAt   time.Time                      `json:"created_at"`
	UpdatedAt   time.Time                      `json:"updated_at"`
	Submissions []Submission                   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"submissions,omitempty"`
}

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return reference.After(a.DueDate)
}

// RubricCriteria returns the rubric as a plain Rubric value.
func (a Assignment) RubricCriteria() Rubric {
	return Rubric(a.Rubric)
}
