package models

import "time"

// TeacherGradingStat counts submissions graded on behalf of a teacher.
type TeacherGradingStat struct {
	TeacherID   uint      `gorm:"primaryKey;autoIncrement:false" json:"teacher_id"`
	GradedCount int64     `gorm:"not null;default:0" json:"graded_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
