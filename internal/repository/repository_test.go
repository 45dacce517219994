package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Assignment{}, &models.Submission{}, &models.TeacherGradingStat{}))
	return db
}

func seedAssignment(t *testing.T, db *gorm.DB, statuses ...models.SubmissionStatus) (models.Assignment, []models.Submission) {
	t.Helper()
	assignment := models.Assignment{
		Name:      "Essay",
		TeacherID: 7,
		Rubric: []models.Criterion{
			{Name: "Grammar", Values: []models.CriterionValue{{Point: 5, Description: "Flawless"}, {Point: 0, Description: "Unreadable"}}},
		},
	}
	require.NoError(t, db.Create(&assignment).Error)

	submissions := make([]models.Submission, 0, len(statuses))
	for i, status := range statuses {
		submission := models.Submission{
			AssignmentID: assignment.ID,
			StudentID:    uint(i + 1),
			StudentName:  fmt.Sprintf("Student %d", i+1),
			Status:       status,
			DocumentRef:  fmt.Sprintf("https://files.example.com/%d.pdf", i+1),
		}
		require.NoError(t, db.Create(&submission).Error)
		submissions = append(submissions, submission)
	}

	return assignment, submissions
}
