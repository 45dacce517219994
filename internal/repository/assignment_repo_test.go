package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func TestAssignmentRepositoryGetWithSubmissionsAndRubric(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssignmentRepository(db)
	assignment, _ := seedAssignment(t, db, models.SubmissionStatusSubmitted, models.SubmissionStatusGraded)

	loaded, err := repo.GetWithSubmissions(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Submissions, 2)
	require.Equal(t, "Grammar", loaded.RubricCriteria()[0].Name)
	require.Equal(t, 5.0, loaded.RubricCriteria()[0].MaxPoint())

	rubric := models.Rubric{
		{Name: "Structure", Values: []models.CriterionValue{{Point: 10, Description: "Clear"}, {Point: 2, Description: "Confusing"}}},
	}
	require.NoError(t, repo.UpdateRubric(context.Background(), assignment.ID, rubric))

	updated, err := repo.GetByID(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Equal(t, rubric, updated.RubricCriteria())

	require.ErrorIs(t, repo.UpdateRubric(context.Background(), 4242, rubric), gorm.ErrRecordNotFound)
}

func TestAssignmentRepositoryListFiltersByTeacher(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssignmentRepository(db)

	now := time.Now()
	require.NoError(t, db.Create(&models.Assignment{Name: "Lab Report", TeacherID: 1, DueDate: now.Add(48 * time.Hour)}).Error)
	require.NoError(t, db.Create(&models.Assignment{Name: "Persuasive Essay", TeacherID: 1, DueDate: now.Add(24 * time.Hour)}).Error)
	require.NoError(t, db.Create(&models.Assignment{Name: "Essay Draft", TeacherID: 2, DueDate: now}).Error)

	teacher := uint(1)
	items, total, err := repo.List(context.Background(), AssignmentFilter{TeacherID: &teacher, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, "Persuasive Essay", items[0].Name, "earliest due date first")

	items, total, err = repo.List(context.Background(), AssignmentFilter{Search: "essay", Sort: "name"})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, "Essay Draft", items[0].Name)
}

func TestAssignmentRepositoryDeleteCascadesSubmissions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssignmentRepository(db)
	assignment, _ := seedAssignment(t, db, models.SubmissionStatusSubmitted, models.SubmissionStatusError)

	require.NoError(t, repo.Delete(context.Background(), assignment.ID))

	var remaining int64
	require.NoError(t, db.Model(&models.Submission{}).Where("assignment_id = ?", assignment.ID).Count(&remaining).Error)
	require.Zero(t, remaining)

	require.ErrorIs(t, repo.Delete(context.Background(), assignment.ID), gorm.ErrRecordNotFound)
}
