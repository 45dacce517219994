package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	Status *models.SubmissionStatus
}

// SubmissionOutcome holds the fields written when a grading attempt settles.
type SubmissionOutcome struct {
	Status   models.SubmissionStatus
	Feedback []models.CriterionResult
	AIScore  *float64
}

// SubmissionRepository defines data operations for submissions. Every write is keyed by
// (assignment, submission) and never re-saves the parent assignment.
type SubmissionRepository interface {
	ListByAssignment(ctx context.Context, assignmentID uint, filter SubmissionFilter) ([]models.Submission, error)
	Get(ctx context.Context, assignmentID, id uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	BeginGrading(ctx context.Context, assignmentID uint) ([]models.Submission, error)
	TransitionStatus(ctx context.Context, assignmentID, id uint, from []models.SubmissionStatus, to models.SubmissionStatus) (bool, error)
	RecordOutcome(ctx context.Context, assignmentID, id uint, outcome SubmissionOutcome) (bool, error)
	ReleaseStale(ctx context.Context, assignmentID uint, cutoff time.Time, outcome SubmissionOutcome) (int64, error)
	UpdateStudentName(ctx context.Context, assignmentID, id uint, name string) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) keyed(db *gorm.DB, assignmentID, id uint) *gorm.DB {
	return db.Model(&models.Submission{}).Where("assignment_id = ? AND id = ?", assignmentID, id)
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID uint, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Where("assignment_id = ?", assignmentID)

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("id ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) Get(ctx context.Context, assignmentID, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

// BeginGrading flips every gradable submission of the assignment to grading inside one
// transaction and returns the rows it claimed. Rows claimed concurrently by another caller
// are skipped.
func (r *submissionRepository) BeginGrading(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	sources := models.SourcesFor(models.SubmissionStatusGrading)
	var claimed []models.Submission

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.Submission
		if err := tx.Where("assignment_id = ? AND status IN ?", assignmentID, sources).
			Order("id ASC").
			Find(&candidates).Error; err != nil {
			return err
		}

		claimed = make([]models.Submission, 0, len(candidates))
		for _, candidate := range candidates {
			result := r.keyed(tx, assignmentID, candidate.ID).
				Where("status IN ?", sources).
				Update("status", models.SubmissionStatusGrading)
			if result.Error != nil {
				return fmt.Errorf("claim submission %d: %w", candidate.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}
			candidate.Status = models.SubmissionStatusGrading
			claimed = append(claimed, candidate)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// TransitionStatus moves a single submission to status `to` only if it currently holds one of
// the `from` statuses. It reports whether the row was changed.
func (r *submissionRepository) TransitionStatus(ctx context.Context, assignmentID, id uint, from []models.SubmissionStatus, to models.SubmissionStatus) (bool, error) {
	for _, status := range from {
		if !models.CanTransition(status, to) {
			return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, status, to)
		}
	}

	result := r.keyed(r.db.WithContext(ctx), assignmentID, id).
		Where("status IN ?", from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// RecordOutcome settles an in-flight grading attempt. Only rows still in grading are written.
func (r *submissionRepository) RecordOutcome(ctx context.Context, assignmentID, id uint, outcome SubmissionOutcome) (bool, error) {
	if !models.CanTransition(models.SubmissionStatusGrading, outcome.Status) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, models.SubmissionStatusGrading, outcome.Status)
	}

	result := r.keyed(r.db.WithContext(ctx), assignmentID, id).
		Where("status = ?", models.SubmissionStatusGrading).
		Updates(map[string]any{
			"status":   outcome.Status,
			"feedback": datatypes.NewJSONSlice(outcome.Feedback),
			"ai_score": outcome.AIScore,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// ReleaseStale settles grading rows last touched before cutoff, which no live attempt can still
// own. assignmentID 0 covers every assignment.
func (r *submissionRepository) ReleaseStale(ctx context.Context, assignmentID uint, cutoff time.Time, outcome SubmissionOutcome) (int64, error) {
	if !models.CanTransition(models.SubmissionStatusGrading, outcome.Status) {
		return 0, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, models.SubmissionStatusGrading, outcome.Status)
	}

	query := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("status = ? AND updated_at < ?", models.SubmissionStatusGrading, cutoff)
	if assignmentID != 0 {
		query = query.Where("assignment_id = ?", assignmentID)
	}

	result := query.Updates(map[string]any{
		"status":   outcome.Status,
		"feedback": datatypes.NewJSONSlice(outcome.Feedback),
		"ai_score": outcome.AIScore,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *submissionRepository) UpdateStudentName(ctx context.Context, assignmentID, id uint, name string) error {
	result := r.keyed(r.db.WithContext(ctx), assignmentID, id).Update("student_name", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
