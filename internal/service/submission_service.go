package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// ErrSubmissionNotFound indicates a submission could not be found.
var ErrSubmissionNotFound = errors.New("submission not found")

// FileUploader abstracts uploading binary data and returning a URL.
type FileUploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

var (
	printedUploadTypes     = []string{"application/pdf", "text/plain"}
	handwrittenUploadTypes = []string{"application/pdf", "image/png", "image/jpeg", "image/webp", "image/heic", "image/heif"}
)

// SubmissionService orchestrates submission intake, polling and teacher edits.
type SubmissionService interface {
	List(ctx context.Context, assignmentID uint, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error)
	Create(ctx context.Context, assignmentID uint, actor ActivityActor, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error)
	MarkForRegrade(ctx context.Context, assignmentID, submissionID uint) (dto.SubmissionResponse, error)
	Rename(ctx context.Context, assignmentID, submissionID uint, payload dto.SubmissionRenameRequest) (dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	validator   *validator.Validate
	uploader    FileUploader
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(subRepo repository.SubmissionRepository, assignmentRepo repository.AssignmentRepository, validate *validator.Validate, uploader FileUploader, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		assignments: assignmentRepo,
		validator:   validate,
		uploader:    uploader,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
	}
}

func (s *submissionService) List(ctx context.Context, assignmentID uint, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	if _, err := s.loadAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}

	repoFilter := repository.SubmissionFilter{}
	if filter.Status != nil {
		status := models.SubmissionStatus(strings.ToLower(*filter.Status))
		repoFilter.Status = &status
	}

	submissions, err := s.submissions.ListByAssignment(ctx, assignmentID, repoFilter)
	if err != nil {
		return nil, err
	}

	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) Create(ctx context.Context, assignmentID uint, actor ActivityActor, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	if file == nil {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: submission file is required", ErrInvalidPayload)
	}

	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	if assignment.IsPastDue(s.now()) {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: assignment is past due", ErrInvalidPayload)
	}

	allowed := printedUploadTypes
	if payload.IsHandwriting {
		allowed = handwrittenUploadTypes
	}
	detected, err := validateFileType(file, allowed)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	reader, err := file.Open()
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	name := fmt.Sprintf("assignment-%d-student-%d-%d%s", assignmentID, actor.ID, s.now().UnixNano(), detected.Extension())
	uploadURL, err := s.uploader.Upload(ctx, name, reader)
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("failed to upload file: %w", err)
	}

	submission := models.Submission{
		AssignmentID:  assignmentID,
		StudentID:     actor.ID,
		StudentName:   strings.TrimSpace(s.sanitizer.Sanitize(payload.StudentName)),
		StudentEmail:  strings.TrimSpace(payload.StudentEmail),
		DateSubmitted: s.now().UTC(),
		Status:        models.SubmissionStatusSubmitted,
		DocumentRef:   uploadURL,
		IsHandwriting: payload.IsHandwriting,
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("assignment_id", assignmentID).Msg("submission created")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) MarkForRegrade(ctx context.Context, assignmentID, submissionID uint) (dto.SubmissionResponse, error) {
	submission, err := s.load(ctx, assignmentID, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	applied, err := s.submissions.TransitionStatus(ctx, assignmentID, submissionID,
		[]models.SubmissionStatus{models.SubmissionStatusGraded}, models.SubmissionStatusRegrade)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !applied {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: submission is %s", models.ErrInvalidTransition, submission.Status)
	}

	updated, err := s.load(ctx, assignmentID, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submissionID).Uint("assignment_id", assignmentID).Msg("submission marked for regrade")

	return dto.NewSubmissionResponse(updated), nil
}

func (s *submissionService) Rename(ctx context.Context, assignmentID, submissionID uint, payload dto.SubmissionRenameRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	name := strings.TrimSpace(s.sanitizer.Sanitize(payload.StudentName))
	if name == "" {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: student name empty after sanitization", ErrInvalidPayload)
	}

	if err := s.submissions.UpdateStudentName(ctx, assignmentID, submissionID, name); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	updated, err := s.load(ctx, assignmentID, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(updated), nil
}

func (s *submissionService) load(ctx context.Context, assignmentID, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.Get(ctx, assignmentID, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) loadAssignment(ctx context.Context, id uint) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}
	return assignment, nil
}

// validateFileType sniffs the upload and returns the allowed type it conforms to. Subtypes are
// accepted through their parents, e.g. text/csv as text/plain.
func validateFileType(file *multipart.FileHeader, allowed []string) (*mimetype.MIME, error) {
	reader, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	detected, err := mimetype.DetectReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	for m := detected; m != nil; m = m.Parent() {
		for _, a := range allowed {
			if m.Is(a) {
				return m, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: unsupported file type %s", ErrInvalidPayload, detected.String())
}
