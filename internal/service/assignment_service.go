package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

var (
	// ErrAssignmentNotFound indicates the requested assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrInvalidPayload indicates a request passed struct validation but is semantically invalid.
	ErrInvalidPayload = errors.New("invalid payload")
)

// AssignmentService exposes assignment domain use cases.
type AssignmentService interface {
	List(ctx context.Context, actor ActivityActor, req dto.AssignmentListRequest) (dto.AssignmentListResponse, error)
	Get(ctx context.Context, id uint) (dto.AssignmentResponse, error)
	Create(ctx context.Context, actor ActivityActor, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error)
	Delete(ctx context.Context, id uint) error
}

type assignmentService struct {
	repo      repository.AssignmentRepository
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAssignmentService builds a new assignment service.
func NewAssignmentService(repo repository.AssignmentRepository, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	return &assignmentService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "assignment_service").Logger(),
		now:       time.Now,
	}
}

func (s *assignmentService) List(ctx context.Context, actor ActivityActor, req dto.AssignmentListRequest) (dto.AssignmentListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AssignmentListResponse{}, err
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	filter := repository.AssignmentFilter{
		Search:   req.Search,
		Sort:     req.Sort,
		Page:     page,
		PageSize: pageSize,
	}
	if actor.Role != "admin" {
		teacherID := actor.ID
		filter.TeacherID = &teacherID
	}

	assignments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.AssignmentListResponse{}, err
	}

	return dto.AssignmentListResponse{
		Items:      dto.NewAssignmentResponseSlice(assignments),
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}, nil
}

func (s *assignmentService) Get(ctx context.Context, id uint) (dto.AssignmentResponse, error) {
	assignment, err := s.repo.GetWithSubmissions(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrAssignmentNotFound
		}

		return dto.AssignmentResponse{}, err
	}

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Create(ctx context.Context, actor ActivityActor, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	dueDate, err := time.Parse(time.RFC3339, payload.DueDate)
	if err != nil {
		return dto.AssignmentResponse{}, fmt.Errorf("%w: invalid due date: %v", ErrInvalidPayload, err)
	}

	if !dueDate.After(s.now()) {
		return dto.AssignmentResponse{}, fmt.Errorf("%w: due date must be in the future", ErrInvalidPayload)
	}

	assignment := models.Assignment{
		Name:      payload.Name,
		TeacherID: actor.ID,
		DueDate:   dueDate,
		Rubric:    []models.Criterion(dto.RubricFromPayload(payload.Rubric)),
	}

	if err := s.repo.Create(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	s.logger.Info().Uint("assignment_id", assignment.ID).Uint("teacher_id", actor.ID).Msg("assignment created")

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return err
	}

	s.logger.Info().Uint("assignment_id", id).Msg("assignment deleted")
	return nil
}
