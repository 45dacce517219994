package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/grading"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/extract"
)

// RubricService manages assignment rubrics, including conversion from uploaded rubric documents.
type RubricService interface {
	Set(ctx context.Context, assignmentID uint, payload dto.RubricUpdateRequest) (dto.AssignmentResponse, error)
	Import(ctx context.Context, assignmentID uint, payload dto.RubricImportRequest) (dto.AssignmentResponse, error)
	ImportFile(ctx context.Context, assignmentID uint, file *multipart.FileHeader) (dto.AssignmentResponse, error)
}

// RubricConfig restricts where rubric documents may be fetched from.
type RubricConfig struct {
	// AllowedHosts lists the hostnames a document_ref may point at. Only http and https are accepted.
	AllowedHosts []string
}

type rubricService struct {
	assignments  repository.AssignmentRepository
	extractor    TextExtractor
	model        ai.ChatModel
	uploader     FileUploader
	allowedHosts []string
	validator    *validator.Validate
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewRubricService constructs the rubric service. Uploaded rubric files are stored through uploader
// and read back from the reference it returns.
func NewRubricService(assignments repository.AssignmentRepository, extractor TextExtractor, model ai.ChatModel, uploader FileUploader, validate *validator.Validate, cfg RubricConfig, logger zerolog.Logger) RubricService {
	hosts := make([]string, 0, len(cfg.AllowedHosts))
	for _, host := range cfg.AllowedHosts {
		hosts = append(hosts, strings.ToLower(host))
	}
	return &rubricService{
		assignments:  assignments,
		extractor:    extractor,
		model:        model,
		uploader:     uploader,
		allowedHosts: hosts,
		validator:    validate,
		now:          time.Now,
		logger:       logger.With().Str("component", "rubric_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/rubric"),
	}
}

func (s *rubricService) Set(ctx context.Context, assignmentID uint, payload dto.RubricUpdateRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	rubric := dto.RubricFromPayload(payload.Criteria)
	if err := grading.ValidateRubric(rubric); err != nil {
		return dto.AssignmentResponse{}, err
	}

	return s.store(ctx, assignmentID, rubric)
}

func (s *rubricService) Import(ctx context.Context, assignmentID uint, payload dto.RubricImportRequest) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "rubric.import", trace.WithAttributes(
		attribute.Int64("rubric.assignment_id", int64(assignmentID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}
	if err := s.checkRemoteRef(payload.DocumentRef); err != nil {
		return dto.AssignmentResponse{}, err
	}

	if err := s.ensureAssignment(ctx, assignmentID); err != nil {
		return dto.AssignmentResponse{}, err
	}

	return s.convert(ctx, span, assignmentID, payload.DocumentRef)
}

// ImportFile stores an uploaded rubric document and converts it like Import. The stored reference
// comes from the uploader, so it is trusted even when it points at local storage.
func (s *rubricService) ImportFile(ctx context.Context, assignmentID uint, file *multipart.FileHeader) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "rubric.import_file", trace.WithAttributes(
		attribute.Int64("rubric.assignment_id", int64(assignmentID)),
	))
	defer span.End()

	if file == nil {
		return dto.AssignmentResponse{}, fmt.Errorf("%w: file is required", ErrInvalidPayload)
	}
	if err := s.ensureAssignment(ctx, assignmentID); err != nil {
		return dto.AssignmentResponse{}, err
	}

	detected, err := validateFileType(file, printedUploadTypes)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	reader, err := file.Open()
	if err != nil {
		return dto.AssignmentResponse{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	name := fmt.Sprintf("assignment-%d-rubric-%d%s", assignmentID, s.now().UnixNano(), detected.Extension())
	ref, err := s.uploader.Upload(ctx, name, reader)
	if err != nil {
		return dto.AssignmentResponse{}, fmt.Errorf("failed to upload file: %w", err)
	}

	return s.convert(ctx, span, assignmentID, ref)
}

// checkRemoteRef accepts only http(s) references on an allowed host, keeping imports away from
// local files and internal addresses.
func (s *rubricService) checkRemoteRef(ref string) error {
	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("%w: invalid document_ref", ErrInvalidPayload)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: document_ref must be an http or https url", ErrInvalidPayload)
	}
	if !slices.Contains(s.allowedHosts, strings.ToLower(parsed.Hostname())) {
		return fmt.Errorf("%w: document_ref host %q is not allowed", ErrInvalidPayload, parsed.Hostname())
	}
	return nil
}

func (s *rubricService) ensureAssignment(ctx context.Context, assignmentID uint) error {
	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return err
	}
	return nil
}

func (s *rubricService) convert(ctx context.Context, span trace.Span, assignmentID uint, ref string) (dto.AssignmentResponse, error) {
	text, err := s.extractor.Extract(ctx, ref, extract.ModePrinted)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction_failed")
		return dto.AssignmentResponse{}, err
	}

	answer, err := s.model.Complete(ctx, []ai.Message{ai.UserMessage(grading.BuildRubricPrompt(text))})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model_failed")
		return dto.AssignmentResponse{}, err
	}

	rubric, err := grading.DecodeRubricFromModelOutput(answer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rubric_parse_failed")
		s.logger.Warn().Err(err).Uint("assignment_id", assignmentID).Msg("model returned an unusable rubric")
		return dto.AssignmentResponse{}, err
	}

	span.SetAttributes(attribute.Int("rubric.criteria", len(rubric)))
	return s.store(ctx, assignmentID, rubric)
}

func (s *rubricService) store(ctx context.Context, assignmentID uint, rubric models.Rubric) (dto.AssignmentResponse, error) {
	if err := s.assignments.UpdateRubric(ctx, assignmentID, rubric); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrAssignmentNotFound
		}
		return dto.AssignmentResponse{}, err
	}

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	s.logger.Info().Uint("assignment_id", assignmentID).Int("criteria", len(rubric)).Msg("rubric updated")
	return dto.NewAssignmentResponse(assignment), nil
}
