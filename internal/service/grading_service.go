package service

import (
	"context"
	"errors"
	"fmt"
	"math"
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
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/extract"
)

var (
	// ErrEmptyFeedback indicates the model answered without any parseable criterion block.
	ErrEmptyFeedback = errors.New("grading response contained no criteria")
	// ErrRubricMissing indicates an assignment cannot be graded because it has no rubric.
	ErrRubricMissing = errors.New("assignment has no rubric")
)

const errorCriterionName = "Error"

// TextExtractor turns a stored document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, documentRef string, mode extract.Mode) (string, error)
}

// GradingTask identifies one claimed submission to run through the pipeline.
type GradingTask struct {
	Assignment models.Assignment
	Submission models.Submission
	ActorID    uint
	JobID      string
	Trigger    string
}

// Settlement is the final state a grading attempt recorded.
type Settlement struct {
	Status   models.SubmissionStatus
	Recorded bool
}

// GradingPipeline runs extraction, prompting, model invocation and parsing for a submission that
// has already been moved to grading, then records the outcome.
type GradingPipeline struct {
	submissions repository.SubmissionRepository
	counter     repository.GradingCounter
	extractor   TextExtractor
	model       ai.ChatModel
	events      GradingEventPublisher
	taskTimeout time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingPipeline wires the grading pipeline. events may be nil.
func NewGradingPipeline(submissions repository.SubmissionRepository, counter repository.GradingCounter, extractor TextExtractor, model ai.ChatModel, events GradingEventPublisher, taskTimeout time.Duration, logger zerolog.Logger) *GradingPipeline {
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}
	return &GradingPipeline{
		submissions: submissions,
		counter:     counter,
		extractor:   extractor,
		model:       model,
		events:      events,
		taskTimeout: taskTimeout,
		logger:      logger.With().Str("component", "grading_pipeline").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/grading"),
		now:         time.Now,
	}
}

// Run grades the task's submission and persists the outcome. Failures are captured as the
// submission's error status; Run never returns an error.
func (p *GradingPipeline) Run(parent context.Context, task GradingTask) Settlement {
	ctx, span := p.tracer.Start(parent, "grading.submission", trace.WithAttributes(
		attribute.Int64("grading.assignment_id", int64(task.Assignment.ID)),
		attribute.Int64("grading.submission_id", int64(task.Submission.ID)),
		attribute.Bool("grading.handwriting", task.Submission.IsHandwriting),
		attribute.String("grading.job_id", task.JobID),
	))
	defer span.End()

	logger := p.logger.With().
		Uint("assignment_id", task.Assignment.ID).
		Uint("submission_id", task.Submission.ID).
		Str("job_id", task.JobID).
		Logger()

	observability.GradingInFlight().Inc()
	defer observability.GradingInFlight().Dec()
	started := p.now()

	taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	feedback, err := p.safeGrade(taskCtx, task)
	cancel()

	var outcome repository.SubmissionOutcome
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading_failed")
		logger.Warn().Err(err).Msg("grading attempt failed")
		outcome = repository.SubmissionOutcome{
			Status:   models.SubmissionStatusError,
			Feedback: []models.CriterionResult{errorResult(err)},
		}
	} else {
		outcome = repository.SubmissionOutcome{
			Status:   models.SubmissionStatusGraded,
			Feedback: feedback,
			AIScore:  AIScore(feedback),
		}
	}

	// Outcomes are written even when the task deadline has passed.
	persistCtx := context.WithoutCancel(ctx)
	settlement := Settlement{Status: outcome.Status}

	applied, err := p.submissions.RecordOutcome(persistCtx, task.Assignment.ID, task.Submission.ID, outcome)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "outcome_persist_failed")
		logger.Error().Err(err).Str("status", string(outcome.Status)).Msg("failed to record grading outcome")
		settlement.Status = models.SubmissionStatusError
	case !applied:
		logger.Warn().Str("status", string(outcome.Status)).Msg("submission left grading before the outcome was recorded")
		settlement.Status = models.SubmissionStatusError
	default:
		settlement.Recorded = true
	}

	if settlement.Recorded && outcome.Status == models.SubmissionStatusGraded {
		if _, err := p.counter.Increment(persistCtx, task.ActorID); err != nil {
			logger.Error().Err(err).Uint("teacher_id", task.ActorID).Msg("failed to increment grading counter")
		}
	}

	elapsed := p.now().Sub(started)
	observability.GradingOutcomes().WithLabelValues(string(settlement.Status), triggerLabel(task.Trigger)).Inc()
	observability.GradingTaskDuration().WithLabelValues(string(settlement.Status)).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.String("grading.status", string(settlement.Status)))

	if settlement.Recorded {
		p.publish(persistCtx, task, outcome, logger)
		logger.Info().Str("status", string(outcome.Status)).Dur("elapsed", elapsed).Msg("grading attempt settled")
	}

	return settlement
}

// Evaluate builds the prompt, invokes the model and parses its answer.
func (p *GradingPipeline) Evaluate(ctx context.Context, rubric models.Rubric, text string, handwriting bool) ([]models.CriterionResult, error) {
	prompt := grading.BuildGradingPrompt(rubric, text, handwriting)

	answer, err := p.model.Complete(ctx, []ai.Message{ai.UserMessage(prompt)})
	if err != nil {
		if errors.Is(err, ai.ErrModelInvocation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ai.ErrModelInvocation, err)
	}

	feedback := grading.ParseFeedback(answer)
	if len(feedback) == 0 {
		return nil, ErrEmptyFeedback
	}

	return feedback, nil
}

func (p *GradingPipeline) safeGrade(ctx context.Context, task GradingTask) (feedback []models.CriterionResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			feedback = nil
			err = fmt.Errorf("grading panicked: %v", recovered)
		}
	}()

	mode := extract.ModePrinted
	if task.Submission.IsHandwriting {
		mode = extract.ModeHandwritten
	}

	text, err := p.extractor.Extract(ctx, task.Submission.DocumentRef, mode)
	if err != nil {
		return nil, err
	}

	return p.Evaluate(ctx, task.Assignment.RubricCriteria(), text, task.Submission.IsHandwriting)
}

func (p *GradingPipeline) publish(ctx context.Context, task GradingTask, outcome repository.SubmissionOutcome, logger zerolog.Logger) {
	if p.events == nil {
		return
	}

	event := GradingSettledEvent{
		JobID:        task.JobID,
		AssignmentID: task.Assignment.ID,
		SubmissionID: task.Submission.ID,
		TeacherID:    task.ActorID,
		Status:       outcome.Status,
		AIScore:      outcome.AIScore,
		SettledAt:    p.now().UTC(),
	}
	if err := p.events.PublishSettled(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("failed to publish grading event")
	}
}

func errorResult(cause error) models.CriterionResult {
	comments := cause.Error()
	return models.CriterionResult{Name: errorCriterionName, Score: 0, Total: 0, Comments: &comments}
}

func triggerLabel(trigger string) string {
	if trigger == "" {
		return "direct"
	}
	return trigger
}

// AIScore returns the percentage of points earned across all criteria, rounded to two decimals.
func AIScore(feedback []models.CriterionResult) *float64 {
	var earned, total float64
	for _, result := range feedback {
		earned += result.Score
		total += float64(result.Total)
	}
	if total <= 0 {
		return nil
	}

	score := math.Round(earned/total*10000) / 100
	return &score
}

// GradingService exposes single-submission grading, previews and grading statistics.
type GradingService interface {
	GradeSubmission(ctx context.Context, assignmentID, submissionID uint, actor ActivityActor) (dto.SubmissionResponse, error)
	Preview(ctx context.Context, assignmentID uint, payload dto.PreviewGradeRequest) (dto.PreviewGradeResponse, error)
	TeacherStats(ctx context.Context, teacherID uint) (dto.TeacherGradingStatsResponse, error)
}

type gradingService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	counter     repository.GradingCounter
	pipeline    *GradingPipeline
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewGradingService constructs the grading service.
func NewGradingService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, counter repository.GradingCounter, pipeline *GradingPipeline, validate *validator.Validate, logger zerolog.Logger) GradingService {
	return &gradingService{
		assignments: assignments,
		submissions: submissions,
		counter:     counter,
		pipeline:    pipeline,
		validator:   validate,
		logger:      logger.With().Str("component", "grading_service").Logger(),
	}
}

func (s *gradingService) GradeSubmission(ctx context.Context, assignmentID, submissionID uint, actor ActivityActor) (dto.SubmissionResponse, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if len(assignment.Rubric) == 0 {
		return dto.SubmissionResponse{}, ErrRubricMissing
	}

	submission, err := s.submissions.Get(ctx, assignmentID, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	applied, err := s.submissions.TransitionStatus(ctx, assignmentID, submissionID, models.SourcesFor(models.SubmissionStatusGrading), models.SubmissionStatusGrading)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !applied {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: submission is %s", models.ErrInvalidTransition, submission.Status)
	}
	submission.Status = models.SubmissionStatusGrading

	s.pipeline.Run(ctx, GradingTask{
		Assignment: assignment,
		Submission: submission,
		ActorID:    actor.ID,
		Trigger:    "direct",
	})

	settled, err := s.submissions.Get(ctx, assignmentID, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(settled), nil
}

func (s *gradingService) Preview(ctx context.Context, assignmentID uint, payload dto.PreviewGradeRequest) (dto.PreviewGradeResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.PreviewGradeResponse{}, err
	}

	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return dto.PreviewGradeResponse{}, err
	}
	if len(assignment.Rubric) == 0 {
		return dto.PreviewGradeResponse{}, ErrRubricMissing
	}

	feedback, err := s.pipeline.Evaluate(ctx, assignment.RubricCriteria(), payload.Text, false)
	if err != nil {
		s.logger.Warn().Err(err).Uint("assignment_id", assignmentID).Msg("preview grading failed")
		return dto.PreviewGradeResponse{}, err
	}

	return dto.PreviewGradeResponse{Feedback: feedback, AIScore: AIScore(feedback)}, nil
}

func (s *gradingService) TeacherStats(ctx context.Context, teacherID uint) (dto.TeacherGradingStatsResponse, error) {
	count, err := s.counter.Get(ctx, teacherID)
	if err != nil {
		return dto.TeacherGradingStatsResponse{}, err
	}

	return dto.TeacherGradingStatsResponse{TeacherID: teacherID, GradedCount: count}, nil
}

func (s *gradingService) loadAssignment(ctx context.Context, id uint) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}
	return assignment, nil
}
