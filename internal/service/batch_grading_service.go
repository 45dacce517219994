package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

var (
	// ErrGradingStartFailed indicates submissions could not be moved to grading, so no work started.
	ErrGradingStartFailed = errors.New("failed to start grading")
	// ErrGradingJobNotFound indicates the job handle is unknown or has expired.
	ErrGradingJobNotFound = errors.New("grading job not found")
	// ErrGradingUnavailable indicates the service is shutting down and accepts no new batches.
	ErrGradingUnavailable = errors.New("batch grading is shutting down")
	// ErrGradingAbandoned is recorded on submissions whose grading attempt never settled.
	ErrGradingAbandoned = errors.New("grading attempt was interrupted before it settled")
)

const gradingJobRetention = 24 * time.Hour

// BatchGradingConfig bounds batch fan-out.
type BatchGradingConfig struct {
	Workers      int
	BatchTimeout time.Duration
	// StaleAfter is how long a submission may sit in grading before it is presumed
	// orphaned by a crashed process. Defaults to BatchTimeout plus one minute.
	StaleAfter time.Duration
}

// BatchGradingService grades every pending submission of an assignment in the background.
type BatchGradingService interface {
	GradeAssignment(ctx context.Context, assignmentID uint, actor ActivityActor) (dto.GradingAcceptedResponse, error)
	GetJob(ctx context.Context, jobID string) (dto.GradingJobResponse, error)
	RecoverStale(ctx context.Context) (int64, error)
	Shutdown(ctx context.Context) error
}

type gradingJob struct {
	id           string
	assignmentID uint
	targets      int
	startedAt    time.Time
	graded       atomic.Int64
	failed       atomic.Int64
	finishedAt   atomic.Pointer[time.Time]
}

func (j *gradingJob) response() dto.GradingJobResponse {
	graded := int(j.graded.Load())
	failed := int(j.failed.Load())
	finished := j.finishedAt.Load()

	return dto.GradingJobResponse{
		JobID:        j.id,
		AssignmentID: j.assignmentID,
		Targets:      j.targets,
		Graded:       graded,
		Failed:       failed,
		Pending:      j.targets - graded - failed,
		Done:         finished != nil,
		StartedAt:    j.startedAt,
		FinishedAt:   finished,
	}
}

type batchGradingService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	pipeline    *GradingPipeline
	workers     int
	timeout     time.Duration
	staleAfter  time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*gradingJob
	closed bool
}

// NewBatchGradingService constructs the batch orchestrator. Background work is detached from
// request contexts and joined by Shutdown.
func NewBatchGradingService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, pipeline *GradingPipeline, cfg BatchGradingConfig, logger zerolog.Logger) BatchGradingService {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = cfg.BatchTimeout + time.Minute
	}

	root, cancel := context.WithCancel(context.Background())
	return &batchGradingService{
		assignments: assignments,
		submissions: submissions,
		pipeline:    pipeline,
		workers:     cfg.Workers,
		timeout:     cfg.BatchTimeout,
		staleAfter:  cfg.StaleAfter,
		logger:      logger.With().Str("component", "batch_grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/batch_grading"),
		now:         time.Now,
		root:        root,
		cancel:      cancel,
		jobs:        make(map[string]*gradingJob),
	}
}

func (s *batchGradingService) GradeAssignment(ctx context.Context, assignmentID uint, actor ActivityActor) (dto.GradingAcceptedResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.batch.start", trace.WithAttributes(
		attribute.Int64("grading.assignment_id", int64(assignmentID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if s.isClosed() {
		return dto.GradingAcceptedResponse{}, ErrGradingUnavailable
	}

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "assignment_not_found")
			return dto.GradingAcceptedResponse{}, ErrAssignmentNotFound
		}
		span.SetStatus(codes.Error, "assignment_lookup_failed")
		return dto.GradingAcceptedResponse{}, err
	}
	if len(assignment.Rubric) == 0 {
		return dto.GradingAcceptedResponse{}, ErrRubricMissing
	}

	if _, err := s.releaseStale(ctx, assignmentID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release_stale_failed")
		return dto.GradingAcceptedResponse{}, fmt.Errorf("%w: %v", ErrGradingStartFailed, err)
	}

	targets, err := s.submissions.BeginGrading(ctx, assignmentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin_grading_failed")
		return dto.GradingAcceptedResponse{}, fmt.Errorf("%w: %v", ErrGradingStartFailed, err)
	}

	job := &gradingJob{
		id:           uuid.NewString(),
		assignmentID: assignmentID,
		targets:      len(targets),
		startedAt:    s.now().UTC(),
	}
	span.SetAttributes(attribute.String("grading.job_id", job.id), attribute.Int("grading.targets", job.targets))

	if !s.launch(job, assignment, targets, actor) {
		// The claimed rows must not stay in grading when no worker will pick them up.
		s.abandon(assignment, targets, job.id)
		return dto.GradingAcceptedResponse{}, ErrGradingUnavailable
	}

	observability.GradingBatchesStarted().WithLabelValues(fmt.Sprintf("%t", job.targets > 0)).Inc()
	s.logger.Info().
		Uint("assignment_id", assignmentID).
		Uint("actor_id", actor.ID).
		Str("job_id", job.id).
		Int("targets", job.targets).
		Msg("batch grading accepted")

	return dto.GradingAcceptedResponse{JobID: job.id, AssignmentID: assignmentID, Targets: job.targets}, nil
}

func (s *batchGradingService) GetJob(_ context.Context, jobID string) (dto.GradingJobResponse, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return dto.GradingJobResponse{}, ErrGradingJobNotFound
	}

	return job.response(), nil
}

// RecoverStale moves submissions left in grading by a previous process to Error so they can be
// graded again. It is run once at startup.
func (s *batchGradingService) RecoverStale(ctx context.Context) (int64, error) {
	return s.releaseStale(ctx, 0)
}

func (s *batchGradingService) releaseStale(ctx context.Context, assignmentID uint) (int64, error) {
	released, err := s.submissions.ReleaseStale(ctx, assignmentID, s.now().Add(-s.staleAfter), repository.SubmissionOutcome{
		Status:   models.SubmissionStatusError,
		Feedback: []models.CriterionResult{errorResult(ErrGradingAbandoned)},
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		observability.GradingOutcomes().WithLabelValues(string(models.SubmissionStatusError), "recovery").Add(float64(released))
		s.logger.Warn().Uint("assignment_id", assignmentID).Int64("released", released).Msg("released stale grading submissions")
	}
	return released, nil
}

// Shutdown stops accepting batches and waits for running ones. When ctx expires first, running
// tasks are cancelled and Shutdown still waits for them to record their error outcome, which
// happens promptly because outcome writes ignore cancellation.
func (s *batchGradingService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn().Msg("batch grading cancelled before completion")
		<-done
		return ctx.Err()
	}
}

func (s *batchGradingService) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *batchGradingService) launch(job *gradingJob, assignment models.Assignment, targets []models.Submission, actor ActivityActor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.pruneJobsLocked()
	s.jobs[job.id] = job
	s.wg.Add(1)
	go s.run(job, assignment, targets, actor)
	return true
}

func (s *batchGradingService) run(job *gradingJob, assignment models.Assignment, targets []models.Submission, actor ActivityActor) {
	defer s.wg.Done()
	defer func() {
		finished := s.now().UTC()
		job.finishedAt.Store(&finished)
	}()

	ctx, cancel := context.WithTimeout(s.root, s.timeout)
	defer cancel()

	var group errgroup.Group
	group.SetLimit(s.workers)

	for _, submission := range targets {
		group.Go(func() error {
			s.runTask(ctx, job, GradingTask{
				Assignment: assignment,
				Submission: submission,
				ActorID:    actor.ID,
				JobID:      job.id,
				Trigger:    "batch",
			})
			return nil
		})
	}

	_ = group.Wait()

	s.logger.Info().
		Uint("assignment_id", assignment.ID).
		Str("job_id", job.id).
		Int64("graded", job.graded.Load()).
		Int64("failed", job.failed.Load()).
		Msg("batch grading settled")
}

func (s *batchGradingService) runTask(ctx context.Context, job *gradingJob, task GradingTask) {
	defer func() {
		if recovered := recover(); recovered != nil {
			job.failed.Add(1)
			s.logger.Error().
				Interface("panic", recovered).
				Uint("submission_id", task.Submission.ID).
				Str("job_id", job.id).
				Msg("grading task panicked")
		}
	}()

	settlement := s.pipeline.Run(ctx, task)
	if settlement.Status == models.SubmissionStatusGraded {
		job.graded.Add(1)
		return
	}
	job.failed.Add(1)
}

func (s *batchGradingService) abandon(assignment models.Assignment, targets []models.Submission, jobID string) {
	cause := errorResult(ErrGradingUnavailable)
	for _, submission := range targets {
		_, err := s.submissions.RecordOutcome(context.Background(), assignment.ID, submission.ID, repository.SubmissionOutcome{
			Status:   models.SubmissionStatusError,
			Feedback: []models.CriterionResult{cause},
		})
		if err != nil {
			s.logger.Error().Err(err).Uint("submission_id", submission.ID).Str("job_id", jobID).Msg("failed to release claimed submission")
		}
	}
}

func (s *batchGradingService) pruneJobsLocked() {
	cutoff := s.now().Add(-gradingJobRetention)
	for id, job := range s.jobs {
		if finished := job.finishedAt.Load(); finished != nil && finished.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
