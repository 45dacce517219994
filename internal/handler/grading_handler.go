package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

// GradingHandler exposes batch grading, direct grading, previews and grading statistics.
type GradingHandler struct {
	grading service.GradingService
	batch   service.BatchGradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(grading service.GradingService, batch service.BatchGradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		grading: grading,
		batch:   batch,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading routes to the versioned API group.
func (h *GradingHandler) Register(router fiber.Router) {
	staff := middleware.RequireStaff()
	router.Post("/assignments/:id/grade", staff, h.gradeAssignment)
	router.Post("/assignments/:id/submissions/:submissionId/grade", staff, h.gradeSubmission)
	router.Post("/assignments/:id/preview-grade", middleware.RateLimit("preview_grade", 10, time.Minute), h.preview)
	router.Get("/grading-jobs/:jobId", staff, h.getJob)
	router.Get("/teachers/me/grading-stats", staff, h.stats)
}

func (h *GradingHandler) gradeAssignment(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	accepted, err := h.batch.GradeAssignment(c.UserContext(), id, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendAccepted(c, "grading started", accepted)
}

func (h *GradingHandler) gradeSubmission(c *fiber.Ctx) error {
	assignmentID, submissionID, err := submissionParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.grading.GradeSubmission(c.UserContext(), assignmentID, submissionID, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}

func (h *GradingHandler) preview(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.PreviewGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.grading.Preview(c.UserContext(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "preview graded", result)
}

func (h *GradingHandler) getJob(c *fiber.Ctx) error {
	job, err := h.batch.GetJob(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading job retrieved", job)
}

func (h *GradingHandler) stats(c *fiber.Ctx) error {
	teacherID := userIDFromContext(c)
	if teacherID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	stats, err := h.grading.TeacherStats(c.UserContext(), teacherID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading stats retrieved", stats)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrGradingJobNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "grading job not found")
	case errors.Is(err, models.ErrInvalidTransition):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRubricMissing):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "assignment has no rubric")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.Is(err, ai.ErrModelInvocation), errors.Is(err, service.ErrEmptyFeedback):
		requestLogger(h.logger, c).Warn().Err(err).Msg("grading model call failed")
		return utils.SendError(c, fiber.StatusBadGateway, "grading model is temporarily unavailable")
	case errors.Is(err, service.ErrGradingUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("grading request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
