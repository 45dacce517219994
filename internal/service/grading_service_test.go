package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

type recordingPublisher struct {
	events []GradingSettledEvent
}

func (p *recordingPublisher) PublishSettled(_ context.Context, event GradingSettledEvent) error {
	p.events = append(p.events, event)
	return nil
}

func TestGradeSubmissionDirect(t *testing.T) {
	fixture := newGradingFixture(t, nil, time.Minute)
	publisher := &recordingPublisher{}
	fixture.pipeline.events = publisher
	assignment := fixture.createAssignment(t, testRubric)
	submission := fixture.addSubmission(t, assignment.ID, "essay.txt", "An essay about tides.", models.SubmissionStatusSubmitted)

	result, err := fixture.grader().GradeSubmission(context.Background(), assignment.ID, submission.ID, ActivityActor{ID: 3, Role: "teacher"})
	require.NoError(t, err)
	require.Equal(t, string(models.SubmissionStatusGraded), result.Status)
	require.Len(t, result.Feedback, 2)
	require.Equal(t, 75.0, *result.AIScore)

	require.Len(t, publisher.events, 1)
	require.Equal(t, submission.ID, publisher.events[0].SubmissionID)
	require.Equal(t, models.SubmissionStatusGraded, publisher.events[0].Status)

	stats, err := fixture.grader().TeacherStats(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.GradedCount)

	_, err = fixture.grader().GradeSubmission(context.Background(), assignment.ID, submission.ID, ActivityActor{ID: 3})
	require.ErrorIs(t, err, models.ErrInvalidTransition, "graded submissions must be marked for regrade first")
}

func TestGradeSubmissionNotFound(t *testing.T) {
	fixture := newGradingFixture(t, nil, time.Minute)
	assignment := fixture.createAssignment(t, testRubric)

	_, err := fixture.grader().GradeSubmission(context.Background(), 999, 1, ActivityActor{ID: 3})
	require.ErrorIs(t, err, ErrAssignmentNotFound)

	_, err = fixture.grader().GradeSubmission(context.Background(), assignment.ID, 999, ActivityActor{ID: 3})
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	other := fixture.createAssignment(t, testRubric)
	foreign := fixture.addSubmission(t, other.ID, "foreign.txt", "essay", models.SubmissionStatusSubmitted)
	_, err = fixture.grader().GradeSubmission(context.Background(), assignment.ID, foreign.ID, ActivityActor{ID: 3})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestGradeSubmissionCapturesExtractionFailure(t *testing.T) {
	fixture := newGradingFixture(t, nil, time.Minute)
	assignment := fixture.createAssignment(t, testRubric)
	submission := fixture.addSubmission(t, assignment.ID, "slides.pptx", "binary", models.SubmissionStatusError)

	result, err := fixture.grader().GradeSubmission(context.Background(), assignment.ID, submission.ID, ActivityActor{ID: 3})
	require.NoError(t, err, "pipeline failures are recorded on the submission, not returned")
	require.Equal(t, string(models.SubmissionStatusError), result.Status)
	require.Equal(t, "Error", result.Feedback[0].Name)

	stats, err := fixture.grader().TeacherStats(context.Background(), 3)
	require.NoError(t, err)
	require.Zero(t, stats.GradedCount)
}

func TestRegradeCycle(t *testing.T) {
	fixture := newGradingFixture(t, nil, time.Minute)
	assignment := fixture.createAssignment(t, testRubric)
	submission := fixture.addSubmission(t, assignment.ID, "essay.txt", "Essay on migration.", models.SubmissionStatusSubmitted)

	_, err := fixture.grader().GradeSubmission(context.Background(), assignment.ID, submission.ID, ActivityActor{ID: 3})
	require.NoError(t, err)

	submissions := NewSubmissionService(fixture.submissions, fixture.assignments, validator.New(), nil, zerolog.Nop())
	marked, err := submissions.MarkForRegrade(context.Background(), assignment.ID, submission.ID)
	require.NoError(t, err)
	require.Equal(t, string(models.SubmissionStatusRegrade), marked.Status)

	_, err = submissions.MarkForRegrade(context.Background(), assignment.ID, submission.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	service := fixture.batch(2)
	accepted, err := service.GradeAssignment(context.Background(), assignment.ID, ActivityActor{ID: 3})
	require.NoError(t, err)
	require.Equal(t, 1, accepted.Targets, "regrade submissions are selected by the next batch")

	waitForBatch(t, service)
	require.Equal(t, models.SubmissionStatusGraded, fixture.reload(t, submission).Status)

	count, err := fixture.counter.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	fixture := newGradingFixture(t, nil, time.Minute)
	assignment := fixture.createAssignment(t, testRubric)
	submission := fixture.addSubmission(t, assignment.ID, "essay.txt", "Essay", models.SubmissionStatusSubmitted)

	preview, err := fixture.grader().Preview(context.Background(), assignment.ID, dto.PreviewGradeRequest{Text: "Draft paragraph about volcanoes."})
	require.NoError(t, err)
	require.Len(t, preview.Feedback, 2)
	require.Equal(t, 75.0, *preview.AIScore)
	require.Contains(t, fixture.model.prompts[0], "Draft paragraph about volcanoes.")
	require.Contains(t, fixture.model.prompts[0], "Grammar")

	require.Equal(t, models.SubmissionStatusSubmitted, fixture.reload(t, submission).Status)

	_, err = fixture.grader().Preview(context.Background(), assignment.ID, dto.PreviewGradeRequest{})
	var validationErrs validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrs))
}

func TestPreviewModelFailures(t *testing.T) {
	model := &stubChatModel{respond: func(context.Context, string) (string, error) {
		return "", errors.New("rate limited")
	}}
	fixture := newGradingFixture(t, model, time.Minute)
	assignment := fixture.createAssignment(t, testRubric)

	_, err := fixture.grader().Preview(context.Background(), assignment.ID, dto.PreviewGradeRequest{Text: "text"})
	require.ErrorIs(t, err, ai.ErrModelInvocation)

	model.respond = func(context.Context, string) (string, error) { return "Looks fine to me.", nil }
	_, err = fixture.grader().Preview(context.Background(), assignment.ID, dto.PreviewGradeRequest{Text: "text"})
	require.ErrorIs(t, err, ErrEmptyFeedback)

	bare := fixture.createAssignment(t, nil)
	_, err = fixture.grader().Preview(context.Background(), bare.ID, dto.PreviewGradeRequest{Text: "text"})
	require.ErrorIs(t, err, ErrRubricMissing)
}

func TestAIScore(t *testing.T) {
	require.Nil(t, AIScore(nil))
	require.Nil(t, AIScore([]models.CriterionResult{{Name: "Error"}}))

	score := AIScore([]models.CriterionResult{{Score: 2.5, Total: 3}, {Score: 0, Total: 3}})
	require.NotNil(t, score)
	require.Equal(t, 41.67, *score)
}
