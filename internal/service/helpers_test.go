package service

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/grading"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/extract"
)

var testRubric = []models.Criterion{
	{Name: "Grammar", Values: []models.CriterionValue{{Point: 5, Description: "No errors"}, {Point: 0, Description: "Unreadable"}}},
	{Name: "Structure", Values: []models.CriterionValue{{Point: 5, Description: "Clear paragraphs"}, {Point: 0, Description: "No structure"}}},
}

func standardFeedback() []models.CriterionResult {
	good := "Good use of punctuation."
	clearer := "Needs clearer paragraphs."
	return []models.CriterionResult{
		{Name: "Grammar", Score: 4.5, Total: 5, Comments: &good},
		{Name: "Structure", Score: 3, Total: 5, Comments: &clearer},
	}
}

// stubChatModel answers grading prompts with a fixed feedback block and records concurrency.
type stubChatModel struct {
	mu       sync.Mutex
	prompts  []string
	delay    time.Duration
	respond  func(ctx context.Context, prompt string) (string, error)
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (m *stubChatModel) Complete(ctx context.Context, messages []ai.Message) (string, error) {
	current := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.peak.Load()
		if current <= peak || m.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	prompt := messages[len(messages)-1].Content
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ai.ErrModelInvocation, ctx.Err())
		}
	}

	if m.respond != nil {
		return m.respond(ctx, prompt)
	}
	return grading.FormatFeedback(standardFeedback()), nil
}

func (m *stubChatModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type gradingFixture struct {
	db          *gorm.DB
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	counter     repository.GradingCounter
	model       *stubChatModel
	pipeline    *GradingPipeline
	dir         string
}

func newGradingFixture(t *testing.T, model *stubChatModel, taskTimeout time.Duration) *gradingFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Assignment{}, &models.Submission{}, &models.TeacherGradingStat{}))

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if model == nil {
		model = &stubChatModel{}
	}

	submissions := repository.NewSubmissionRepository(db)
	counter := repository.NewRedisGradingCounter(client)
	extractor := extract.New(nil, extract.Config{}, zerolog.Nop())

	return &gradingFixture{
		db:          db,
		assignments: repository.NewAssignmentRepository(db),
		submissions: submissions,
		counter:     counter,
		model:       model,
		pipeline:    NewGradingPipeline(submissions, counter, extractor, model, nil, taskTimeout, zerolog.Nop()),
		dir:         t.TempDir(),
	}
}

func (f *gradingFixture) batch(workers int) BatchGradingService {
	return NewBatchGradingService(f.assignments, f.submissions, f.pipeline, BatchGradingConfig{Workers: workers, BatchTimeout: time.Minute}, zerolog.Nop())
}

func (f *gradingFixture) grader() GradingService {
	return NewGradingService(f.assignments, f.submissions, f.counter, f.pipeline, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
}

func (f *gradingFixture) createAssignment(t *testing.T, rubric []models.Criterion) models.Assignment {
	t.Helper()
	assignment := models.Assignment{Name: "Persuasive essay", TeacherID: 7, Rubric: rubric, DueDate: time.Now().Add(48 * time.Hour)}
	require.NoError(t, f.db.Create(&assignment).Error)
	return assignment
}

// addSubmission stores a submission whose document is a local file with the given name and content.
func (f *gradingFixture) addSubmission(t *testing.T, assignmentID uint, fileName, content string, status models.SubmissionStatus) models.Submission {
	t.Helper()
	path := filepath.Join(f.dir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), fileName))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	submission := models.Submission{
		AssignmentID:  assignmentID,
		StudentID:     uint(len(fileName)),
		StudentName:   strings.TrimSuffix(fileName, filepath.Ext(fileName)),
		DateSubmitted: time.Now(),
		Status:        status,
		DocumentRef:   path,
	}
	require.NoError(t, f.db.Create(&submission).Error)
	return submission
}

func (f *gradingFixture) reload(t *testing.T, submission models.Submission) models.Submission {
	t.Helper()
	stored, err := f.submissions.Get(context.Background(), submission.AssignmentID, submission.ID)
	require.NoError(t, err)
	return stored
}

func waitForBatch(t *testing.T, service BatchGradingService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, service.Shutdown(ctx))
}

func newTestFileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(int64(len(content))+1024))
	files := req.MultipartForm.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
