package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// DefaultGradingSubject is the NATS subject for settled submission events.
const DefaultGradingSubject = "grading.submission.settled"

// GradingSettledEvent is published once a submission leaves the grading status.
type GradingSettledEvent struct {
	JobID        string                  `json:"job_id,omitempty"`
	AssignmentID uint                    `json:"assignment_id"`
	SubmissionID uint                    `json:"submission_id"`
	TeacherID    uint                    `json:"teacher_id"`
	Status       models.SubmissionStatus `json:"status"`
	AIScore      *float64                `json:"ai_score"`
	SettledAt    time.Time               `json:"settled_at"`
}

// GradingEventPublisher delivers settled events on a best-effort basis.
type GradingEventPublisher interface {
	PublishSettled(ctx context.Context, event GradingSettledEvent) error
}

type natsGradingPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSGradingPublisher publishes settled events as JSON on subject.
func NewNATSGradingPublisher(conn *nats.Conn, subject string) GradingEventPublisher {
	if subject == "" {
		subject = DefaultGradingSubject
	}
	return &natsGradingPublisher{conn: conn, subject: subject}
}

func (p *natsGradingPublisher) PublishSettled(_ context.Context, event GradingSettledEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.conn.Publish(p.subject, payload)
}
