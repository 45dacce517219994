package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

// GeminiConfig defines configuration options for the Gemini model client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Logger      zerolog.Logger
}

// GeminiModel implements ChatModel and Transcriber using Google's generative AI SDK.
type GeminiModel struct {
	client *genai.Client
	model  *genai.GenerativeModel
	cfg    GeminiConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGeminiModel creates the SDK client; Close must be called on shutdown.
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &GeminiModel{
		client: client,
		model:  model,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/gemini"),
		logger: logger.With().Str("component", "gemini_model").Logger(),
	}, nil
}

// Complete flattens the messages into one request; Gemini receives them as ordered text parts.
func (m *GeminiModel) Complete(parent context.Context, messages []Message) (string, error) {
	ctx, span := m.tracer.Start(parent, "gemini.complete", trace.WithAttributes(
		attribute.String("model", m.cfg.Model),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	parts := make([]genai.Part, 0, len(messages))
	for _, message := range messages {
		parts = append(parts, genai.Text(message.Content))
	}

	return m.generate(ctx, span, "complete", parts...)
}

// Transcribe sends the document bytes followed by the instruction.
func (m *GeminiModel) Transcribe(parent context.Context, document Document, instruction string) (string, error) {
	ctx, span := m.tracer.Start(parent, "gemini.transcribe", trace.WithAttributes(
		attribute.String("model", m.cfg.Model),
		attribute.String("document.mime", document.MIMEType),
	))
	defer span.End()

	if !strings.HasPrefix(document.MIMEType, "image/") && document.MIMEType != "application/pdf" {
		err := fmt.Errorf("%w: %s", ErrUnsupportedDocument, document.MIMEType)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return m.generate(ctx, span, "transcribe",
		genai.Blob{MIMEType: document.MIMEType, Data: document.Data},
		genai.Text(instruction),
	)
}

// Close releases the underlying SDK connection.
func (m *GeminiModel) Close() error {
	return m.client.Close()
}

func (m *GeminiModel) generate(ctx context.Context, span trace.Span, operation string, parts ...genai.Part) (string, error) {
	start := time.Now()
	resp, err := m.model.GenerateContent(ctx, parts...)
	aiDuration.WithLabelValues("gemini", m.cfg.Model, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", m.fail(span, operation, fmt.Errorf("%w: gemini %s: %v", ErrModelInvocation, operation, err))
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", m.fail(span, operation, fmt.Errorf("%w: gemini returned no content", ErrModelInvocation))
	}

	return text, nil
}

func (m *GeminiModel) fail(span trace.Span, operation string, err error) error {
	aiFailures.WithLabelValues("gemini", m.cfg.Model, operation).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.logger.Warn().Err(err).Str("operation", operation).Msg("gemini request failed")
	return err
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	return builder.String()
}
