package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenAIConfig defines configuration options for the OpenAI model client.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIModel implements ChatModel and Transcriber against the chat completion API.
type OpenAIModel struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIModel builds a client using the provided configuration.
func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIModel{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai_model").Logger(),
	}, nil
}

// Complete sends the messages as a chat completion and returns the first choice's text.
func (m *OpenAIModel) Complete(parent context.Context, messages []Message) (string, error) {
	ctx, span := m.tracer.Start(parent, "openai.complete", trace.WithAttributes(
		attribute.String("model", m.cfg.Model),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	chat := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    openAIRole(message.Role),
			Content: message.Content,
		})
	}

	return m.send(ctx, span, "complete", openai.ChatCompletionRequest{
		Model:       m.cfg.Model,
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
		Messages:    chat,
	})
}

// Transcribe sends an image document with the instruction and returns the transcription.
func (m *OpenAIModel) Transcribe(parent context.Context, document Document, instruction string) (string, error) {
	ctx, span := m.tracer.Start(parent, "openai.transcribe", trace.WithAttributes(
		attribute.String("model", m.cfg.Model),
		attribute.String("document.mime", document.MIMEType),
	))
	defer span.End()

	if !strings.HasPrefix(document.MIMEType, "image/") {
		err := fmt.Errorf("%w: %s", ErrUnsupportedDocument, document.MIMEType)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	dataURL := "data:" + document.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(document.Data)

	return m.send(ctx, span, "transcribe", openai.ChatCompletionRequest{
		Model:     m.cfg.Model,
		MaxTokens: m.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: instruction},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
	})
}

func (m *OpenAIModel) send(ctx context.Context, span trace.Span, operation string, request openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues("openai", m.cfg.Model, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", m.fail(span, operation, fmt.Errorf("%w: openai %s: %v", ErrModelInvocation, operation, err))
	}

	if len(resp.Choices) == 0 {
		return "", m.fail(span, operation, fmt.Errorf("%w: no choices returned from openai", ErrModelInvocation))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", m.fail(span, operation, fmt.Errorf("%w: empty completion from openai", ErrModelInvocation))
	}

	m.logger.Debug().
		Str("operation", operation).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("openai completion received")

	return content, nil
}

func (m *OpenAIModel) fail(span trace.Span, operation string, err error) error {
	aiFailures.WithLabelValues("openai", m.cfg.Model, operation).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func openAIRole(role Role) string {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
