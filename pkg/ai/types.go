package ai

import (
	"context"
	"errors"
)

// ErrModelInvocation wraps every failure to obtain a usable completion from a model.
var ErrModelInvocation = errors.New("model invocation failed")

// ErrUnsupportedDocument indicates the model cannot read the supplied document type.
var ErrUnsupportedDocument = errors.New("document type not supported by model")

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat completion request.
type Message struct {
	Role    Role
	Content string
}

// UserMessage builds a single user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Document is raw file content handed to a vision-capable model.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ChatModel produces a synchronous, single-shot completion for a list of messages.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Transcriber turns a handwritten document into text using a vision model.
type Transcriber interface {
	Transcribe(ctx context.Context, document Document, instruction string) (string, error)
}
