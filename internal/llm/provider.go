package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_provider.go -package=mocks pixie-engine/internal/llm Provider

import (
	"context"
	"encoding/json"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// GenerateRequest holds the inputs for a single generation call.
type GenerateRequest struct {
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature float32
}

// GenerateResponse is the model's reply.
type GenerateResponse struct {
	Text             string
	ToolCalls        []ToolCall
	PromptTokens     int
	CompletionTokens int
}

// Provider is a single LLM backend. The router depends only on this
// interface; concrete providers differ by endpoint and model.
type Provider interface {
	// Name identifies the provider for logs and telemetry.
	Name() string
	// Generate runs a blocking chat completion.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	// StreamGenerate runs a streaming chat completion, calling the callback
	// for each text chunk. A callback error cancels the stream.
	StreamGenerate(ctx context.Context, req GenerateRequest, callback func(chunk string) error) error
}
