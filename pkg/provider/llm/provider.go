// Package llm defines the single call luna makes to a chat-completion
// backend: one prompt in, either reply text or a tool call out.
//
// Backends are a local model runtime (Ollama) or a hosted API (OpenAI, Groq,
// OpenRouter, Anthropic, ...). Tool definitions travel with the request so
// that tool-calling backends can answer with a [ToolCall] instead of text.
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrNoChoices is returned when a backend answers without any completion.
var ErrNoChoices = errors.New("llm: response has no choices")

// ToolDefinition describes a tool that can be offered to a model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the tool input.
	Parameters map[string]any

	// EstimatedDurationMs is the typical latency, shown in the tool catalog.
	EstimatedDurationMs int

	// MaxDurationMs bounds one execution. Zero means no tool-level deadline.
	MaxDurationMs int
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID may be empty for backends that do not assign one.
	ID   string
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// CompletionRequest is a single user turn.
type CompletionRequest struct {
	// System is sent as a system message when non-empty.
	System string

	// Prompt is the user message. It must not be empty.
	Prompt string

	// Tools is offered with automatic tool choice. Empty for backends driven
	// by the strict JSON prompt.
	Tools []ToolDefinition
}

// Validate reports a request that no backend could answer.
func (r CompletionRequest) Validate() error {
	if r.Prompt == "" {
		return errors.New("llm: empty prompt")
	}
	return nil
}

// Usage holds the token accounting of one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the backend's answer.
type CompletionResponse struct {
	// Content is the assistant text. Empty when the model only called tools.
	Content string

	// ToolCalls lists the requested tool invocations in order.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full response. It returns
	// promptly with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
