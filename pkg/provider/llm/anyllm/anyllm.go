// Package anyllm reaches the backends without an OpenAI-compatible endpoint
// through github.com/mozilla-ai/any-llm-go: the offline Ollama runtime and
// the hosted Anthropic, Gemini, Mistral and DeepSeek APIs.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/MrWong99/luna/pkg/provider/llm"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return fn(opts...) }
}

var backends = map[string]constructor{
	"ollama":    wrap(ollama.New),
	"llamacpp":  wrap(llamacpp.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"mistral":   wrap(mistral.New),
	"deepseek":  wrap(deepseek.New),
	"groq":      wrap(groq.New),
}

// Provider is an [llm.Provider] backed by one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New returns a Provider for model on the named backend. opts are passed to
// the backend constructor; credentials must be given with
// anyllmlib.WithAPIKey since the environment fallback is not relied upon.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name = strings.ToLower(name)
	newBackend, ok := backends[name]
	switch {
	case name == "":
		return nil, errors.New("anyllm: backend name is required")
	case !ok:
		return nil, fmt.Errorf("anyllm: unsupported backend %q", name)
	case model == "":
		return nil, errors.New("anyllm: model is required")
	}
	b, err := newBackend(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// NewOllama returns a Provider for a local Ollama runtime, by default at
// http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.ErrNoChoices
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{Model: p.model}
	if req.System != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.System})
	}
	params.Messages = append(params.Messages, anyllmlib.Message{Role: "user", Content: req.Prompt})

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = "auto"
	}
	return params
}
