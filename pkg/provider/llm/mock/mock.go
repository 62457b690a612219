// Package mock provides a recording [llm.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/luna/pkg/provider/llm"
)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers every request with a fixed response, or through
// CompleteFunc when set. The zero value answers (nil, nil).
type Provider struct {
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu    sync.Mutex
	calls []Call
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Prompts returns the prompt of every recorded call.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Req.Prompt
	}
	return out
}
