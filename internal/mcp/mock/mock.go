// Package mock provides a recording [mcp.Executor] for router tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/luna/internal/mcp"
	"github.com/MrWong99/luna/pkg/provider/llm"
)

// Execution is one recorded ExecuteTool call.
type Execution struct {
	Name string
	Args string
}

// Executor offers a fixed tool catalog and answers every execution with
// Result or Err. The zero value offers no tools and returns an empty result.
type Executor struct {
	Tools  []llm.ToolDefinition
	Result *mcp.ToolResult
	Err    error

	mu    sync.Mutex
	execs []Execution
}

var _ mcp.Executor = (*Executor)(nil)

// AvailableTools implements [mcp.Executor].
func (e *Executor) AvailableTools() []llm.ToolDefinition {
	return append([]llm.ToolDefinition{}, e.Tools...)
}

// ExecuteTool implements [mcp.Executor].
func (e *Executor) ExecuteTool(_ context.Context, name, args string) (*mcp.ToolResult, error) {
	e.mu.Lock()
	e.execs = append(e.execs, Execution{Name: name, Args: args})
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Result == nil {
		return &mcp.ToolResult{}, nil
	}
	r := *e.Result
	return &r, nil
}

// Executions returns a copy of the recorded calls.
func (e *Executor) Executions() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Execution(nil), e.execs...)
}
