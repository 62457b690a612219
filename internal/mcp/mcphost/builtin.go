package mcphost

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/luna/internal/mcp"
	"github.com/MrWong99/luna/pkg/provider/llm"
)

// builtinServerName owns the in-process tools in [mcp.ToolHealth].
const builtinServerName = "luna"

// BuiltinTool is a tool served in-process.
type BuiltinTool struct {
	Definition llm.ToolDefinition

	// Handler receives the JSON argument object, e.g. `{"app":"firefox"}`.
	// Its error becomes the text of an error result.
	Handler func(ctx context.Context, args string) (string, error)
}

// RegisterBuiltin adds tool to the catalog, replacing any tool of the same
// name.
func (h *Host) RegisterBuiltin(bt BuiltinTool) error {
	switch {
	case bt.Definition.Name == "":
		return errors.New("mcp host: builtin tool name is required")
	case bt.Handler == nil:
		return fmt.Errorf("mcp host: builtin tool %q has no handler", bt.Definition.Name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[bt.Definition.Name] = &tool{
		def:    bt.Definition,
		server: builtinServerName,
		run:    bt.Handler,
		stats:  newToolStats(statsWindow),
	}
	return nil
}

func runBuiltin(ctx context.Context, t *tool, args string) *mcp.ToolResult {
	out, err := t.run(ctx, args)
	if err != nil {
		return &mcp.ToolResult{Content: err.Error(), IsError: true}
	}
	return &mcp.ToolResult{Content: out}
}
