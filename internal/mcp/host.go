// Package mcp defines the Tool Execution Service used by the router.
//
// A [Host] owns a catalogue of tools: in-process builtins that resolve the
// assistant's closed action vocabulary, plus tools imported from external
// Model Context Protocol servers. The router offers [Host.AvailableTools] to
// tool-calling backends and runs the chosen call through [Host.ExecuteTool].
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"

	"github.com/MrWong99/luna/pkg/provider/llm"
)

// Transport is how the host reaches an external MCP server.
type Transport string

const (
	// TransportStdio runs the server as a child process speaking over its
	// stdin and stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP talks to a server listening on an HTTP URL.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t names a supported transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP:
		return true
	}
	return false
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name must be unique within a single [Host].
	Name string

	Transport Transport

	// Command is the executable and its arguments for [TransportStdio].
	Command string

	// URL is the endpoint for [TransportStreamableHTTP].
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output. For builtins it is the sentence
	// the assistant speaks.
	Content string

	// IsError marks an application-level failure; Content then holds the
	// error message.
	IsError bool

	DurationMs int64
}

// ToolHealth captures the measured runtime behaviour of one tool.
type ToolHealth struct {
	Name          string
	Server        string
	MeasuredP50Ms int64
	MeasuredP99Ms int64
	CallCount     int
	ErrorRate     float64
}

// Executor is the subset of [Host] the router needs.
type Executor interface {
	// AvailableTools returns the catalogue, sorted by name.
	AvailableTools() []llm.ToolDefinition

	// ExecuteTool runs the named tool with JSON-encoded args. A non-nil
	// result is returned even when [ToolResult.IsError] is set; a Go error
	// means the tool is unknown or the transport failed.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)
}

// Host manages builtin tools and external MCP server connections.
type Host interface {
	Executor

	// RegisterServer connects to the server described by cfg and imports its
	// tools. Re-registering a name replaces the previous connection.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// Health reports per-tool latency and error statistics.
	Health() []ToolHealth

	// Close shuts down all server connections.
	Close() error
}
