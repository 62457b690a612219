// Package mcphost is luna's tool host. It serves the assistant's own
// actions as in-process tools and imports the tools of external MCP servers
// (stdio or streamable HTTP, through github.com/modelcontextprotocol/go-sdk)
// into one catalog offered to tool-calling backends.
//
//	h := mcphost.New(mcphost.WithMetrics(observe.DefaultMetrics()))
//	if err := mcphost.RegisterActions(h, store); err != nil { ... }
//	err := h.RegisterServer(ctx, mcp.ServerConfig{Name: "notes", Transport: mcp.TransportStdio, Command: "mcp-notes"})
//	res, err := h.ExecuteTool(ctx, "get_user_name", "{}")
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/luna/internal/mcp"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/pkg/provider/llm"
)

// tool is one catalog entry. Exactly one of run and server-side execution
// applies: run is set for builtins.
type tool struct {
	def    llm.ToolDefinition
	server string
	run    func(ctx context.Context, args string) (string, error)
	stats  *toolStats
}

// Host implements [mcp.Host]. Create it with [New].
type Host struct {
	client  *mcpsdk.Client
	metrics *observe.Metrics

	mu       sync.RWMutex
	tools    map[string]*tool
	sessions map[string]*mcpsdk.ClientSession
}

var _ mcp.Host = (*Host)(nil)

// Option configures a [Host].
type Option func(*Host)

// WithMetrics records tool latency and outcome counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// New returns an empty host.
func New(opts ...Option) *Host {
	h := &Host{
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "luna", Version: "1.0.0"}, nil),
		tools:    make(map[string]*tool),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// newTransport validates cfg and builds the SDK transport for it.
func newTransport(cfg mcp.ServerConfig) (mcpsdk.Transport, error) {
	switch {
	case cfg.Name == "":
		return nil, errors.New("mcp host: server name is required")
	case cfg.Name == builtinServerName:
		return nil, fmt.Errorf("mcp host: server name %q is reserved", cfg.Name)
	case !cfg.Transport.IsValid():
		return nil, fmt.Errorf("mcp host: server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}

	if cfg.Transport == mcp.TransportStreamableHTTP {
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp host: server %q: url is required", cfg.Name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
	}

	argv := strings.Fields(cfg.Command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("mcp host: server %q: command is required", cfg.Name)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for _, k := range slices.Sorted(maps.Keys(cfg.Env)) {
			cmd.Env = append(cmd.Env, k+"="+cfg.Env[k])
		}
	}
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// RegisterServer connects to the server described by cfg and imports its
// tools, replacing an earlier registration under the same name. Tools named
// like a builtin are skipped so that a server cannot shadow an action.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect %q: %w", cfg.Name, err)
	}
	var listed []*mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: list tools of %q: %w", cfg.Name, err)
		}
		listed = append(listed, t)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old := h.sessions[cfg.Name]; old != nil {
		_ = old.Close()
		maps.DeleteFunc(h.tools, func(_ string, t *tool) bool { return t.server == cfg.Name })
	}
	h.sessions[cfg.Name] = session

	imported := 0
	for _, t := range listed {
		if cur := h.tools[t.Name]; cur != nil && cur.server == builtinServerName {
			slog.Warn("mcp host: skipping tool that shadows an action", "server", cfg.Name, "tool", t.Name)
			continue
		}
		h.tools[t.Name] = &tool{
			def:    llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: objectSchema(t.InputSchema)},
			server: cfg.Name,
			stats:  newToolStats(statsWindow),
		}
		imported++
	}
	slog.Info("mcp host: server registered", "server", cfg.Name, "tools", imported)
	return nil
}

// objectSchema normalises an SDK input schema to the JSON object form the
// backends expect. Anything unusable becomes an empty object schema.
func objectSchema(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	var m map[string]any
	if schema != nil {
		if raw, err := json.Marshal(schema); err == nil {
			_ = json.Unmarshal(raw, &m)
		}
	}
	if m == nil {
		m = map[string]any{"type": "object"}
	}
	return m
}

// AvailableTools implements [mcp.Executor].
func (h *Host) AvailableTools() []llm.ToolDefinition {
	h.mu.RLock()
	defs := make([]llm.ToolDefinition, 0, len(h.tools))
	for _, t := range h.tools {
		defs = append(defs, t.def)
	}
	h.mu.RUnlock()
	slices.SortFunc(defs, func(a, b llm.ToolDefinition) int { return cmp.Compare(a.Name, b.Name) })
	return defs
}

// ExecuteTool implements [mcp.Executor]. MaxDurationMs of the tool
// definition bounds the call.
func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	t := h.tools[name]
	h.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("mcp host: tool %q not found", name)
	}

	ctx, span := observe.StartSpan(ctx, "mcp.execute_tool", trace.WithAttributes(
		attribute.String("tool", name),
		attribute.String("server", t.server),
	))
	defer span.End()
	if ms := t.def.MaxDurationMs; ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	var (
		res *mcp.ToolResult
		err error
	)
	if t.run != nil {
		res = runBuiltin(ctx, t, args)
	} else {
		res, err = h.callRemote(ctx, t, args)
	}
	elapsed := time.Since(start)
	failed := err != nil || res.IsError
	t.stats.add(elapsed, failed)
	h.record(ctx, name, elapsed, failed)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	case res.IsError:
		span.SetStatus(codes.Error, res.Content)
	}
	res.DurationMs = elapsed.Milliseconds()
	return res, nil
}

func (h *Host) record(ctx context.Context, name string, elapsed time.Duration, failed bool) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	h.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds())
	h.metrics.RecordToolCall(ctx, name, status)
}

// callRemote forwards the call to the session of the owning server and
// concatenates the text content of the answer.
func (h *Host) callRemote(ctx context.Context, t *tool, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	session := h.sessions[t.server]
	h.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("mcp host: server %q of tool %q is gone", t.server, t.def.Name)
	}

	var params map[string]any
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return nil, fmt.Errorf("mcp host: arguments of %q: %w", t.def.Name, err)
		}
	}
	out, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: t.def.Name, Arguments: params})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call %q: %w", t.def.Name, err)
	}
	var text strings.Builder
	for _, c := range out.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	return &mcp.ToolResult{Content: text.String(), IsError: out.IsError}, nil
}

// Health implements [mcp.Host].
func (h *Host) Health() []mcp.ToolHealth {
	h.mu.RLock()
	out := make([]mcp.ToolHealth, 0, len(h.tools))
	for name, t := range h.tools {
		out = append(out, t.stats.health(name, t.server))
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b mcp.ToolHealth) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Close disconnects every server and empties the catalog.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for name, s := range h.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: close %q: %w", name, err))
		}
	}
	clear(h.sessions)
	clear(h.tools)
	return errors.Join(errs...)
}
