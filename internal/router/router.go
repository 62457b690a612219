// Package router turns a command text into an [intent.Intent] by asking the
// configured AI backend. Offline backends answer with a JSON object that is
// normalised and resolved through the tool host; hosted backends call tools
// natively. Route never fails: every error becomes a spoken apology.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/luna/internal/intent"
	"github.com/MrWong99/luna/internal/mcp"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/resilience"
	"github.com/MrWong99/luna/pkg/provider/llm"
)

// DefaultTimeout bounds one backend call.
const DefaultTimeout = 30 * time.Second

// Names supplies the user and assistant names embedded in prompts.
type Names interface {
	UserName(ctx context.Context) string
	AssistantName(ctx context.Context) string
}

// Router routes commands to the backend named by a per-call
// [ProviderConfig].
type Router struct {
	factory  BackendFactory
	tools    mcp.Executor
	names    Names
	timeout  time.Duration
	metrics  *observe.Metrics
	breakers *resilience.Registry
}

// Option configures a [Router].
type Option func(*Router)

// WithTimeout sets the per-call backend deadline. Non-positive values keep
// [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics records routing latency and provider request counts.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithBreakers protects hosted backends with one circuit breaker per kind.
func WithBreakers(reg *resilience.Registry) Option {
	return func(r *Router) { r.breakers = reg }
}

// New creates a Router. factory, tools and names must be non-nil.
func New(factory BackendFactory, tools mcp.Executor, names Names, opts ...Option) *Router {
	r := &Router{
		factory: factory,
		tools:   tools,
		names:   names,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route interprets command with the backend selected by cfg.
func (r *Router) Route(ctx context.Context, command string, cfg ProviderConfig) intent.Intent {
	return r.route(ctx, command, cfg, true)
}

func (r *Router) route(ctx context.Context, command string, cfg ProviderConfig, execute bool) intent.Intent {
	if !cfg.Kind.Valid() {
		observe.Logger(ctx).Warn("router: unknown provider", "provider", string(cfg.Kind))
		return intent.Reply(intent.UnknownReply)
	}

	ctx, span := observe.StartSpan(ctx, "router.route",
		trace.WithAttributes(attribute.String("provider", string(cfg.Kind))))
	defer span.End()

	start := time.Now()
	var (
		in  intent.Intent
		err error
	)
	if cfg.Kind.Offline() {
		in, err = r.offline(ctx, command, cfg, execute)
	} else {
		in, err = r.hosted(ctx, command, cfg, execute)
	}

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Error("router: backend failed", "provider", string(cfg.Kind), "err", err)
		in = intent.Apology()
	}
	if r.metrics != nil {
		r.metrics.RouteDuration.Record(ctx, time.Since(start).Seconds(),
			observe.Attr("provider", string(cfg.Kind)))
		r.metrics.RecordProviderRequest(ctx, string(cfg.Kind), "llm", status)
		if err != nil {
			r.metrics.RecordProviderError(ctx, string(cfg.Kind), "llm")
		}
	}
	span.SetAttributes(attribute.String("action", in.Action.String()))
	return in
}

func (r *Router) offline(ctx context.Context, command string, cfg ProviderConfig, execute bool) (intent.Intent, error) {
	req := llm.CompletionRequest{
		Prompt: offlinePrompt(r.names.UserName(ctx), r.names.AssistantName(ctx), command),
	}
	resp, err := r.complete(ctx, cfg, req)
	if err != nil {
		return intent.Intent{}, err
	}

	in := intent.Normalize(resp.Content)
	if !in.HasAction() || !execute {
		return in, nil
	}
	argsJSON, err := encodeArgs(in.Parameters)
	if err != nil {
		return intent.Intent{}, err
	}
	in.Reply, in.Failed = r.execute(ctx, in.Action.String(), argsJSON)
	return in, nil
}

func (r *Router) hosted(ctx context.Context, command string, cfg ProviderConfig, execute bool) (intent.Intent, error) {
	req := llm.CompletionRequest{
		Prompt: hostedPrompt(r.names.UserName(ctx), r.names.AssistantName(ctx), command),
		Tools:  r.tools.AvailableTools(),
	}
	resp, err := r.complete(ctx, cfg, req)
	if err != nil {
		return intent.Intent{}, err
	}

	if len(resp.ToolCalls) == 0 {
		return intent.Reply(resp.Content), nil
	}
	call := resp.ToolCalls[0]
	if len(resp.ToolCalls) > 1 {
		observe.Logger(ctx).Debug("router: ignoring extra tool calls", "count", len(resp.ToolCalls)-1)
	}
	reply, failed := resp.Content, false
	if execute {
		reply, failed = r.execute(ctx, call.Name, call.Arguments)
	}
	in := intent.FromTool(reply, call.Name, intent.Arguments(call.Arguments))
	in.Failed = failed
	return in, nil
}

// complete runs one backend call under the router deadline and, for hosted
// kinds, the per-kind breaker.
func (r *Router) complete(ctx context.Context, cfg ProviderConfig, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	backend, err := r.factory.Backend(cfg)
	if err != nil {
		return nil, fmt.Errorf("router: build %s backend: %w", cfg.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var resp *llm.CompletionResponse
	call := func() error {
		var err error
		resp, err = backend.Complete(ctx, req)
		return err
	}
	if r.breakers != nil && !cfg.Kind.Offline() {
		err = r.breakers.Get("llm:" + string(cfg.Kind)).Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("router: %s completion: %w", cfg.Kind, err)
	}
	if resp == nil {
		return nil, errors.New("router: empty completion response")
	}
	return resp, nil
}

// execute runs one tool call and returns the reply text and whether the
// call failed.
func (r *Router) execute(ctx context.Context, name, argsJSON string) (string, bool) {
	res, err := r.tools.ExecuteTool(ctx, name, argsJSON)
	switch {
	case err != nil:
	case res == nil:
		err = errors.New("no result")
	case res.IsError:
		err = errors.New(res.Content)
	default:
		return res.Content, false
	}
	observe.Logger(ctx).Warn("router: tool execution failed", "tool", name, "err", err)
	return fmt.Sprintf("Failed to execute %s: %v", name, err), true
}

func encodeArgs(params map[string]string) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("router: encode tool arguments: %w", err)
	}
	return string(b), nil
}
