// Package observe ties luna's observability together: OpenTelemetry
// metrics exported to Prometheus, tracing, trace-aware logging and the HTTP
// middleware of the control API.
//
// Components record through a [*Metrics]. Production code shares
// [DefaultMetrics], which binds to the global meter provider installed by
// [InitProvider]. Tests build their own with [NewMetrics] and an SDK
// ManualReader.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/luna"

// Metrics holds every instrument luna records. Attribute keys are given in
// brackets.
type Metrics struct {
	// Turn pipeline latencies, in seconds.
	STTDuration    metric.Float64Histogram // recognition of one phrase
	RouteDuration  metric.Float64Histogram // backend call plus tool execution
	SpeechDuration metric.Float64Histogram // synthesis plus playback
	TurnDuration   metric.Float64Histogram // dequeue to last spoken byte

	ToolExecutionDuration metric.Float64Histogram
	HTTPRequestDuration   metric.Float64Histogram // [method path status]

	Turns                metric.Int64Counter // [source outcome]
	ProviderRequests     metric.Int64Counter // [provider kind status]
	ProviderErrors       metric.Int64Counter // [provider kind]
	BackendTransitions   metric.Int64Counter // [backend state]
	ToolCalls            metric.Int64Counter // [tool status]
	ActionDispatches     metric.Int64Counter // [action status]
	CapturedPhrases      metric.Int64Counter // [mode outcome]
	DroppedNotifications metric.Int64Counter // [kind]

	// QueueDepth is the number of utterances waiting for the processor.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets span a fast tool call up to a slow hosted completion.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	for _, h := range []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets bool
	}{
		{&m.STTDuration, "luna.stt.duration", "Speech recognition latency.", true},
		{&m.RouteDuration, "luna.route.duration", "Provider routing latency including tool execution.", true},
		{&m.SpeechDuration, "luna.speech.duration", "Reply synthesis and playback time.", true},
		{&m.TurnDuration, "luna.turn.duration", "Time to handle one utterance.", true},
		{&m.ToolExecutionDuration, "luna.tool_execution.duration", "Tool execution latency.", true},
		{&m.HTTPRequestDuration, "luna.http.request.duration", "Control API request latency.", false},
	} {
		opts := []metric.Float64HistogramOption{metric.WithDescription(h.desc), metric.WithUnit("s")}
		if h.buckets {
			opts = append(opts, metric.WithExplicitBucketBoundaries(latencyBuckets...))
		}
		var err error
		if *h.dst, err = meter.Float64Histogram(h.name, opts...); err != nil {
			return nil, fmt.Errorf("observe: histogram %s: %w", h.name, err)
		}
	}

	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.Turns, "luna.turns", "Processed utterances."},
		{&m.ProviderRequests, "luna.provider.requests", "AI backend requests."},
		{&m.ProviderErrors, "luna.provider.errors", "Failed AI backend requests."},
		{&m.BackendTransitions, "luna.backend.transitions", "Circuit breaker state changes of hosted backends."},
		{&m.ToolCalls, "luna.tool.calls", "Tool invocations."},
		{&m.ActionDispatches, "luna.action.dispatches", "Post-speech action effects."},
		{&m.CapturedPhrases, "luna.capture.phrases", "Microphone listens by outcome."},
		{&m.DroppedNotifications, "luna.notifications.dropped", "Events dropped for slow subscribers."},
	} {
		var err error
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("observe: counter %s: %w", c.name, err)
		}
	}

	var err error
	if m.QueueDepth, err = meter.Int64UpDownCounter("luna.queue.depth",
		metric.WithDescription("Utterances waiting to be processed."),
	); err != nil {
		return nil, fmt.Errorf("observe: luna.queue.depth: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared instance bound to [otel.GetMeterProvider].
// Call it after [InitProvider] so that the instruments reach the exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is a single string attribute as a measurement option, usable with
// both Record and Add.
func Attr(key, value string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(key, value))
}

func add(ctx context.Context, c metric.Int64Counter, kv ...string) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTurn counts one processed utterance.
func (m *Metrics) RecordTurn(ctx context.Context, source, outcome string) {
	add(ctx, m.Turns, "source", source, "outcome", outcome)
}

// RecordProviderRequest counts one backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	add(ctx, m.ProviderRequests, "provider", provider, "kind", kind, "status", status)
}

// RecordProviderError counts one failed backend call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	add(ctx, m.ProviderErrors, "provider", provider, "kind", kind)
}

// RecordBackendTransition counts a breaker entering state.
func (m *Metrics) RecordBackendTransition(ctx context.Context, backend, state string) {
	add(ctx, m.BackendTransitions, "backend", backend, "state", state)
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	add(ctx, m.ToolCalls, "tool", tool, "status", status)
}

// RecordAction counts one dispatched action effect.
func (m *Metrics) RecordAction(ctx context.Context, action, status string) {
	add(ctx, m.ActionDispatches, "action", action, "status", status)
}

// RecordPhrase counts the outcome of one background or manual listen.
func (m *Metrics) RecordPhrase(ctx context.Context, mode, outcome string) {
	add(ctx, m.CapturedPhrases, "mode", mode, "outcome", outcome)
}

// RecordDroppedNotification counts an event a subscriber had no room for.
func (m *Metrics) RecordDroppedNotification(ctx context.Context, kind string) {
	add(ctx, m.DroppedNotifications, "kind", kind)
}
