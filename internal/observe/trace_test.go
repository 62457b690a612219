package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a provider recording into memory.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs routes the default logger into a buffer for one test.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "turn")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	_, span := StartSpan(context.Background(), "processor.turn")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "processor.turn" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestTurnID(t *testing.T) {
	ctx := context.Background()
	if got := TurnID(ctx); got != "" {
		t.Errorf("TurnID(background) = %q", got)
	}
	ctx = WithTurn(ctx, "b7c1")
	if got := TurnID(ctx); got != "b7c1" {
		t.Errorf("TurnID = %q, want b7c1", got)
	}
}

func TestLogger(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		wantNot []string
	}{
		{
			name:    "plain",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			wantNot: []string{"trace_id", "turn="},
		},
		{
			name: "turn only",
			ctx: func() (context.Context, func()) {
				return WithTurn(context.Background(), "42"), func() {}
			},
			want:    []string{"turn=42"},
			wantNot: []string{"trace_id"},
		},
		{
			name: "turn and span",
			ctx: func() (context.Context, func()) {
				ctx, span := tp.Tracer("test").Start(WithTurn(context.Background(), "43"), "turn")
				return ctx, func() { span.End() }
			},
			want: []string{"turn=43", "trace_id=", "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t, slog.LevelInfo)
			ctx, done := tt.ctx()
			defer done()

			Logger(ctx).Info("routed")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(out, w) {
					t.Errorf("log %q contains %q", out, w)
				}
			}
		})
	}
}
