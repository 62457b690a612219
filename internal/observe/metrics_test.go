package observe

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValues flattens a counter into "k=v,k=v" -> value.
func counterValues(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		var key string
		for i, kv := range dp.Attributes.ToSlice() {
			if i > 0 {
				key += ","
			}
			key += string(kv.Key) + "=" + kv.Value.Emit()
		}
		out[key] += dp.Value
	}
	return out
}

func TestHistograms(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	names := map[string]func(float64){
		"luna.stt.duration":            func(v float64) { m.STTDuration.Record(ctx, v) },
		"luna.route.duration":          func(v float64) { m.RouteDuration.Record(ctx, v) },
		"luna.speech.duration":         func(v float64) { m.SpeechDuration.Record(ctx, v) },
		"luna.turn.duration":           func(v float64) { m.TurnDuration.Record(ctx, v) },
		"luna.tool_execution.duration": func(v float64) { m.ToolExecutionDuration.Record(ctx, v) },
		"luna.http.request.duration":   func(v float64) { m.HTTPRequestDuration.Record(ctx, v) },
	}
	for _, record := range names {
		record(0.123)
		record(0.456)
	}

	rm := collect(t, reader)
	for name := range names {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("metric %q not found", name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Errorf("metric %q: %+v", name, met.Data)
			continue
		}
		if got := hist.DataPoints[0].Count; got != 2 {
			t.Errorf("%s count = %d, want 2", name, got)
		}
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "voice", "ok")
	m.RecordTurn(ctx, "text", "ok")
	m.RecordTurn(ctx, "voice", "ok")
	m.RecordProviderRequest(ctx, "groq", "llm", "ok")
	m.RecordProviderRequest(ctx, "groq", "llm", "error")
	m.RecordProviderError(ctx, "groq", "llm")
	m.RecordBackendTransition(ctx, "groq", "open")
	m.RecordToolCall(ctx, "search_web", "ok")
	m.RecordAction(ctx, "open_app", "ok")
	m.RecordAction(ctx, "open_app", "ok")
	m.RecordPhrase(ctx, "background", "queued")
	m.RecordPhrase(ctx, "manual", "timeout")
	m.RecordDroppedNotification(ctx, "levels")

	rm := collect(t, reader)
	tests := map[string]map[string]int64{
		"luna.turns": {
			"outcome=ok,source=text":  1,
			"outcome=ok,source=voice": 2,
		},
		"luna.provider.requests": {
			"kind=llm,provider=groq,status=error": 1,
			"kind=llm,provider=groq,status=ok":    1,
		},
		"luna.provider.errors":       {"kind=llm,provider=groq": 1},
		"luna.backend.transitions":   {"backend=groq,state=open": 1},
		"luna.tool.calls":            {"status=ok,tool=search_web": 1},
		"luna.action.dispatches":     {"action=open_app,status=ok": 2},
		"luna.notifications.dropped": {"kind=levels": 1},
		"luna.capture.phrases": {
			"mode=background,outcome=queued": 1,
			"mode=manual,outcome=timeout":    1,
		},
	}
	for name, want := range tests {
		if diff := cmp.Diff(want, counterValues(t, rm, name)); diff != "" {
			t.Errorf("%s (-want +got):\n%s", name, diff)
		}
	}
}

func TestQueueDepth(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 3)
	m.QueueDepth.Add(ctx, -1)

	got := counterValues(t, collect(t, reader), "luna.queue.depth")
	if diff := cmp.Diff(map[string]int64{"": 2}, got); diff != "" {
		t.Errorf("queue depth (-want +got):\n%s", diff)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}

func TestAttr_HistogramRecord(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	m.RouteDuration.Record(context.Background(), 0.25, Attr("provider", "groq"))

	met := findMetric(collect(t, reader), "luna.route.duration")
	if met == nil {
		t.Fatal("luna.route.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %#v, want one histogram point", met.Data)
	}
	v, ok := hist.DataPoints[0].Attributes.Value("provider")
	if !ok || v.AsString() != "groq" {
		t.Errorf("provider attribute = %v (present %v), want groq", v.Emit(), ok)
	}
}
