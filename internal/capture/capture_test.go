package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/audio/mock"
)

var format = audio.Format{SampleRate: 16000, Channels: 1}

// frame returns 100ms of constant-amplitude PCM.
func frame(amplitude int16) audio.Frame {
	data := make([]byte, 3200)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(amplitude))
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1}
}

func frames(n int, amplitude int16) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = frame(amplitude)
	}
	return out
}

type sink struct {
	mu  sync.Mutex
	got []queue.Utterance
	ch  chan queue.Utterance
	err error
}

func newSink() *sink { return &sink{ch: make(chan queue.Utterance, 16)} }

func (s *sink) Enqueue(u queue.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, u)
	s.ch <- u
	return nil
}

func (s *sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Kinds(k notify.Kind) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

var quietConfig = Config{Ambient: -1, LevelEvery: -1}

func TestBackground_SegmentsPhrase(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.Push(frames(3, 16000)...)
	mic.Push(frames(10, 0)...)
	out := newSink()
	s := New(mic, out, WithConfig(quietConfig))

	if err := s.StartBackground(context.Background()); err != nil {
		t.Fatalf("StartBackground: %v", err)
	}
	defer s.StopBackground()
	if !s.Active() {
		t.Error("Active = false after start")
	}

	select {
	case u := <-out.ch:
		if u.Source != queue.SourceVoice {
			t.Errorf("Source = %q, want voice", u.Source)
		}
		// 3 loud frames plus 800ms of trailing silence.
		if got, want := len(u.Audio.Data), 11*3200; got != want {
			t.Errorf("clip bytes = %d, want %d", got, want)
		}
		if u.Audio.SampleRate != 16000 {
			t.Errorf("SampleRate = %d", u.Audio.SampleRate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance enqueued")
	}
}

func TestBackground_PhraseLimit(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.Push(frames(25, 12000)...)
	out := newSink()
	cfg := quietConfig
	cfg.PhraseLimit = time.Second
	s := New(mic, out, WithConfig(cfg))

	_ = s.StartBackground(context.Background())
	defer s.StopBackground()

	for i := range 2 {
		select {
		case u := <-out.ch:
			if d := u.Audio.Duration(); d != time.Second {
				t.Errorf("phrase %d duration = %v, want 1s", i, d)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("phrase %d not enqueued", i)
		}
	}
}

func TestBackground_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(mock.NewMicrophone(format), newSink(), WithConfig(quietConfig))
	_ = s.StartBackground(context.Background())
	_ = s.StartBackground(context.Background())
	s.StopBackground()
	s.StopBackground()
	if s.Active() {
		t.Error("Active = true after stop")
	}
}

func TestBackground_ReadErrorStops(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.ReadErr = errors.New("device unplugged")
	rec := &recorder{}
	s := New(mic, newSink(), WithConfig(quietConfig), WithNotifier(rec))

	_ = s.StartBackground(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for s.Active() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Active() {
		t.Fatal("background still active after read error")
	}
	if len(rec.Kinds(notify.KindNotice)) == 0 {
		t.Error("no notice published")
	}
	s.StopBackground()
}

func TestBackground_ReadErrorReportsFailure(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.ReadErr = errors.New("device unplugged")
	s := New(mic, newSink(), WithConfig(quietConfig))
	failed := make(chan error, 1)
	s.OnFailure(func(err error) { failed <- err })

	_ = s.StartBackground(context.Background())
	select {
	case err := <-failed:
		if !errors.Is(err, mic.ReadErr) {
			t.Errorf("failure = %v, want %v", err, mic.ReadErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback not called")
	}
	if s.Active() {
		t.Error("background still active after failure")
	}
}

func TestBackground_StopDoesNotReportFailure(t *testing.T) {
	t.Parallel()

	s := New(mock.NewMicrophone(format), newSink(), WithConfig(quietConfig))
	called := false
	s.OnFailure(func(error) { called = true })

	_ = s.StartBackground(context.Background())
	s.StopBackground()
	s.mu.Lock()
	defer s.mu.Unlock()
	if called {
		t.Error("failure callback called for a requested stop")
	}
}

func TestCaptureOnce_RejectedDuringBackground(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	out := newSink()
	rec := &recorder{}
	s := New(mic, out, WithConfig(quietConfig), WithNotifier(rec))
	_ = s.StartBackground(context.Background())
	defer s.StopBackground()

	err := s.CaptureOnce(context.Background())
	if !errors.Is(err, ErrBackgroundActive) {
		t.Fatalf("CaptureOnce = %v, want ErrBackgroundActive", err)
	}
	notices := rec.Kinds(notify.KindNotice)
	if len(notices) != 1 || notices[0].Text != NoticeManualSkipped {
		t.Errorf("notices = %+v", notices)
	}
	if out.Len() != 0 {
		t.Error("utterance enqueued by rejected manual capture")
	}
}

func TestCaptureOnce_Phrase(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.Push(frames(2, 0)...)
	mic.Push(frames(4, 16000)...)
	mic.Push(frames(8, 0)...)
	out := newSink()
	s := New(mic, out, WithConfig(quietConfig))

	if err := s.CaptureOnce(context.Background()); err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("enqueued %d utterances, want 1", out.Len())
	}
	if got := len(out.got[0].Audio.Data); got != 12*3200 {
		t.Errorf("clip bytes = %d, want %d", got, 12*3200)
	}
}

func TestCaptureOnce_TimeoutIsSilent(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.Push(frames(61, 0)...)
	out := newSink()
	s := New(mic, out, WithConfig(quietConfig))

	if err := s.CaptureOnce(context.Background()); err != nil {
		t.Fatalf("CaptureOnce = %v, want nil on timeout", err)
	}
	if out.Len() != 0 {
		t.Error("utterance enqueued after timeout")
	}
}

func TestCaptureOnce_RecordsOutcome(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}

	speech := mock.NewMicrophone(format)
	speech.Push(frames(4, 16000)...)
	speech.Push(frames(8, 0)...)
	silence := mock.NewMicrophone(format)
	silence.Push(frames(61, 0)...)

	for _, mic := range []*mock.Microphone{speech, silence} {
		s := New(mic, newSink(), WithConfig(quietConfig), WithMetrics(m))
		if err := s.CaptureOnce(context.Background()); err != nil {
			t.Fatalf("CaptureOnce: %v", err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "luna.capture.phrases" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				got[outcome.AsString()] += dp.Value
			}
		}
	}
	if got["queued"] != 1 || got["timeout"] != 1 {
		t.Errorf("phrase outcomes = %v, want one queued and one timeout", got)
	}
}

func TestCaptureOnce_StalledDevice(t *testing.T) {
	t.Parallel()

	cfg := quietConfig
	cfg.ManualTimeout = 20 * time.Millisecond
	cfg.PhraseLimit = 20 * time.Millisecond
	s := New(mock.NewMicrophone(format), newSink(), WithConfig(cfg))

	start := time.Now()
	if err := s.CaptureOnce(context.Background()); err != nil {
		t.Fatalf("CaptureOnce = %v, want nil", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("CaptureOnce did not honour its deadline")
	}
}

func TestCalibrate_RaisesThreshold(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.Push(frames(5, 3277)...)
	s := New(mic, newSink(), WithConfig(Config{Ambient: 500 * time.Millisecond, LevelEvery: -1}))

	s.calibrate(context.Background())
	if s.threshold < 0.14 || s.threshold > 0.16 {
		t.Errorf("threshold = %v, want about 0.15", s.threshold)
	}
}

func TestLevels_Published(t *testing.T) {
	t.Parallel()

	mic := mock.NewMicrophone(format)
	mic.Push(frames(4, 16000)...)
	mic.Push(frames(8, 0)...)
	rec := &recorder{}
	s := New(mic, newSink(), WithConfig(Config{Ambient: -1, LevelEvery: 1}), WithNotifier(rec))

	if err := s.CaptureOnce(context.Background()); err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	levels := rec.Kinds(notify.KindLevels)
	if len(levels) != 12 {
		t.Fatalf("level samples = %d, want 12", len(levels))
	}
	if n := len(levels[0].Levels); n != audio.LevelBands {
		t.Errorf("bands = %d, want %d", n, audio.LevelBands)
	}
}
