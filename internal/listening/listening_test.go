package listening

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/internal/settings"
	"github.com/MrWong99/luna/pkg/audio"
	audiomock "github.com/MrWong99/luna/pkg/audio/mock"
)

type fakeCapture struct {
	mu       sync.Mutex
	active   bool
	starts   int
	stops    int
	manuals  int
	startErr error
	// release, when set, blocks CaptureOnce until closed or ctx is done.
	release chan struct{}
	enqueue func()
	// started and gate, when set, signal that StartBackground was entered
	// and hold it until gate is closed.
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeCapture) StartBackground(context.Context) error {
	f.mu.Lock()
	started, gate := f.started, f.gate
	f.mu.Unlock()
	if started != nil {
		close(started)
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.active = true
	return nil
}

func (f *fakeCapture) StopBackground() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.active = false
}

func (f *fakeCapture) CaptureOnce(ctx context.Context) error {
	f.mu.Lock()
	f.manuals++
	release, enqueue := f.release, f.enqueue
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if enqueue != nil {
		enqueue()
	}
	return nil
}

func (f *fakeCapture) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeCapture) counts() (starts, stops, manuals int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.manuals
}

type states struct {
	mu  sync.Mutex
	got []string
}

func (s *states) Publish(_ context.Context, ev notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, string(ev.Kind)+":"+ev.Text)
}

func (s *states) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func setup(t *testing.T) (*Machine, *fakeCapture, *queue.Queue, *settings.Store, *states) {
	t.Helper()
	fc := &fakeCapture{}
	q := queue.New()
	store := settings.New(&settings.Memory{})
	pub := &states{}
	return New(fc, q, store, pub), fc, q, store, pub
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", m.State(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStart_Listens(t *testing.T) {
	t.Parallel()

	m, fc, _, _, _ := setup(t)
	if m.State() != Idle {
		t.Fatalf("initial state = %v", m.State())
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != ListeningBackground {
		t.Errorf("state = %v, want listening_background", m.State())
	}
	if starts, _, _ := fc.counts(); starts != 1 {
		t.Errorf("StartBackground calls = %d, want 1", starts)
	}
}

func TestStart_HonoursPersistedMute(t *testing.T) {
	t.Parallel()

	m, fc, _, store, _ := setup(t)
	ctx := context.Background()
	_ = store.SetMuted(ctx, true)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != Muted {
		t.Errorf("state = %v, want muted", m.State())
	}
	if starts, _, _ := fc.counts(); starts != 0 {
		t.Errorf("StartBackground calls = %d, want 0", starts)
	}
}

func TestMute_DrainsQueue(t *testing.T) {
	t.Parallel()

	m, fc, q, store, _ := setup(t)
	ctx := context.Background()
	_ = m.Start(ctx)
	for range 3 {
		_ = q.Enqueue(queue.Typed("pending"))
	}

	if err := m.Mute(ctx); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
	if m.State() != Muted {
		t.Errorf("state = %v, want muted", m.State())
	}
	if !store.Muted(ctx) {
		t.Error("mute flag not persisted")
	}
	if _, stops, _ := fc.counts(); stops != 1 {
		t.Errorf("StopBackground calls = %d, want 1", stops)
	}

	if err := m.Mute(ctx); err != nil {
		t.Fatalf("second Mute: %v", err)
	}
	if _, stops, _ := fc.counts(); stops != 1 {
		t.Error("muting twice stopped capture again")
	}
}

func TestToggleMute(t *testing.T) {
	t.Parallel()

	m, fc, _, store, _ := setup(t)
	ctx := context.Background()
	_ = m.Start(ctx)

	muted, err := m.ToggleMute(ctx)
	if err != nil || !muted || m.State() != Muted {
		t.Fatalf("ToggleMute = %v, %v; state %v", muted, err, m.State())
	}
	muted, err = m.ToggleMute(ctx)
	if err != nil || muted || m.State() != ListeningBackground {
		t.Fatalf("ToggleMute = %v, %v; state %v", muted, err, m.State())
	}
	if store.Muted(ctx) {
		t.Error("mute flag still set after unmute")
	}
	if starts, _, _ := fc.counts(); starts != 2 {
		t.Errorf("StartBackground calls = %d, want 2", starts)
	}
}

func TestUnmute_StartFailure(t *testing.T) {
	t.Parallel()

	m, fc, _, _, pub := setup(t)
	fc.startErr = errors.New("no device")
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded despite capture failure")
	}
	if m.State() != Idle {
		t.Errorf("state = %v, want idle", m.State())
	}
	if got := pub.all(); len(got) != 1 || got[0] != "notice:Cannot start background listening: no device" {
		t.Errorf("events = %v", got)
	}
}

func TestRequestManual_RejectedWhileBackground(t *testing.T) {
	t.Parallel()

	m, fc, q, _, pub := setup(t)
	ctx := context.Background()
	_ = m.Start(ctx)

	err := m.RequestManual(ctx)
	if !errors.Is(err, capture.ErrBackgroundActive) {
		t.Fatalf("RequestManual = %v, want ErrBackgroundActive", err)
	}
	if m.State() != ListeningBackground {
		t.Errorf("state changed to %v", m.State())
	}
	if _, _, manuals := fc.counts(); manuals != 0 {
		t.Errorf("CaptureOnce calls = %d, want 0", manuals)
	}
	if q.Len() != 0 {
		t.Error("utterance enqueued")
	}
	events := pub.all()
	if last := events[len(events)-1]; last != "notice:"+capture.NoticeManualSkipped {
		t.Errorf("last event = %q", last)
	}
}

func TestRequestManual_FromMuted(t *testing.T) {
	t.Parallel()

	m, fc, q, store, _ := setup(t)
	ctx := context.Background()
	_ = store.SetMuted(ctx, true)
	_ = m.Start(ctx)

	release := make(chan struct{})
	fc.release = release
	fc.enqueue = func() { _ = q.Enqueue(queue.Typed("manual")) }

	if err := m.RequestManual(ctx); err != nil {
		t.Fatalf("RequestManual: %v", err)
	}
	if m.State() != ListeningManual {
		t.Errorf("state = %v, want listening_manual", m.State())
	}
	if err := m.RequestManual(ctx); !errors.Is(err, capture.ErrBusy) {
		t.Errorf("second RequestManual = %v, want ErrBusy", err)
	}

	close(release)
	m.Wait()
	waitState(t, m, Muted)
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want 1", q.Len())
	}
}

func TestMute_CancelsManual(t *testing.T) {
	t.Parallel()

	m, fc, _, _, _ := setup(t)
	ctx := context.Background()
	fc.release = make(chan struct{})

	if err := m.RequestManual(ctx); err != nil {
		t.Fatalf("RequestManual: %v", err)
	}
	if err := m.Mute(ctx); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	m.Wait()
	if m.State() != Muted {
		t.Errorf("state = %v, want muted", m.State())
	}
}

func TestBeginSpeaking(t *testing.T) {
	t.Parallel()

	m, _, _, _, pub := setup(t)
	ctx := context.Background()
	_ = m.Start(ctx)

	restore := m.BeginSpeaking()
	if m.State() != Speaking {
		t.Fatalf("state = %v, want speaking", m.State())
	}
	restore()
	restore()
	if m.State() != ListeningBackground {
		t.Errorf("state after restore = %v", m.State())
	}

	restore = m.BeginSpeaking()
	_ = m.Mute(ctx)
	if m.State() != Speaking {
		t.Errorf("mute interrupted speaking: %v", m.State())
	}
	restore()
	if m.State() != Muted {
		t.Errorf("state after restore = %v, want muted", m.State())
	}

	want := []string{
		"state:listening_background",
		"state:speaking",
		"state:listening_background",
		"state:speaking",
		"state:muted",
	}
	got := pub.all()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String = %q", got)
	}
}

func TestMute_WaitsForUnmuteInProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, fc, _, store, _ := setup(t)
	if err := store.SetMuted(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	fc.mu.Lock()
	fc.started, fc.gate = make(chan struct{}), make(chan struct{})
	started, gate := fc.started, fc.gate
	fc.mu.Unlock()

	unmuted := make(chan error, 1)
	go func() { unmuted <- m.Unmute(ctx) }()
	<-started

	muted := make(chan error, 1)
	go func() { muted <- m.Mute(ctx) }()
	select {
	case err := <-muted:
		t.Fatalf("Mute returned %v while Unmute was still starting capture", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	if err := <-unmuted; err != nil {
		t.Fatalf("Unmute: %v", err)
	}
	if err := <-muted; err != nil {
		t.Fatalf("Mute: %v", err)
	}

	if got := m.State(); got != Muted {
		t.Errorf("state = %v, want muted", got)
	}
	fc.mu.Lock()
	active := fc.active
	fc.mu.Unlock()
	if active {
		t.Error("background capture still active after the last call was Mute")
	}
	if !store.Muted(ctx) {
		t.Error("stored muted = false, want true")
	}
}

func TestCaptureFailed_ReturnsToIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, fc, _, _, _ := setup(t)
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	m.CaptureFailed(errors.New("device unplugged"))
	if got := m.State(); got != Idle {
		t.Fatalf("state = %v, want idle", got)
	}

	if err := m.RequestManual(ctx); err != nil {
		t.Fatalf("RequestManual after capture failure: %v", err)
	}
	m.Wait()
	if _, _, manuals := fc.counts(); manuals != 1 {
		t.Errorf("CaptureOnce calls = %d, want 1", manuals)
	}
	waitState(t, m, Idle)
}

func TestCaptureFailed_IgnoredWhenMuted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _, _, _, _ := setup(t)
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Mute(ctx); err != nil {
		t.Fatal(err)
	}
	m.CaptureFailed(errors.New("late"))
	if got := m.State(); got != Muted {
		t.Errorf("state = %v, want muted", got)
	}
}

func TestScheduler_DeviceErrorFreesManualCapture(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mic := audiomock.NewMicrophone(audio.Format{SampleRate: 16000, Channels: 1})
	mic.ReadErr = errors.New("device unplugged")
	q := queue.New()
	sched := capture.New(mic, q, capture.WithConfig(capture.Config{Ambient: -1, LevelEvery: -1}))
	m := New(sched, q, settings.New(&settings.Memory{}), nil)
	sched.OnFailure(m.CaptureFailed)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, m, Idle)
	if sched.Active() {
		t.Error("scheduler still active")
	}
	if err := m.RequestManual(ctx); errors.Is(err, capture.ErrBackgroundActive) {
		t.Errorf("RequestManual = %v after the device failed", err)
	}
	m.Stop()
}
