// Package listening owns the assistant's listening state and is the only
// component that coordinates capture, the command queue and speech output.
package listening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/notify"
)

// State is the externally visible listening state.
type State int

const (
	Idle State = iota
	ListeningBackground
	ListeningManual
	Speaking
	Muted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ListeningBackground:
		return "listening_background"
	case ListeningManual:
		return "listening_manual"
	case Speaking:
		return "speaking"
	case Muted:
		return "muted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Capturer is the part of [capture.Scheduler] the machine drives.
type Capturer interface {
	StartBackground(ctx context.Context) error
	StopBackground()
	CaptureOnce(ctx context.Context) error
	Active() bool
}

// Clearer discards queued work. [queue.Queue] implements it.
type Clearer interface {
	Clear() int
}

// MuteStore persists the mute flag.
type MuteStore interface {
	Muted(ctx context.Context) bool
	SetMuted(ctx context.Context, muted bool) error
}

// Machine is the listening state machine. All methods are safe for
// concurrent use.
type Machine struct {
	capture Capturer
	queue   Clearer
	store   MuteStore
	notify  notify.Publisher

	// op serializes whole user-facing transitions (start, mute, unmute,
	// manual request) including the capture and store calls they make.
	op sync.Mutex

	mu       sync.Mutex
	manual   sync.WaitGroup
	speaking int

	// base is the state without the speaking overlay.
	base State

	// runCtx scopes background and manual capture to the lifetime set by
	// Start.
	runCtx       context.Context
	manualCancel context.CancelFunc
}

// New creates a machine in [Idle].
func New(c Capturer, q Clearer, store MuteStore, p notify.Publisher) *Machine {
	if p == nil {
		p = notify.Discard
	}
	return &Machine{capture: c, queue: q, store: store, notify: p, base: Idle, runCtx: context.Background()}
}

// State returns the current state. Speaking overlays whatever state was
// active when the speech began.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

func (m *Machine) current() State {
	if m.speaking > 0 {
		return Speaking
	}
	return m.base
}

// Start enters [Muted] when the persisted flag says so, otherwise starts
// background capture. ctx bounds every capture the machine starts later.
func (m *Machine) Start(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if m.store.Muted(ctx) {
		m.transition(ctx, func() { m.base = Muted })
		return nil
	}
	return m.resume(ctx)
}

func (m *Machine) resume(ctx context.Context) error {
	m.mu.Lock()
	runCtx := m.runCtx
	m.mu.Unlock()

	if err := m.capture.StartBackground(runCtx); err != nil {
		m.notify.Publish(ctx, notify.Notice(fmt.Sprintf("Cannot start background listening: %v", err)))
		return fmt.Errorf("listening: start background: %w", err)
	}
	m.transition(ctx, func() { m.base = ListeningBackground })
	if !m.capture.Active() {
		// The worker failed before the state was set, so its report was
		// ignored.
		m.CaptureFailed(errors.New("background capture ended during start"))
	}
	return nil
}

// Mute stops background capture, discards queued utterances and persists
// the flag. A turn already being processed runs to completion.
func (m *Machine) Mute(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	return m.mute(ctx)
}

func (m *Machine) mute(ctx context.Context) error {
	m.mu.Lock()
	if m.base == Muted {
		m.mu.Unlock()
		return nil
	}
	cancelManual := m.manualCancel
	m.mu.Unlock()

	if cancelManual != nil {
		cancelManual()
	}
	m.capture.StopBackground()
	dropped := m.queue.Clear()
	if dropped > 0 {
		slog.Info("listening: discarded queued utterances", "count", dropped)
	}
	m.transition(ctx, func() { m.base = Muted })
	if err := m.store.SetMuted(ctx, true); err != nil {
		return fmt.Errorf("listening: persist mute: %w", err)
	}
	return nil
}

// Unmute clears the persisted flag and resumes background capture.
func (m *Machine) Unmute(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	return m.unmute(ctx)
}

func (m *Machine) unmute(ctx context.Context) error {
	m.mu.Lock()
	paused := m.base == Muted || m.base == Idle
	m.mu.Unlock()
	if !paused {
		return nil
	}
	if err := m.store.SetMuted(ctx, false); err != nil {
		return fmt.Errorf("listening: persist unmute: %w", err)
	}
	return m.resume(ctx)
}

// ToggleMute mutes when listening and unmutes otherwise. It returns the
// new muted flag.
func (m *Machine) ToggleMute(ctx context.Context) (bool, error) {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	muted := m.base == Muted
	m.mu.Unlock()
	if muted {
		return false, m.unmute(ctx)
	}
	return true, m.mute(ctx)
}

// RequestManual starts a one-shot capture in the background and returns
// immediately. It fails with [capture.ErrBackgroundActive] while background
// listening is on, leaving the state unchanged.
func (m *Machine) RequestManual(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	switch m.base {
	case ListeningBackground:
		m.mu.Unlock()
		m.notify.Publish(ctx, notify.Notice(capture.NoticeManualSkipped))
		return capture.ErrBackgroundActive
	case ListeningManual:
		m.mu.Unlock()
		return capture.ErrBusy
	}
	prev := m.base
	m.base = ListeningManual
	runCtx, cancel := context.WithCancel(m.runCtx)
	m.manualCancel = cancel
	m.manual.Add(1)
	state := m.current()
	m.mu.Unlock()
	m.notify.Publish(ctx, notify.State(state.String()))

	go func() {
		defer m.manual.Done()
		defer cancel()
		err := m.capture.CaptureOnce(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("listening: manual capture failed", "err", err)
		}
		m.transition(context.WithoutCancel(runCtx), func() {
			m.manualCancel = nil
			if m.base == ListeningManual {
				m.base = prev
			}
		})
	}()
	return nil
}

// CaptureFailed records that background capture stopped on its own after a
// device error. The machine drops to [Idle] so a manual capture or an
// unmute can try the microphone again. It is a no-op in any other state.
//
// It only takes the state lock, so the scheduler may call it while holding
// its own lock.
func (m *Machine) CaptureFailed(err error) {
	slog.Warn("listening: background capture lost", "err", err)
	m.transition(context.Background(), func() {
		if m.base == ListeningBackground {
			m.base = Idle
		}
	})
}

// BeginSpeaking enters [Speaking] until the returned restore function is
// called. Restore returns to the state active before speech, or to any
// state entered meanwhile (e.g. [Muted]). Calling restore twice is safe.
func (m *Machine) BeginSpeaking() (restore func()) {
	ctx := context.Background()
	m.transition(ctx, func() { m.speaking++ })
	var once sync.Once
	return func() {
		once.Do(func() { m.transition(ctx, func() { m.speaking-- }) })
	}
}

// Wait blocks until a running manual capture has finished.
func (m *Machine) Wait() { m.manual.Wait() }

// Stop halts background capture and waits for a manual capture.
func (m *Machine) Stop() {
	m.capture.StopBackground()
	m.manual.Wait()
}

// transition applies fn under the lock and publishes the state if it
// changed.
func (m *Machine) transition(ctx context.Context, fn func()) {
	m.mu.Lock()
	before := m.current()
	fn()
	after := m.current()
	m.mu.Unlock()
	if before != after {
		slog.Debug("listening: state change", "from", before.String(), "to", after.String())
		m.notify.Publish(ctx, notify.State(after.String()))
	}
}
