// Package mock provides in-memory implementations of [audio.Microphone] and
// [audio.Speaker] for unit tests.
//
// Both mocks are safe for concurrent use and record what they were asked to
// do so tests can assert on it.
//
// Typical usage:
//
//	mic := mock.NewMicrophone(audio.Format{SampleRate: 16000, Channels: 1})
//	mic.Push(frameA, frameB)
//	spk := &mock.Speaker{}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone] fed through [Microphone.Push].
// When no frame is queued Read blocks until one arrives, ctx is done or the
// microphone is closed.
type Microphone struct {
	format audio.Format
	frames chan audio.Frame
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex

	// ReadErr, when set, is returned by every Read call.
	ReadErr error

	// CallCountRead records how many times Read returned a frame.
	CallCountRead int
}

// NewMicrophone returns a mock microphone reporting format f.
func NewMicrophone(f audio.Format) *Microphone {
	return &Microphone{
		format: f,
		frames: make(chan audio.Frame, 1024),
		done:   make(chan struct{}),
	}
}

// Push queues frames for subsequent Read calls.
func (m *Microphone) Push(frames ...audio.Frame) {
	for _, f := range frames {
		m.frames <- f
	}
}

// Format implements [audio.Microphone].
func (m *Microphone) Format() audio.Format { return m.format }

// Read implements [audio.Microphone].
func (m *Microphone) Read(ctx context.Context) (audio.Frame, error) {
	m.mu.Lock()
	err := m.ReadErr
	m.mu.Unlock()
	if err != nil {
		return audio.Frame{}, err
	}

	select {
	case f := <-m.frames:
		m.mu.Lock()
		m.CallCountRead++
		m.mu.Unlock()
		return f, nil
	case <-m.done:
		return audio.Frame{}, audio.ErrClosed
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Reads returns the number of frames delivered so far.
func (m *Microphone) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountRead
}

// Close implements [audio.Microphone].
func (m *Microphone) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock [audio.Speaker] that collects every chunk it is given.
type Speaker struct {
	mu sync.Mutex

	// PlayErr is returned by Play after the stream has been consumed.
	PlayErr error

	// OnPlay, if set, is called at the start of every Play call.
	OnPlay func()

	// Played holds the concatenated PCM of each Play call, in order.
	Played [][]byte

	// Formats holds the format passed to each Play call.
	Formats []audio.Format

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.Speaker].
func (s *Speaker) Play(ctx context.Context, chunks <-chan []byte, f audio.Format) error {
	s.mu.Lock()
	hook := s.OnPlay
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	var buf []byte
loop:
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				break loop
			}
			buf = append(buf, c...)
		case <-ctx.Done():
			go audio.Drain(chunks)
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Played = append(s.Played, buf)
	s.Formats = append(s.Formats, f)
	return s.PlayErr
}

// Calls returns a copy of the PCM recorded per Play call.
func (s *Speaker) Calls() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Played))
	copy(out, s.Played)
	return out
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
)
