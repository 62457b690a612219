// Package portaudio implements [audio.Microphone] on top of the PortAudio
// default input device.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/luna/pkg/audio"
)

const (
	defaultSampleRate = 16000
	defaultFrameSize  = 1024
)

// Option is a functional option for [New].
type Option func(*Microphone)

// WithSampleRate overrides the capture sample rate (default 16000 Hz).
func WithSampleRate(rate int) Option {
	return func(m *Microphone) { m.rate = rate }
}

// WithFrameSize overrides the number of samples per frame (default 1024).
func WithFrameSize(n int) Option {
	return func(m *Microphone) { m.frameSize = n }
}

// Microphone reads mono 16-bit frames from the default input device.
type Microphone struct {
	rate      int
	frameSize int

	mu      sync.Mutex
	stream  *pa.Stream
	buf     []int16
	read    int64
	closed  bool
}

var _ audio.Microphone = (*Microphone)(nil)

// New initialises PortAudio and opens the default input stream. A failure
// here means the process has no usable microphone.
func New(opts ...Option) (*Microphone, error) {
	m := &Microphone{rate: defaultSampleRate, frameSize: defaultFrameSize}
	for _, o := range opts {
		o(m)
	}
	if m.rate <= 0 || m.frameSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid format rate=%d frame=%d", m.rate, m.frameSize)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	m.buf = make([]int16, m.frameSize)
	stream, err := pa.OpenDefaultStream(1, 0, float64(m.rate), len(m.buf), m.buf)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	m.stream = stream
	return m, nil
}

// Format implements [audio.Microphone].
func (m *Microphone) Format() audio.Format {
	return audio.Format{SampleRate: m.rate, Channels: 1}
}

// Read implements [audio.Microphone]. Each call blocks for one frame period.
func (m *Microphone) Read(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return audio.Frame{}, audio.ErrClosed
	}
	if err := m.stream.Read(); err != nil {
		// Overflow only means samples were dropped; the frame is still usable.
		if !errors.Is(err, pa.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w", err)
		}
	}

	data := make([]byte, len(m.buf)*2)
	for i, s := range m.buf {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	ts := time.Duration(m.read) * time.Second / time.Duration(m.rate)
	m.read += int64(len(m.buf))

	return audio.Frame{Data: data, SampleRate: m.rate, Channels: 1, Timestamp: ts}, nil
}

// Close implements [audio.Microphone].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	if err := m.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("portaudio: stop: %w", err)
	}
	if err := m.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("portaudio: close: %w", err)
	}
	if err := pa.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("portaudio: terminate: %w", err)
	}
	return firstErr
}
