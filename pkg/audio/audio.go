// Package audio defines the audio types and device contracts used by luna.
//
// The two device abstractions are:
//
//   - [Microphone] delivers fixed-size [Frame] values from a capture device.
//   - [Speaker] plays a finite stream of PCM chunks.
//
// Implementations live in adapter packages (audio/portaudio, audio/beep) so
// that the capture scheduler and command processor never touch a device API
// directly. All PCM in this package is little-endian signed 16-bit.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by device methods after Close has been called.
var ErrClosed = errors.New("audio: device closed")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of f for 16-bit samples.
func (f Format) BytesPerSecond() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.SampleRate * ch * 2
}

// Frame is a single block of captured audio.
type Frame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (16000 for speech recognition).
	SampleRate int

	// Channels is 1 for every microphone luna opens.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Clip is one captured utterance: mono PCM at a fixed sample rate.
type Clip struct {
	Data       []byte
	SampleRate int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	samples := len(c.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the clip holds no samples.
func (c Clip) Empty() bool { return len(c.Data) < 2 }

// Microphone is a capture device.
//
// Implementations must tolerate Read and Close being called from different
// goroutines. Only one goroutine reads at a time.
type Microphone interface {
	// Format reports the format of frames returned by Read.
	Format() Format

	// Read blocks until the next frame is available or ctx is done.
	Read(ctx context.Context) (Frame, error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Speaker is a playback device.
type Speaker interface {
	// Play consumes chunks until the channel is closed or ctx is done and
	// returns once the audio has finished playing. Each chunk is PCM in
	// format f.
	Play(ctx context.Context, chunks <-chan []byte, f Format) error

	// Close releases the device.
	Close() error
}

// Drain discards everything left on a synthesis stream so that its producer
// can finish. It returns once ch is closed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
