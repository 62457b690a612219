// Package beep implements [audio.Speaker] using github.com/faiface/beep.
//
// The beep speaker is process-global and is initialised once at the
// configured output rate. Streams in any other format are converted to mono
// at that rate before playback.
package beep

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	beeplib "github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/MrWong99/luna/pkg/audio"
)

// Speaker plays PCM streams through the default output device.
type Speaker struct {
	rate beeplib.SampleRate

	// one Play at a time; beep mixes concurrent streamers otherwise.
	playMu sync.Mutex
}

var _ audio.Speaker = (*Speaker)(nil)

// New initialises the output device at sampleRate with a 100ms buffer.
func New(sampleRate int) (*Speaker, error) {
	sr := beeplib.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("beep: init speaker: %w", err)
	}
	return &Speaker{rate: sr}, nil
}

// Play implements [audio.Speaker].
func (s *Speaker) Play(ctx context.Context, chunks <-chan []byte, f audio.Format) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	st := newChunkStreamer()
	done := make(chan struct{})
	speaker.Play(beeplib.Seq(st, beeplib.Callback(func() { close(done) })))

	go func() {
		for c := range chunks {
			st.push(s.convert(c, f))
		}
		st.finish()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		st.finish()
		return ctx.Err()
	}
}

func (s *Speaker) convert(pcm []byte, f audio.Format) []byte {
	if f.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return audio.ResampleMono16(pcm, f.SampleRate, int(s.rate))
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	speaker.Clear()
	speaker.Close()
	return nil
}

// chunkStreamer is a beep.Streamer fed from a goroutine. It emits silence
// while waiting for data so the device never stalls, and ends once finish
// has been called and the buffer is drained.
type chunkStreamer struct {
	mu       sync.Mutex
	buf      []byte
	finished bool
}

func newChunkStreamer() *chunkStreamer { return &chunkStreamer{} }

func (c *chunkStreamer) push(pcm []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, pcm...)
	c.mu.Unlock()
}

func (c *chunkStreamer) finish() {
	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
}

func (c *chunkStreamer) Stream(samples [][2]float64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) < 2 && c.finished {
		return 0, false
	}
	n := 0
	for n < len(samples) && len(c.buf) >= 2 {
		v := float64(int16(binary.LittleEndian.Uint16(c.buf))) / 32768.0
		samples[n][0], samples[n][1] = v, v
		c.buf = c.buf[2:]
		n++
	}
	if c.finished {
		return n, n > 0
	}
	for ; n < len(samples); n++ {
		samples[n][0], samples[n][1] = 0, 0
	}
	return n, true
}

func (c *chunkStreamer) Err() error { return nil }
