// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
//	ch, _ := p.Synthesize(ctx, "hello", tts.Voice{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted on the stream returned by every Synthesize call.
	Chunks [][]byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// AudioFormat is returned by Format. Defaults to 16 kHz mono.
	AudioFormat audio.Format

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns a closed-when-done stream of Chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	chunks, err := p.Chunks, p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AudioFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.AudioFormat
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}
