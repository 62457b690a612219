package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// SynthesizerFallback implements [tts.Provider] with failover across several
// synthesis backends. All backends must emit the same [audio.Format] so the
// speaker can be configured once.
type SynthesizerFallback struct {
	group  *FallbackGroup[tts.Provider]
	format audio.Format
}

var _ tts.Provider = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend.
func NewSynthesizerFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group:  NewFallbackGroup(primary, primaryName, cfg),
		format: primary.Format(),
	}
}

// AddFallback registers an additional synthesizer. It fails when p's output
// format differs from the primary's.
func (f *SynthesizerFallback) AddFallback(name string, p tts.Provider) error {
	if got := p.Format(); got != f.format {
		return fmt.Errorf("resilience: synthesizer %q emits %+v, want %+v", name, got, f.format)
	}
	f.group.AddFallback(name, p)
	return nil
}

// Healthy reports whether any backend would currently be tried.
func (f *SynthesizerFallback) Healthy() error { return f.group.Healthy() }

// Synthesize starts a stream on the first healthy backend. Only stream setup
// is covered by failover.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// Format implements [tts.Provider].
func (f *SynthesizerFallback) Format() audio.Format { return f.format }
