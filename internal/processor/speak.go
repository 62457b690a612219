package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/pkg/audio"
)

// Speak synthesises text and plays it, holding the speaking state for the
// whole playback. It returns once playback has finished.
func (p *Processor) Speak(ctx context.Context, text string) error {
	restore := p.deps.Speaking.BeginSpeaking()
	defer restore()

	ctx, span := observe.StartSpan(ctx, "processor.speak")
	defer span.End()
	start := time.Now()

	stream, err := p.deps.Synth.Synthesize(ctx, text, p.currentVoice())
	if err != nil {
		return fmt.Errorf("processor: synthesize: %w", err)
	}
	format := p.deps.Synth.Format()

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.levels {
		stream = p.tee(playCtx, stream, format)
	}
	err = p.deps.Speaker.Play(playCtx, stream, format)
	if p.metrics != nil {
		p.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		go audio.Drain(stream)
		return fmt.Errorf("processor: play: %w", err)
	}
	return nil
}

// tee forwards chunks unchanged and publishes a level sample per chunk.
// When ctx ends early the rest of src is drained.
func (p *Processor) tee(ctx context.Context, src <-chan []byte, f audio.Format) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for chunk := range src {
			pcm := chunk
			if f.Channels == 2 {
				pcm = audio.StereoToMono(chunk)
			}
			p.deps.Notifier.Publish(ctx, notify.LevelsEvent(audio.ComputeLevels(pcm, audio.LevelBands)))
			select {
			case out <- chunk:
			case <-ctx.Done():
				audio.Drain(src)
				return
			}
		}
	}()
	return out
}
