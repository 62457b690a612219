// Package capture owns the microphone. It segments the input stream into
// phrases by RMS energy and turns each phrase into a voice utterance, either
// continuously in the background or once on request.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/pkg/audio"
)

var (
	// ErrBackgroundActive rejects a manual capture while background
	// capture owns the microphone.
	ErrBackgroundActive = errors.New("capture: background listening is active")

	// ErrBusy rejects a manual capture while another one is running.
	ErrBusy = errors.New("capture: manual capture already running")

	// errTimeout marks a listen that heard no speech in time.
	errTimeout = errors.New("capture: listen timed out")
)

// Notices published to the display.
const (
	NoticeManualSkipped = "Always-listen is active, manual capture skipped."
	NoticeManualListen  = "Listening (manual)..."
)

// Config tunes phrase segmentation.
type Config struct {
	// Threshold is the minimum RMS (0..1) that counts as speech.
	Threshold float64

	// Silence is the trailing quiet that ends a phrase.
	Silence time.Duration

	// PhraseLimit caps the length of a single phrase.
	PhraseLimit time.Duration

	// ListenTimeout is how long background capture waits for speech before
	// starting over.
	ListenTimeout time.Duration

	// ManualTimeout is how long a manual capture waits for speech.
	ManualTimeout time.Duration

	// Ambient is the calibration window used to raise Threshold above the
	// room noise before listening. Negative disables calibration.
	Ambient time.Duration

	// LevelEvery publishes one level sample every n frames. Negative
	// disables level samples.
	LevelEvery int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.02,
		Silence:       800 * time.Millisecond,
		PhraseLimit:   8 * time.Second,
		ListenTimeout: 5 * time.Second,
		ManualTimeout: 6 * time.Second,
		Ambient:       500 * time.Millisecond,
		LevelEvery:    2,
	}
}

// Sink receives captured utterances. [queue.Queue] implements it.
type Sink interface {
	Enqueue(u queue.Utterance) error
}

// Scheduler is the sole owner of an [audio.Microphone].
type Scheduler struct {
	mic     audio.Microphone
	sink    Sink
	notify  notify.Publisher
	metrics *observe.Metrics
	cfg     Config

	mu        sync.Mutex
	bgCancel  context.CancelFunc
	bgDone    chan struct{}
	manual    bool
	threshold float64
	onFailure func(error)
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithConfig replaces [DefaultConfig]. Zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(s *Scheduler) {
		d := DefaultConfig()
		if c.Threshold > 0 {
			d.Threshold = c.Threshold
		}
		if c.Silence > 0 {
			d.Silence = c.Silence
		}
		if c.PhraseLimit > 0 {
			d.PhraseLimit = c.PhraseLimit
		}
		if c.ListenTimeout > 0 {
			d.ListenTimeout = c.ListenTimeout
		}
		if c.ManualTimeout > 0 {
			d.ManualTimeout = c.ManualTimeout
		}
		if c.Ambient != 0 {
			d.Ambient = c.Ambient
		}
		if c.LevelEvery != 0 {
			d.LevelEvery = c.LevelEvery
		}
		s.cfg = d
	}
}

// WithNotifier publishes notices and level samples.
func WithNotifier(p notify.Publisher) Option {
	return func(s *Scheduler) { s.notify = p }
}

// WithMetrics counts listen outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// OnFailure registers fn to be told when background capture stops itself
// after a microphone error. fn runs with the scheduler lock held and must
// not call back into the Scheduler.
func (s *Scheduler) OnFailure(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// New creates a scheduler. Nothing is read from mic until a capture starts.
func New(mic audio.Microphone, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{mic: mic, sink: sink, notify: notify.Discard, cfg: DefaultConfig()}
	for _, o := range opts {
		o(s)
	}
	s.threshold = s.cfg.Threshold
	return s
}

// Active reports whether background capture is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bgCancel != nil
}

// StartBackground starts continuous capture. It is a no-op when already
// running and fails with [ErrBusy] while a manual capture holds the
// microphone.
func (s *Scheduler) StartBackground(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bgCancel != nil {
		return nil
	}
	if s.manual {
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.bgCancel, s.bgDone = cancel, done
	go func() {
		defer close(done)
		s.background(ctx, done)
	}()
	slog.Info("capture: background listening started")
	return nil
}

// StopBackground stops continuous capture and waits for the worker to exit.
// A phrase being recorded is discarded.
func (s *Scheduler) StopBackground() {
	s.mu.Lock()
	cancel, done := s.bgCancel, s.bgDone
	s.bgCancel, s.bgDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("capture: background listening stopped")
}

func (s *Scheduler) background(ctx context.Context, done chan struct{}) {
	s.calibrate(ctx)
	for ctx.Err() == nil {
		clip, err := s.listen(ctx, s.cfg.ListenTimeout)
		switch {
		case errors.Is(err, errTimeout):
			s.record(ctx, "background", "timeout")
			continue
		case ctx.Err() != nil:
			return
		case err != nil:
			s.record(ctx, "background", "error")
			slog.Error("capture: background listen failed", "err", err)
			s.notify.Publish(ctx, notify.Notice(fmt.Sprintf("Cannot continue background listening: %v", err)))
			s.mu.Lock()
			if s.bgDone == done {
				s.bgCancel()
				s.bgCancel, s.bgDone = nil, nil
				if s.onFailure != nil {
					s.onFailure(err)
				}
			}
			s.mu.Unlock()
			return
		}
		if err := s.sink.Enqueue(queue.Voice(clip)); err != nil {
			s.record(ctx, "background", "dropped")
			slog.Warn("capture: dropping phrase", "err", err)
			continue
		}
		s.record(ctx, "background", "queued")
	}
}

// CaptureOnce performs a single timed listen and enqueues at most one
// utterance. Hearing nothing before the timeout is not an error.
func (s *Scheduler) CaptureOnce(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.bgCancel != nil:
		s.mu.Unlock()
		s.notify.Publish(ctx, notify.Notice(NoticeManualSkipped))
		return ErrBackgroundActive
	case s.manual:
		s.mu.Unlock()
		return ErrBusy
	}
	s.manual = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.manual = false
		s.mu.Unlock()
	}()

	s.calibrate(ctx)
	s.notify.Publish(ctx, notify.Notice(NoticeManualListen))
	clip, err := s.listen(ctx, s.cfg.ManualTimeout)
	switch {
	case errors.Is(err, errTimeout):
		s.record(ctx, "manual", "timeout")
		return nil
	case err != nil:
		s.record(ctx, "manual", "error")
		s.notify.Publish(ctx, notify.Notice(fmt.Sprintf("Manual capture failed: %v", err)))
		return fmt.Errorf("capture: manual listen: %w", err)
	}
	if err := s.sink.Enqueue(queue.Voice(clip)); err != nil {
		s.record(ctx, "manual", "dropped")
		return err
	}
	s.record(ctx, "manual", "queued")
	return nil
}

func (s *Scheduler) record(ctx context.Context, mode, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPhrase(ctx, mode, outcome)
	}
}

// calibrate raises the speech threshold above the measured room noise.
func (s *Scheduler) calibrate(ctx context.Context) {
	if s.cfg.Ambient <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Ambient+time.Second)
	defer cancel()

	var heard time.Duration
	var peak float64
	for heard < s.cfg.Ambient {
		f, err := s.mic.Read(ctx)
		if err != nil {
			break
		}
		heard += frameDuration(f)
		peak = max(peak, audio.RMS(f.Data))
	}

	th := max(s.cfg.Threshold, peak*1.5)
	s.mu.Lock()
	s.threshold = th
	s.mu.Unlock()
	slog.Debug("capture: calibrated", "ambient_rms", peak, "threshold", th)
}

// listen records one phrase. It waits up to timeout (measured in captured
// audio) for speech to start, then records until Silence of quiet or
// PhraseLimit. The wall clock is bounded as well so a stalled device cannot
// hang the caller.
func (s *Scheduler) listen(ctx context.Context, timeout time.Duration) (audio.Clip, error) {
	s.mu.Lock()
	threshold := s.threshold
	s.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, timeout+s.cfg.PhraseLimit+time.Second)
	defer cancel()

	var (
		buf      []byte
		rate     int
		waited   time.Duration
		length   time.Duration
		quiet    time.Duration
		speaking bool
		frames   int
	)
	for {
		f, err := s.mic.Read(lctx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				if speaking {
					return audio.Clip{Data: buf, SampleRate: rate}, nil
				}
				return audio.Clip{}, errTimeout
			}
			return audio.Clip{}, err
		}
		frames++
		d := frameDuration(f)
		level := audio.RMS(f.Data)
		if s.cfg.LevelEvery > 0 && frames%s.cfg.LevelEvery == 0 {
			s.notify.Publish(ctx, notify.LevelsEvent(audio.ComputeLevels(f.Data, audio.LevelBands)))
		}

		if !speaking {
			if level < threshold {
				waited += d
				if waited >= timeout {
					return audio.Clip{}, errTimeout
				}
				continue
			}
			speaking = true
			rate = f.SampleRate
		}

		buf = append(buf, f.Data...)
		length += d
		if level < threshold {
			quiet += d
		} else {
			quiet = 0
		}
		if quiet >= s.cfg.Silence || length >= s.cfg.PhraseLimit {
			return audio.Clip{Data: buf, SampleRate: rate}, nil
		}
	}
}

func frameDuration(f audio.Frame) time.Duration {
	fm := audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
	bps := fm.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bps)
}
