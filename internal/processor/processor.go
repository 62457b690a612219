// Package processor runs conversational turns. A single long-lived worker
// drains the command queue and, for each utterance, recognises speech,
// routes the command, announces and speaks the reply and finally runs the
// action's effect. The next utterance is not started before the current
// turn has finished speaking.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/luna/internal/intent"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/internal/router"
	"github.com/MrWong99/luna/internal/settings"
	"github.com/MrWong99/luna/internal/shortcut"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// DefaultPollInterval bounds each wait on the queue so the worker notices
// shutdown promptly.
const DefaultPollInterval = 500 * time.Millisecond

// Farewell is spoken before a voice shortcut shuts the assistant down.
const Farewell = "Shutting down. Goodbye."

// DefaultShortcuts end the session without consulting a backend.
var DefaultShortcuts = []string{"shutdown yourself", "stop listening"}

// Notices shown when recognition fails.
const (
	NoticeUnintelligible = "Could not understand audio."
	noticeServiceError   = "STT request failed: %v"
)

// Outcome summarises how a turn ended.
type Outcome string

const (
	OutcomeNoSpeech          Outcome = "no_speech"
	OutcomeRecognitionFailed Outcome = "recognition_failed"
	OutcomeShortcut          Outcome = "shortcut"
	OutcomeReplied           Outcome = "replied"
	OutcomeActionFailed      Outcome = "action_failed"
	OutcomeEmpty             Outcome = "empty"
)

// Turn is the transient record of one processed utterance. Failure holds
// the message spoken when the action's effect failed.
type Turn struct {
	Utterance queue.Utterance
	Text      string
	Intent    intent.Intent
	Failure   string
	Outcome   Outcome
}

// Source yields utterances. [queue.Queue] implements it.
type Source interface {
	Dequeue(ctx context.Context, wait time.Duration) (queue.Utterance, bool)
	Closed() bool
}

// Router resolves a command into an intent.
type Router interface {
	Route(ctx context.Context, command string, cfg router.ProviderConfig) intent.Intent
}

// Dispatcher runs the effect of an intent and returns a failure message or
// the empty string.
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.Intent) string
}

// Speaking brackets speech output. [listening.Machine] implements it.
type Speaking interface {
	BeginSpeaking() (restore func())
}

// Settings is the per-turn configuration snapshot source.
type Settings interface {
	Provider(ctx context.Context) settings.Provider
	UserName(ctx context.Context) string
	AssistantName(ctx context.Context) string
}

// Deps are the collaborators of a [Processor]. All fields except Notifier
// and Speaking are required.
type Deps struct {
	Source     Source
	Recognizer stt.Recognizer
	Router     Router
	Dispatcher Dispatcher
	Synth      tts.Provider
	Speaker    audio.Speaker
	Settings   Settings
	Speaking   Speaking
	Notifier   notify.Publisher
}

// Processor is the sequential turn worker.
type Processor struct {
	deps     Deps
	poll     time.Duration
	shutdown func()
	levels   bool
	metrics  *observe.Metrics

	// mu guards the hot-reloadable fields below.
	mu        sync.RWMutex
	voice     tts.Voice
	shortcuts *shortcut.Matcher
}

// Option configures a [Processor].
type Option func(*Processor)

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithVoice selects the synthesis voice.
func WithVoice(v tts.Voice) Option {
	return func(p *Processor) { p.voice = v }
}

// WithShortcuts replaces [DefaultShortcuts]. An empty list disables them.
func WithShortcuts(phrases []string) Option {
	return func(p *Processor) { p.shortcuts = shortcut.New(phrases) }
}

// WithShutdown is called after the farewell of a voice shortcut.
func WithShutdown(fn func()) Option {
	return func(p *Processor) { p.shutdown = fn }
}

// WithSpeechLevels publishes level samples of synthesised audio.
func WithSpeechLevels(on bool) Option {
	return func(p *Processor) { p.levels = on }
}

// WithMetrics records stage and turn metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New validates deps and creates a processor.
func New(deps Deps, opts ...Option) (*Processor, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"Source":     deps.Source != nil,
		"Recognizer": deps.Recognizer != nil,
		"Router":     deps.Router != nil,
		"Dispatcher": deps.Dispatcher != nil,
		"Synth":      deps.Synth != nil,
		"Speaker":    deps.Speaker != nil,
		"Settings":   deps.Settings != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("processor: missing %s", strings.Join(missing, ", "))
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Speaking == nil {
		deps.Speaking = noSpeaking{}
	}
	p := &Processor{
		deps:      deps,
		poll:      DefaultPollInterval,
		shortcuts: shortcut.New(DefaultShortcuts),
		shutdown:  func() {},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run processes utterances until ctx is cancelled or the source is closed
// and drained.
func (p *Processor) Run(ctx context.Context) error {
	observe.Logger(ctx).Info("processor: started")
	defer observe.Logger(ctx).Info("processor: stopped")
	for ctx.Err() == nil {
		u, ok := p.deps.Source.Dequeue(ctx, p.poll)
		if !ok {
			if p.deps.Source.Closed() {
				return nil
			}
			continue
		}
		p.Handle(ctx, u)
	}
	return nil
}

// Handle runs one turn to completion.
func (p *Processor) Handle(ctx context.Context, u queue.Utterance) Turn {
	ctx = observe.WithTurn(ctx, u.ID.String())
	ctx, span := observe.StartSpan(ctx, "processor.turn",
		trace.WithAttributes(
			attribute.String("utterance.id", u.ID.String()),
			attribute.String("utterance.source", string(u.Source)),
		))
	defer span.End()

	start := time.Now()
	turn := p.turn(ctx, u)
	span.SetAttributes(attribute.String("turn.outcome", string(turn.Outcome)))

	if p.metrics != nil {
		p.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
			observe.Attr("outcome", string(turn.Outcome)))
		p.metrics.RecordTurn(ctx, string(u.Source), string(turn.Outcome))
	}
	observe.Logger(ctx).Info("processor: turn finished",
		"source", string(u.Source),
		"outcome", string(turn.Outcome),
		"action", turn.Intent.Action.String(),
		"duration", time.Since(start),
	)
	return turn
}

func (p *Processor) turn(ctx context.Context, u queue.Utterance) Turn {
	t := Turn{Utterance: u}

	text, err := p.recognize(ctx, u)
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		t.Outcome = OutcomeNoSpeech
		return t
	case errors.Is(err, stt.ErrUnintelligible):
		p.deps.Notifier.Publish(ctx, notify.Notice(NoticeUnintelligible))
		t.Outcome = OutcomeRecognitionFailed
		return t
	case err != nil:
		observe.Logger(ctx).Warn("processor: recognition failed", "err", err)
		p.deps.Notifier.Publish(ctx, notify.Notice(fmt.Sprintf(noticeServiceError, err)))
		t.Outcome = OutcomeRecognitionFailed
		return t
	}
	t.Text = text
	if text == "" {
		t.Outcome = OutcomeEmpty
		return t
	}
	p.deps.Notifier.Publish(ctx, notify.User(text))

	if p.isShortcut(ctx, text) {
		t.Outcome = OutcomeShortcut
		p.reply(ctx, Farewell)
		p.shutdown()
		return t
	}

	cfg := router.ConfigFrom(p.deps.Settings.Provider(ctx))
	t.Intent = p.deps.Router.Route(ctx, text, cfg)
	p.reply(ctx, t.Intent.Reply)

	if t.Intent.Failed {
		// The reply already reported the tool failure.
		t.Failure = t.Intent.Reply
		t.Outcome = OutcomeActionFailed
		return t
	}
	t.Outcome = OutcomeReplied
	if msg := p.deps.Dispatcher.Dispatch(ctx, t.Intent); msg != "" {
		t.Failure = msg
		t.Outcome = OutcomeActionFailed
		p.reply(ctx, msg)
	}
	return t
}

func (p *Processor) recognize(ctx context.Context, u queue.Utterance) (string, error) {
	if u.Source == queue.SourceTyped {
		return strings.TrimSpace(u.Text), nil
	}
	if u.Audio.Empty() {
		return "", stt.ErrNoSpeech
	}

	ctx, span := observe.StartSpan(ctx, "processor.recognize")
	defer span.End()
	start := time.Now()
	text, err := p.deps.Recognizer.Recognize(ctx, u.Audio)
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if stt.IsServiceError(err) {
			status = "error"
		}
		p.metrics.RecordProviderRequest(ctx, "stt", "stt", status)
	}
	return strings.TrimSpace(text), err
}

// SetVoice replaces the synthesis voice for subsequent replies.
func (p *Processor) SetVoice(v tts.Voice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voice = v
}

// SetShortcuts replaces the shutdown phrases. An empty list disables them.
func (p *Processor) SetShortcuts(phrases []string) {
	m := shortcut.New(phrases)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shortcuts = m
}

func (p *Processor) currentVoice() tts.Voice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voice
}

func (p *Processor) isShortcut(ctx context.Context, text string) bool {
	p.mu.RLock()
	m := p.shortcuts
	p.mu.RUnlock()
	phrase, conf, ok := m.Match(text)
	if ok {
		observe.Logger(ctx).Debug("processor: shortcut matched", "phrase", phrase, "confidence", conf)
	}
	return ok
}

// reply announces text and speaks it. Speech failures are reported and
// otherwise ignored.
func (p *Processor) reply(ctx context.Context, text string) {
	ev := notify.Reply(text)
	ev.From = settings.NiceName(p.deps.Settings.AssistantName(ctx), settings.DefaultAssistantName)
	p.deps.Notifier.Publish(ctx, ev)
	if err := p.Speak(ctx, text); err != nil && ctx.Err() == nil {
		observe.Logger(ctx).Warn("processor: speech failed", "err", err)
		p.deps.Notifier.Publish(ctx, notify.Notice(fmt.Sprintf("Speech failed: %v", err)))
	}
}

// Greet announces and speaks the start-up greeting.
func (p *Processor) Greet(ctx context.Context) {
	user := p.deps.Settings.UserName(ctx)
	name := settings.NiceName(p.deps.Settings.AssistantName(ctx), settings.DefaultAssistantName)
	p.reply(ctx, fmt.Sprintf("Hi %s. I am %s, your personal assistant.", user, name))
}

type noSpeaking struct{}

func (noSpeaking) BeginSpeaking() func() { return func() {} }
