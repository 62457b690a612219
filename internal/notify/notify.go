// Package notify fans one-way notifications from the workers out to
// presentation subscribers. Publishing never blocks: an event is dropped
// for any subscriber whose buffer is full.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/pkg/audio"
)

// Kind classifies an [Event].
type Kind string

const (
	// KindUser echoes what the user said or typed.
	KindUser Kind = "user"
	// KindReply is the assistant's reply for a turn.
	KindReply Kind = "reply"
	// KindNotice is a diagnostic line, e.g. a recognition failure.
	KindNotice Kind = "notice"
	// KindState reports a listening state change.
	KindState Kind = "state"
	// KindLevels carries one audio-level sample.
	KindLevels Kind = "levels"
)

// Event is a single notification. From names the assistant on replies.
type Event struct {
	Kind   Kind         `json:"kind"`
	Text   string       `json:"text,omitempty"`
	From   string       `json:"from,omitempty"`
	Levels audio.Levels `json:"levels,omitempty"`
	At     time.Time    `json:"at"`
}

// User, Reply, Notice, State and LevelsEvent build events of the matching
// kind.
func User(text string) Event   { return Event{Kind: KindUser, Text: text, At: time.Now()} }
func Reply(text string) Event  { return Event{Kind: KindReply, Text: text, At: time.Now()} }
func Notice(text string) Event { return Event{Kind: KindNotice, Text: text, At: time.Now()} }
func State(name string) Event  { return Event{Kind: KindState, Text: name, At: time.Now()} }
func LevelsEvent(l audio.Levels) Event {
	return Event{Kind: KindLevels, Levels: l, At: time.Now()}
}

// Publisher is implemented by [Hub]. Workers depend on this interface.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// DefaultBuffer is the subscriber buffer used when Subscribe is given a
// non-positive size.
const DefaultBuffer = 64

// Hub is a non-blocking fan-out of events. The zero value is not usable;
// create hubs with [NewHub].
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]chan Event
	next    uint64
	closed  bool
	metrics *observe.Metrics
}

var _ Publisher = (*Hub)(nil)

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics counts dropped events per kind.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub without subscribers.
func NewHub(opts ...Option) *Hub {
	h := &Hub{subs: make(map[uint64]chan Event)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function unsubscribes and closes the channel; it is safe to call
// more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber that has room.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			if h.metrics != nil {
				h.metrics.RecordDroppedNotification(ctx, string(ev.Kind))
			}
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes everyone. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Discard is a [Publisher] that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) {}
