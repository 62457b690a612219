// Package queue holds utterances waiting for the command processor.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/pkg/audio"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue: closed")

	// ErrFull is returned by Enqueue when a bounded queue is at capacity.
	ErrFull = errors.New("queue: full")
)

// Source tells where an utterance came from.
type Source string

const (
	SourceVoice Source = "voice"
	SourceTyped Source = "typed"
)

// Utterance is one unit of user input. Voice utterances carry Audio; typed
// ones carry Text and skip recognition.
type Utterance struct {
	ID        uuid.UUID
	Source    Source
	Audio     audio.Clip
	Text      string
	CreatedAt time.Time
}

// Voice builds a voice utterance.
func Voice(clip audio.Clip) Utterance {
	return Utterance{ID: uuid.New(), Source: SourceVoice, Audio: clip, CreatedAt: time.Now()}
}

// Typed builds a typed utterance.
func Typed(text string) Utterance {
	return Utterance{ID: uuid.New(), Source: SourceTyped, Text: text, CreatedAt: time.Now()}
}

// Queue is a thread-safe FIFO of utterances.
type Queue struct {
	mu       sync.Mutex
	items    []Utterance
	capacity int
	closed   bool
	metrics  *observe.Metrics

	// ready is closed and replaced whenever an item arrives or the queue
	// closes.
	ready chan struct{}
}

// Option configures a [Queue].
type Option func(*Queue)

// WithCapacity bounds the queue. Zero or negative means unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithMetrics reports the queue depth.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{ready: make(chan struct{})}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends u. It never blocks.
func (q *Queue) Enqueue(u Utterance) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrFull
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	q.items = append(q.items, u)
	q.depth(1)
	q.signal()
	return nil
}

// Dequeue removes the oldest utterance, waiting up to wait for one to
// arrive. It returns false on timeout, on ctx cancellation and once the
// queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (Utterance, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items[0] = Utterance{}
			q.items = q.items[1:]
			q.depth(-1)
			q.mu.Unlock()
			return u, true
		}
		if q.closed {
			q.mu.Unlock()
			return Utterance{}, false
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return Utterance{}, false
		case <-ctx.Done():
			return Utterance{}, false
		}
	}
}

// Clear discards every pending utterance and returns how many were
// dropped. The backing slice is swapped rather than drained.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.depth(-n)
	return n
}

// Len returns the number of pending utterances.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further Enqueue calls and wakes waiting consumers. Pending
// utterances can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

// signal wakes all waiters. Must be called with q.mu held.
func (q *Queue) signal() {
	close(q.ready)
	q.ready = make(chan struct{})
}

func (q *Queue) depth(delta int) {
	if q.metrics != nil && delta != 0 {
		q.metrics.QueueDepth.Add(context.Background(), int64(delta))
	}
}
