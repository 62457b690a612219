package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result, either because it failed or because its breaker was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for every entry of a
// [FallbackGroup]. CircuitBreaker.Name is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered chain of interchangeable backends, each behind
// its own [CircuitBreaker]. Entries must all be added before the group is
// used concurrently.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry that is tried after all previously added ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cfg := fg.cfg.CircuitBreaker
	cfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Execute calls fn with each entry in order until one succeeds. See
// [ExecuteWithResult].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn with each entry of fg in order and returns the
// first successful result. Entries with an open breaker are skipped. An
// error the entry's breaker does not count as a failure ends the chain and
// is returned unwrapped. Otherwise the last error is returned wrapped in
// [ErrAllFailed].
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("backend skipped, circuit open", "backend", e.name)
		case !e.breaker.isFailure(err):
			return zero, err
		default:
			slog.Warn("backend failed, trying next", "backend", e.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.entries))
	for _, e := range fg.entries {
		out = append(out, e.name)
	}
	return out
}

// Healthy returns nil while at least one entry would accept a call.
// Otherwise it returns an error wrapping [ErrAllFailed] that names every
// unavailable entry.
func (fg *FallbackGroup[T]) Healthy() error {
	var open []string
	for _, e := range fg.entries {
		if e.breaker.State() != StateOpen {
			return nil
		}
		open = append(open, e.name)
	}
	return fmt.Errorf("%w: circuits open for %v", ErrAllFailed, open)
}
