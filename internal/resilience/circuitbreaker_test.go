package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var errTest = errors.New("backend unavailable")

func fail() error { return errTest }
func ok() error   { return nil }

// tripped returns a breaker that has just been opened.
func tripped(t *testing.T, cfg CircuitBreakerConfig) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(cfg)
	for range cb.cfg.MaxFailures {
		_ = cb.Execute(fail)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", cb.cfg.MaxFailures, cb.state)
	}
	return cb
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "groq"})
	if cb.cfg.MaxFailures != DefaultMaxFailures || cb.cfg.ResetTimeout != DefaultResetTimeout || cb.cfg.HalfOpenMax != DefaultHalfOpenMax {
		t.Errorf("config = %+v, want package defaults", cb.cfg)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "groq" {
		t.Errorf("Name = %q", cb.Name())
	}
}

func TestCircuitBreaker_Closed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		calls []func() error
		want  State
	}{
		{"successes", []func() error{ok, ok, ok}, StateClosed},
		{"below threshold", []func() error{fail, fail}, StateClosed},
		{"threshold reached", []func() error{fail, fail, fail}, StateOpen},
		{"success resets count", []func() error{fail, fail, ok, fail, fail}, StateClosed},
		{"cancellation is neutral", []func() error{
			fail, fail,
			func() error { return context.Canceled },
			func() error { return aborted(context.Canceled) },
		}, StateClosed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour})
			for _, fn := range tc.calls {
				_ = cb.Execute(fn)
			}
			if got := cb.State(); got != tc.want {
				t.Errorf("state = %v, want %v", got, tc.want)
			}
		})
	}
}

func aborted(err error) error { return fmt.Errorf("request aborted: %w", err) }

func TestCircuitBreaker_OpenRejects(t *testing.T) {
	t.Parallel()
	cb := tripped(t, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Parallel()
	cfg := CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 2}

	t.Run("reported after timeout", func(t *testing.T) {
		t.Parallel()
		cb := tripped(t, cfg)
		time.Sleep(20 * time.Millisecond)
		if got := cb.State(); got != StateHalfOpen {
			t.Errorf("state = %v, want half-open", got)
		}
	})

	t.Run("probes close", func(t *testing.T) {
		t.Parallel()
		cb := tripped(t, cfg)
		time.Sleep(20 * time.Millisecond)
		for i := range 2 {
			if err := cb.Execute(ok); err != nil {
				t.Fatalf("probe %d: %v", i, err)
			}
		}
		if got := cb.State(); got != StateClosed {
			t.Errorf("state = %v, want closed", got)
		}
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		t.Parallel()
		cb := tripped(t, cfg)
		time.Sleep(20 * time.Millisecond)
		if err := cb.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("err = %v, want probe error", err)
		}
		cb.mu.Lock()
		got := cb.state
		cb.mu.Unlock()
		if got != StateOpen {
			t.Errorf("state = %v, want open", got)
		}
	})

	t.Run("probe budget", func(t *testing.T) {
		t.Parallel()
		cb := tripped(t, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1})
		time.Sleep(20 * time.Millisecond)

		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_ = cb.Execute(func() error { close(started); <-release; return nil })
		}()
		<-started
		if err := cb.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
		}
		close(release)
	})
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := tripped(t, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	type change struct {
		Name     string
		From, To string
	}
	var (
		mu  sync.Mutex
		got []change
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm:groq",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, change{name, from.String(), to.String()})
		},
	})

	_ = cb.Execute(fail)
	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(ok)
	_ = cb.Execute(ok)

	want := []change{
		{"llm:groq", "closed", "open"},
		{"llm:groq", "open", "half-open"},
		{"llm:groq", "half-open", "closed"},
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestRegistry_OneBreakerPerName(t *testing.T) {
	t.Parallel()
	r := NewRegistry(CircuitBreakerConfig{Name: "ignored", MaxFailures: 1, ResetTimeout: time.Hour})
	groq := r.Get("llm:groq")
	if r.Get("llm:groq") != groq {
		t.Fatal("Get returned a different breaker for the same name")
	}
	if groq.Name() != "llm:groq" {
		t.Errorf("Name = %q, want llm:groq", groq.Name())
	}

	_ = groq.Execute(fail)
	if err := r.Get("llm:openai").Execute(ok); err != nil {
		t.Errorf("openai breaker affected by groq: %v", err)
	}
	want := map[string]State{"llm:groq": StateOpen, "llm:openai": StateClosed}
	if diff := cmp.Diff(want, r.States()); diff != "" {
		t.Errorf("States (-want +got):\n%s", diff)
	}
}
