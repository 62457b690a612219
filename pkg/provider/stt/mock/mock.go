// Package mock provides a test double for [stt.Recognizer].
//
// Set Text/Err for a fixed answer or RecognizeFunc for per-call behaviour:
//
//	r := &mock.Recognizer{Text: "open firefox"}
//	text, err := r.Recognize(ctx, clip)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	Clip audio.Clip
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Text is returned when Err and RecognizeFunc are unset.
	Text string

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// RecognizeFunc, if set, overrides Text and Err.
	RecognizeFunc func(ctx context.Context, clip audio.Clip) (string, error)

	// RecognizeCalls records every call to Recognize.
	RecognizeCalls []RecognizeCall
}

var _ stt.Recognizer = (*Recognizer)(nil)

// Recognize records the call and returns the configured result.
func (r *Recognizer) Recognize(ctx context.Context, clip audio.Clip) (string, error) {
	r.mu.Lock()
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Clip: clip})
	fn, text, err := r.RecognizeFunc, r.Text, r.Err
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, clip)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Calls returns a copy of the recorded calls.
func (r *Recognizer) Calls() []RecognizeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecognizeCall, len(r.RecognizeCalls))
	copy(out, r.RecognizeCalls)
	return out
}
