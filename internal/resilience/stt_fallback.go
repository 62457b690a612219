package resilience

import (
	"context"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

// RecognizerFallback implements [stt.Recognizer] with failover across
// several recognition backends. Only service errors trigger failover; "no
// speech" and "unintelligible" are genuine answers and are returned as-is.
type RecognizerFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

var _ stt.Recognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback creates a [RecognizerFallback] with primary as the
// preferred backend. cfg.CircuitBreaker.IsFailure defaults to
// [stt.IsServiceError] minus caller cancellation.
func NewRecognizerFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return stt.IsServiceError(err) && defaultIsFailure(err)
		}
	}
	return &RecognizerFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognizer.
func (f *RecognizerFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// Healthy reports whether any backend would currently be tried.
func (f *RecognizerFallback) Healthy() error { return f.group.Healthy() }

// Recognize transcribes clip with the first healthy backend.
func (f *RecognizerFallback) Recognize(ctx context.Context, clip audio.Clip) (string, error) {
	return ExecuteWithResult(f.group, func(r stt.Recognizer) (string, error) {
		return r.Recognize(ctx, clip)
	})
}
