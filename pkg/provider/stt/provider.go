// Package stt defines the Recognizer contract for speech-to-text backends.
//
// A Recognizer turns one captured [audio.Clip] into text. Failures are
// classified so the command processor can react differently to each:
//
//   - [ErrNoSpeech]: the clip held no speech. Callers stay silent.
//   - [ErrUnintelligible]: speech was present but could not be transcribed.
//   - any other error: the recognition service failed.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/MrWong99/luna/pkg/audio"
)

var (
	// ErrNoSpeech is returned when a clip contains no speech at all.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrUnintelligible is returned when speech was detected but produced no
	// usable transcript.
	ErrUnintelligible = errors.New("stt: speech unintelligible")
)

// Recognizer is the abstraction over any speech-to-text backend.
type Recognizer interface {
	// Recognize transcribes clip. It returns trimmed, non-empty text or one
	// of the errors described in the package documentation.
	Recognize(ctx context.Context, clip audio.Clip) (string, error)
}

// IsServiceError reports whether err is a recognition service failure rather
// than one of the classification sentinels.
func IsServiceError(err error) bool {
	return err != nil && !errors.Is(err, ErrNoSpeech) && !errors.Is(err, ErrUnintelligible)
}

// markerRe matches non-speech annotations emitted by whisper-family engines,
// e.g. "[BLANK_AUDIO]", "(silence)" or "[Music]".
var markerRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// CleanTranscript strips non-speech markers from raw engine output. It
// returns ErrNoSpeech when the output consisted only of markers and
// ErrUnintelligible when it was empty.
func CleanTranscript(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrUnintelligible
	}
	text := strings.Join(strings.Fields(markerRe.ReplaceAllString(trimmed, " ")), " ")
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
