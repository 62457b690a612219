// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one reply into a lazy, finite stream of PCM chunks. The
// stream is one-shot: it is closed by the implementation when synthesis is
// complete, when it fails or when ctx is cancelled. Callers must drain it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/MrWong99/luna/pkg/audio"
)

// ErrEmptyText is returned by Synthesize when there is nothing to speak.
var ErrEmptyText = errors.New("tts: text is empty")

// Voice selects how a reply is spoken.
type Voice struct {
	// ID is the provider-specific voice identifier. Empty means the
	// provider's default voice.
	ID string

	// Speed is a playback rate multiplier; 0 means the provider default.
	Speed float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts synthesising text and returns the audio stream.
	// A non-nil error means the stream could not be started.
	Synthesize(ctx context.Context, text string, voice Voice) (<-chan []byte, error)

	// Format reports the PCM format of every chunk the provider emits.
	Format() audio.Format
}

// SplitSentences splits text at '.', '!' and '?' when followed by
// whitespace or the end of the text. Abbreviations such as "3.14" are not
// split. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	s := text
	for {
		idx := findSentenceBoundary(s)
		if idx < 0 {
			break
		}
		if sentence := strings.TrimSpace(s[:idx+1]); sentence != "" {
			out = append(out, sentence)
		}
		s = s[idx+1:]
	}
	if rest := strings.TrimSpace(s); rest != "" {
		out = append(out, rest)
	}
	return out
}

func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
