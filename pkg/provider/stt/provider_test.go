package stt_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/luna/pkg/provider/stt"
)

func TestCleanTranscript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain", raw: "  open firefox ", want: "open firefox"},
		{name: "blank marker", raw: " [BLANK_AUDIO] ", wantErr: stt.ErrNoSpeech},
		{name: "only annotations", raw: "(silence) [Music]", wantErr: stt.ErrNoSpeech},
		{name: "empty", raw: "   ", wantErr: stt.ErrUnintelligible},
		{name: "marker inside text", raw: "search [inaudible] cats", want: "search cats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := stt.CleanTranscript(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsServiceError(t *testing.T) {
	t.Parallel()
	if stt.IsServiceError(nil) {
		t.Error("nil classified as service error")
	}
	if stt.IsServiceError(fmt.Errorf("wrap: %w", stt.ErrNoSpeech)) {
		t.Error("ErrNoSpeech classified as service error")
	}
	if stt.IsServiceError(stt.ErrUnintelligible) {
		t.Error("ErrUnintelligible classified as service error")
	}
	if !stt.IsServiceError(errors.New("connection refused")) {
		t.Error("transport failure not classified as service error")
	}
}
