package audio_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/luna/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{0, 1000, -1000, 32767, -32768, 42})

	wavData := audio.EncodeWAV(pcm, 16000, 1)
	if string(wavData[0:4]) != "RIFF" || string(wavData[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic")
	}

	got, format, err := audio.DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if diff := cmp.Diff(audio.Format{SampleRate: 16000, Channels: 1}, format); diff != "" {
		t.Errorf("format mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(bytesToSamples(pcm), bytesToSamples(got)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()
	_, _, err := audio.DecodeWAV([]byte("definitely not a wav file, just text"))
	if !errors.Is(err, audio.ErrInvalidWAV) {
		t.Errorf("err = %v, want ErrInvalidWAV", err)
	}
}
