package audio_test

import (
	"testing"

	"github.com/MrWong99/luna/pkg/audio"
)

func TestComputeLevels_Silence(t *testing.T) {
	t.Parallel()
	lv := audio.ComputeLevels(make([]byte, 2048), audio.LevelBands)
	if len(lv) != audio.LevelBands {
		t.Fatalf("len = %d, want %d", len(lv), audio.LevelBands)
	}
	for i, v := range lv {
		if v != 0 {
			t.Errorf("band %d = %f, want 0", i, v)
		}
	}
}

func TestComputeLevels_Tone(t *testing.T) {
	t.Parallel()
	lv := audio.ComputeLevels(sine(1000, 16000, 1024), audio.LevelBands)

	var peak float64
	for i, v := range lv {
		if v < 0 || v > 1 {
			t.Errorf("band %d = %f, outside [0,1]", i, v)
		}
		peak = max(peak, v)
	}
	if peak < 0.99 {
		t.Errorf("peak band = %f, want ~1 for a pure tone", peak)
	}
}

func TestComputeLevels_DefaultBands(t *testing.T) {
	t.Parallel()
	if got := len(audio.ComputeLevels(nil, 0)); got != audio.LevelBands {
		t.Errorf("len = %d, want %d", got, audio.LevelBands)
	}
}
