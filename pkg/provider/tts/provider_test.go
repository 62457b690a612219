package tts_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "single", in: "Opening firefox.", want: []string{"Opening firefox."}},
		{name: "two", in: "Hi Soumodeep. I am Luna, your personal assistant.", want: []string{"Hi Soumodeep.", "I am Luna, your personal assistant."}},
		{name: "decimal kept", in: "Pi is 3.14 roughly!", want: []string{"Pi is 3.14 roughly!"}},
		{name: "trailing fragment", in: "Done. and more", want: []string{"Done.", "and more"}},
		{name: "blank", in: "   ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, tts.SplitSentences(tt.in)); diff != "" {
				t.Errorf("SplitSentences mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
