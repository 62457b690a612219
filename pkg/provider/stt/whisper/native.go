// This file contains the NativeRecognizer backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

var _ stt.Recognizer = (*NativeRecognizer)(nil)

// NativeRecognizer implements stt.Recognizer using the whisper.cpp Go
// bindings. The model is loaded once; every call creates its own context,
// so concurrent calls do not interfere.
type NativeRecognizer struct {
	model     whisperlib.Model
	language  string
	speechRMS float64
}

// NativeOption is a functional option for configuring a NativeRecognizer.
type NativeOption func(*NativeRecognizer)

// WithNativeLanguage sets the language code for transcription. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(r *NativeRecognizer) { r.language = lang }
}

// WithNativeSpeechThreshold sets the clip RMS below which inference is skipped.
func WithNativeSpeechThreshold(rms float64) NativeOption {
	return func(r *NativeRecognizer) { r.speechRMS = rms }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the recognizer is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeRecognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	r := &NativeRecognizer{
		model:     model,
		language:  defaultLanguage,
		speechRMS: defaultSpeechRMS,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Close releases the whisper model.
func (r *NativeRecognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

// Recognize implements stt.Recognizer. Inference is not interruptible; ctx
// is only checked before it starts.
func (r *NativeRecognizer) Recognize(ctx context.Context, clip audio.Clip) (string, error) {
	if silent(clip, r.speechRMS) {
		return "", stt.ErrNoSpeech
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	raw, err := r.infer(audio.Float32(modelInput(clip)))
	if err != nil {
		return "", err
	}
	return stt.CleanTranscript(raw)
}

// modelRate is the only sample rate whisper.cpp accepts.
const modelRate = 16000

// modelInput returns clip as 16 kHz mono PCM.
func modelInput(clip audio.Clip) []byte {
	if clip.SampleRate == 0 || clip.SampleRate == modelRate {
		return clip.Data
	}
	return audio.ResampleMono16(clip.Data, clip.SampleRate, modelRate)
}

func (r *NativeRecognizer) infer(samples []float32) (string, error) {
	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", r.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
