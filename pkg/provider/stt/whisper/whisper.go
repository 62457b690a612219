// Package whisper provides whisper.cpp-backed speech recognizers.
//
// [Recognizer] talks to a running whisper-server binary, which exposes a
// REST API at POST /inference. [NativeRecognizer] links whisper.cpp through
// its CGO bindings and runs inference in process.
//
// Usage:
//
//	r, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := r.Recognize(ctx, clip)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

const (
	defaultLanguage = "en"

	// defaultSpeechRMS is the normalised energy below which a whole clip is
	// treated as silence and never sent to the engine.
	defaultSpeechRMS = 0.01
)

var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en"). When empty the server uses the model it was started with.
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithSpeechThreshold sets the clip RMS below which the clip is reported as
// [stt.ErrNoSpeech] without contacting the server. Zero disables the check.
func WithSpeechThreshold(rms float64) Option {
	return func(r *Recognizer) { r.speechRMS = rms }
}

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) { r.httpClient = c }
}

// Recognizer implements stt.Recognizer backed by a whisper.cpp HTTP server.
type Recognizer struct {
	serverURL  string
	model      string
	language   string
	speechRMS  float64
	httpClient *http.Client
}

// New creates a Recognizer for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  serverURL,
		language:   defaultLanguage,
		speechRMS:  defaultSpeechRMS,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize implements stt.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, clip audio.Clip) (string, error) {
	if silent(clip, r.speechRMS) {
		return "", stt.ErrNoSpeech
	}
	raw, err := r.infer(ctx, clip)
	if err != nil {
		return "", err
	}
	return stt.CleanTranscript(raw)
}

// infer encodes the clip as WAV and POSTs it to /inference as
// multipart/form-data.
func (r *Recognizer) infer(ctx context.Context, clip audio.Clip) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(clip.Data, clip.SampleRate, 1)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if r.language != "" {
		if err := mw.WriteField("language", r.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if r.model != "" {
		if err := mw.WriteField("model", r.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

func silent(clip audio.Clip, threshold float64) bool {
	if clip.Empty() {
		return true
	}
	return threshold > 0 && audio.RMS(clip.Data) < threshold
}
