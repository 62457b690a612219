// Package coqui provides a TTS provider backed by a locally running Coqui
// server. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu), synthesising via GET /api/tts.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server, synthesising via
//     POST /tts_to_audio/ with a JSON body.
//
// Both servers synthesise one utterance per HTTP call. Synthesize splits a
// reply into sentences and keeps a small number of requests in flight so the
// first sentence plays while later ones are still being rendered.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	chunks, err := p.Synthesize(ctx, "Opening firefox.", tts.Voice{})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 22050
	ttsEndpoint       = "/tts_to_audio/"
	apiTTSEndpoint    = "/api/tts"

	// sentenceLookahead bounds the synthesis requests in flight per stream.
	sentenceLookahead = 4

	audioChanBuf = 64
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate sets the sample rate every emitted chunk is resampled
// to. Defaults to 22050 Hz.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider targeting the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.outputRate <= 0 {
		return nil, fmt.Errorf("coqui: invalid output sample rate %d", p.outputRate)
	}
	return p, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: p.outputRate, Channels: 1}
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string  `json:"text"`
	SpeakerWav string  `json:"speaker_wav"`
	Language   string  `json:"language"`
	Speed      float64 `json:"speed,omitempty"`
}

type audioResult struct {
	pcm []byte
	err error
}

// Synthesize implements tts.Provider. Sentences are emitted in order; the
// stream ends early at the first failed sentence.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, tts.ErrEmptyText
	}
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	audioCh := make(chan []byte, audioChanBuf)
	resultQueue := make(chan chan audioResult, sentenceLookahead)

	// Dispatcher: one request per sentence, results queued in order.
	go func() {
		defer close(resultQueue)
		for _, s := range sentences {
			ch := make(chan audioResult, 1)
			select {
			case resultQueue <- ch:
			case <-ctx.Done():
				return
			}
			go func() {
				pcm, err := p.synthesize(ctx, s, voice)
				ch <- audioResult{pcm: pcm, err: err}
			}()
		}
	}()

	// Collector: drain results in order and emit fixed-size chunks.
	go func() {
		defer close(audioCh)
		for ch := range resultQueue {
			var result audioResult
			select {
			case result = <-ch:
			case <-ctx.Done():
				return
			}
			if result.err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: synthesis failed, ending stream", "err", result.err)
				}
				return
			}
			pcm := result.pcm
			for len(pcm) > 0 {
				end := min(pcmChunkSize, len(pcm))
				select {
				case audioCh <- pcm[:end]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[end:]
			}
		}
	}()

	return audioCh, nil
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.Voice) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeStandard {
		req, err = p.standardRequest(ctx, sentence, voice)
	} else {
		req, err = p.xttsRequest(ctx, sentence, voice)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}

	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if f.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return audio.ResampleMono16(pcm, f.SampleRate, p.outputRate), nil
}

// xttsRequest builds POST /tts_to_audio/ (XTTS v2 mode).
func (p *Provider) xttsRequest(ctx context.Context, sentence string, voice tts.Voice) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       sentence,
		SpeakerWav: voice.ID,
		Language:   p.language,
		Speed:      voice.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds GET /api/tts with URL query parameters.
func (p *Provider) standardRequest(ctx context.Context, sentence string, voice tts.Voice) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	if voice.Speed > 0 {
		params.Set("speed", strconv.FormatFloat(voice.Speed, 'f', 2, 64))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}
