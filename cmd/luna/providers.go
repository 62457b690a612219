package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/luna/internal/app"
	"github.com/MrWong99/luna/internal/config"
	"github.com/MrWong99/luna/internal/resilience"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/audio/beep"
	"github.com/MrWong99/luna/pkg/audio/portaudio"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/stt/deepgram"
	"github.com/MrWong99/luna/pkg/provider/stt/whisper"
	"github.com/MrWong99/luna/pkg/provider/tts"
	"github.com/MrWong99/luna/pkg/provider/tts/coqui"
	"github.com/MrWong99/luna/pkg/provider/tts/elevenlabs"
)

// defaultSpeakerRate is the playback device rate when none is configured.
const defaultSpeakerRate = 44100

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if th := entry.OptFloat("speech_threshold"); th > 0 {
			opts = append(opts, whisper.WithSpeechThreshold(th))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if th := entry.OptFloat("speech_threshold"); th > 0 {
			opts = append(opts, whisper.WithNativeSpeechThreshold(th))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(apiKey(entry, "DEEPGRAM_API_KEY"), opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := entry.OptInt("sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		if raw := entry.OptString("timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("coqui timeout: %w", err)
			}
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.OptString("output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(apiKey(entry, "ELEVENLABS_API_KEY"), opts...)
	})

	// ── Devices ───────────────────────────────────────────────────────────────

	reg.RegisterMicrophone("portaudio", func(entry config.ProviderEntry) (audio.Microphone, error) {
		var opts []portaudio.Option
		if rate := entry.OptInt("sample_rate"); rate > 0 {
			opts = append(opts, portaudio.WithSampleRate(rate))
		}
		if n := entry.OptInt("frame_size"); n > 0 {
			opts = append(opts, portaudio.WithFrameSize(n))
		}
		return portaudio.New(opts...)
	})

	reg.RegisterSpeaker("beep", func(entry config.ProviderEntry) (audio.Speaker, error) {
		rate := entry.OptInt("sample_rate")
		if rate <= 0 {
			rate = defaultSpeakerRate
		}
		return beep.New(rate)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// apiKey prefers the key from the config entry and falls back to env.
func apiKey(entry config.ProviderEntry, env string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(env)
}

// buildProviders instantiates the configured speech providers and devices.
// Backup recognizers and synthesizers are chained behind the primary with a
// per-backend circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, err error) {
	ps := &app.Providers{}
	var opened []interface{ Close() error }
	defer func() {
		if err != nil {
			for _, c := range opened {
				_ = c.Close()
			}
		}
	}()

	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Router.Breaker.MaxFailures,
		ResetTimeout: cfg.Router.Breaker.ResetTimeout,
	}}

	rec, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	if len(cfg.Providers.STTBackups) > 0 {
		chain := resilience.NewRecognizerFallback(rec, cfg.Providers.STT.Name, fb)
		for _, entry := range cfg.Providers.STTBackups {
			r, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("stt fallback: %w", err)
			}
			chain.AddFallback(entry.Name, r)
			slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
		}
		rec = chain
	}
	ps.Recognizer = rec

	synth, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)
	if len(cfg.Providers.TTSBackups) > 0 {
		chain := resilience.NewSynthesizerFallback(synth, cfg.Providers.TTS.Name, fb)
		for _, entry := range cfg.Providers.TTSBackups {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("tts fallback: %w", err)
			}
			if err := chain.AddFallback(entry.Name, p); err != nil {
				return nil, err
			}
			slog.Info("provider created", "kind", "tts", "name", entry.Name, "role", "fallback")
		}
		synth = chain
	}
	ps.Synth = synth

	mic, err := reg.CreateMicrophone(cfg.Providers.Microphone)
	if err != nil {
		return nil, fmt.Errorf("microphone unavailable: %w", err)
	}
	opened = append(opened, mic)
	ps.Microphone = mic

	spk, err := reg.CreateSpeaker(cfg.Providers.Speaker)
	if err != nil {
		return nil, fmt.Errorf("speaker unavailable: %w", err)
	}
	opened = append(opened, spk)
	ps.Speaker = spk
	return ps, nil
}
