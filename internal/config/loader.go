package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/luna/internal/mcp"
	"github.com/MrWong99/luna/internal/router"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to empty fields.
const (
	DefaultListenAddr    = "127.0.0.1:8765"
	DefaultSQLitePath    = "luna.db"
	DefaultSearchURL     = "https://www.google.com/search?q=%s"
	DefaultBreakerFails  = 3
	DefaultBreakerReset  = 30 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultSTTProvider   = "whisper"
	DefaultTTSProvider   = "coqui"
	DefaultMicProvider   = "portaudio"
	DefaultSpeakProvider = "beep"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"elevenlabs", "coqui"},
	"microphone": {"portaudio"},
	"speaker":    {"beep"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every empty field of cfg that has a default.
// Listening tuning is left at zero; the capture package owns those defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" && cfg.Server.Socket == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}
	if cfg.Settings.Driver == "" {
		cfg.Settings.Driver = DriverSQLite
	}
	if cfg.Settings.Driver == DriverSQLite && cfg.Settings.DSN == "" {
		cfg.Settings.DSN = DefaultSQLitePath
	}
	if cfg.Assistant.SearchURL == "" {
		cfg.Assistant.SearchURL = DefaultSearchURL
	}
	if cfg.Router.Timeout == 0 {
		cfg.Router.Timeout = router.DefaultTimeout
	}
	if cfg.Router.Breaker.MaxFailures == 0 {
		cfg.Router.Breaker.MaxFailures = DefaultBreakerFails
	}
	if cfg.Router.Breaker.ResetTimeout == 0 {
		cfg.Router.Breaker.ResetTimeout = DefaultBreakerReset
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTTProvider
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = DefaultTTSProvider
	}
	if cfg.Providers.Microphone.Name == "" {
		cfg.Providers.Microphone.Name = DefaultMicProvider
	}
	if cfg.Providers.Speaker.Name == "" {
		cfg.Providers.Speaker.Name = DefaultSpeakProvider
	}
	if cfg.Processor.PollInterval == 0 {
		cfg.Processor.PollInterval = DefaultPollInterval
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}

	// Settings
	if !cfg.Settings.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("settings.driver %q is invalid; valid values: sqlite, postgres, memory", cfg.Settings.Driver))
	}
	if cfg.Settings.Driver == DriverPostgres && cfg.Settings.DSN == "" {
		errs = append(errs, errors.New("settings.dsn is required when driver is postgres"))
	}

	// Assistant
	if cfg.Assistant.Provider != "" && !router.ParseKind(cfg.Assistant.Provider).Valid() {
		errs = append(errs, fmt.Errorf("assistant.provider %q is invalid; valid values: %v", cfg.Assistant.Provider, router.Kinds()))
	}

	// Router
	if cfg.Router.Timeout < 0 {
		errs = append(errs, fmt.Errorf("router.timeout %s must not be negative", cfg.Router.Timeout))
	}
	if cfg.Router.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("router.breaker.max_failures %d must not be negative", cfg.Router.Breaker.MaxFailures))
	}

	// Provider name validation, warn only.
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, e := range cfg.Providers.STTBackups {
		validateProviderName("stt", e.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, e := range cfg.Providers.TTSBackups {
		validateProviderName("tts", e.Name)
	}
	validateProviderName("microphone", cfg.Providers.Microphone.Name)
	validateProviderName("speaker", cfg.Providers.Speaker.Name)

	// Listening
	if cfg.Listening.Threshold < 0 || cfg.Listening.Threshold > 1 {
		errs = append(errs, fmt.Errorf("listening.threshold %.3f is out of range [0, 1]", cfg.Listening.Threshold))
	}

	// Processor
	if cfg.Processor.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("processor.queue_capacity %d must not be negative", cfg.Processor.QueueCapacity))
	}
	if cfg.Processor.Voice.Speed != 0 {
		if cfg.Processor.Voice.Speed < 0.5 || cfg.Processor.Voice.Speed > 2.0 {
			errs = append(errs, fmt.Errorf("processor.voice.speed %.2f is out of range [0.5, 2.0]", cfg.Processor.Voice.Speed))
		}
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
