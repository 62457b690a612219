// Package config provides the configuration schema, loader, device and
// speech provider registry, and hot-reload watcher for luna.
package config

import (
	"time"

	"github.com/MrWong99/luna/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText   LogFormat = "text"
	LogJSON   LogFormat = "json"
	LogPretty LogFormat = "pretty"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON || f == LogPretty
}

// SettingsDriver selects the persistent settings backend.
type SettingsDriver string

const (
	DriverSQLite   SettingsDriver = "sqlite"
	DriverPostgres SettingsDriver = "postgres"
	DriverMemory   SettingsDriver = "memory"
)

// IsValid reports whether d is a recognised driver.
func (d SettingsDriver) IsValid() bool {
	return d == DriverSQLite || d == DriverPostgres || d == DriverMemory
}

// Config is the root configuration structure for luna.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Settings  SettingsConfig  `yaml:"settings"`
	Assistant AssistantConfig `yaml:"assistant"`
	Router    RouterConfig    `yaml:"router"`
	Providers ProvidersConfig `yaml:"providers"`
	Listening ListeningConfig `yaml:"listening"`
	Processor ProcessorConfig `yaml:"processor"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds the control surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP control API, health and
	// metrics endpoints. Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// Socket is the path of the unix-socket command interface. Empty
	// disables it.
	Socket string `yaml:"socket"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text, json or pretty (colourised) output.
	LogFormat LogFormat `yaml:"log_format"`
}

// SettingsConfig selects where names, provider choice and the mute flag
// are persisted.
type SettingsConfig struct {
	Driver SettingsDriver `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// AssistantConfig seeds the settings store on first start and controls
// conversational behaviour.
type AssistantConfig struct {
	// UserName and AssistantName are written to the settings store only
	// when it holds no value yet.
	UserName      string `yaml:"user_name"`
	AssistantName string `yaml:"assistant_name"`

	// Provider, Model and BaseURL seed the AI backend selection. The API
	// key is never read from the file; see LUNA_API_KEY.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// Greet speaks a greeting at start-up.
	Greet *bool `yaml:"greet"`

	// Shortcuts are phrases that end the session without routing.
	Shortcuts []string `yaml:"shortcuts"`

	// SearchURL is the web search template; %s receives the escaped query.
	SearchURL string `yaml:"search_url"`
}

// GreetEnabled reports whether the start-up greeting is on (default true).
func (a AssistantConfig) GreetEnabled() bool {
	return a.Greet == nil || *a.Greet
}

// RouterConfig tunes AI backend calls.
type RouterConfig struct {
	// Timeout bounds one backend call.
	Timeout time.Duration `yaml:"timeout"`

	// SOCKSProxy routes hosted backends through a SOCKS5 proxy
	// (host:port). Empty means direct connections.
	SOCKSProxy string `yaml:"socks_proxy"`

	// Breaker protects hosted backends.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the per-backend circuit breakers.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProvidersConfig names the speech and audio implementations. Each entry is
// looked up in the [Registry].
type ProvidersConfig struct {
	STT        ProviderEntry   `yaml:"stt"`
	STTBackups []ProviderEntry `yaml:"stt_fallbacks"`
	TTS        ProviderEntry   `yaml:"tts"`
	TTSBackups []ProviderEntry `yaml:"tts_fallbacks"`
	Microphone ProviderEntry   `yaml:"microphone"`
	Speaker    ProviderEntry   `yaml:"speaker"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "whisper", "coqui").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted services.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model or, for native whisper, the model file path.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields
	// above.
	Options map[string]any `yaml:"options"`
}

// ListeningConfig tunes phrase segmentation.
type ListeningConfig struct {
	Threshold     float64       `yaml:"threshold"`
	Silence       time.Duration `yaml:"silence"`
	PhraseLimit   time.Duration `yaml:"phrase_limit"`
	ListenTimeout time.Duration `yaml:"listen_timeout"`
	ManualTimeout time.Duration `yaml:"manual_timeout"`
	Ambient       time.Duration `yaml:"ambient"`
	LevelEvery    int           `yaml:"level_every"`
}

// ProcessorConfig tunes the turn worker and its queue.
type ProcessorConfig struct {
	// PollInterval bounds each wait on the queue.
	PollInterval time.Duration `yaml:"poll_interval"`

	// QueueCapacity bounds pending utterances. Zero means unbounded.
	QueueCapacity int `yaml:"queue_capacity"`

	// Voice is the synthesis voice.
	Voice VoiceConfig `yaml:"voice"`

	// SpeechLevels publishes level samples of spoken replies.
	SpeechLevels bool `yaml:"speech_levels"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// Speed is the rate multiplier in [0.5, 2.0]; 0 means default.
	Speed float64 `yaml:"speed"`
}

// MCPConfig holds the external Model Context Protocol servers whose tools
// are offered to hosted backends next to the builtin actions.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio".
	Command string `yaml:"command"`

	// URL is the endpoint used when Transport is "streamable-http".
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env"`
}

// ServerConfig converts c for [mcp.Host.RegisterServer].
func (c MCPServerConfig) ServerConfig() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:      c.Name,
		Transport: c.Transport,
		Command:   c.Command,
		URL:       c.URL,
		Env:       c.Env,
	}
}
