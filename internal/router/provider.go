package router

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/net/proxy"

	"github.com/MrWong99/luna/internal/settings"
	"github.com/MrWong99/luna/pkg/provider/llm"
	"github.com/MrWong99/luna/pkg/provider/llm/anyllm"
	"github.com/MrWong99/luna/pkg/provider/llm/openai"
)

// Kind identifies an AI backend.
type Kind string

// Supported backends. Ollama is the only offline kind.
const (
	KindOllama     Kind = "ollama"
	KindOpenAI     Kind = "openai"
	KindGroq       Kind = "groq"
	KindOpenRouter Kind = "openrouter"
	KindAnthropic  Kind = "anthropic"
	KindGemini     Kind = "gemini"
	KindMistral    Kind = "mistral"
	KindDeepSeek   Kind = "deepseek"
)

type kindInfo struct {
	model   string
	baseURL string
}

var kinds = map[Kind]kindInfo{
	KindOllama:     {model: "gemma3:1b", baseURL: "http://localhost:11434"},
	KindOpenAI:     {model: "gpt-4o-mini"},
	KindGroq:       {model: "openai/gpt-oss-20b", baseURL: "https://api.groq.com/openai/v1"},
	KindOpenRouter: {model: "anthropic/claude-3.5-sonnet", baseURL: "https://openrouter.ai/api/v1"},
	KindAnthropic:  {model: "claude-3-5-sonnet-latest"},
	KindGemini:     {model: "gemini-2.0-flash"},
	KindMistral:    {model: "mistral-small-latest"},
	KindDeepSeek:   {model: "deepseek-chat"},
}

// Kinds lists every supported backend, offline first.
func Kinds() []Kind {
	return []Kind{KindOllama, KindOpenAI, KindGroq, KindOpenRouter, KindAnthropic, KindGemini, KindMistral, KindDeepSeek}
}

// Valid reports whether k is a supported backend.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Offline reports whether k is driven by the strict-JSON prompt instead of
// native tool calling.
func (k Kind) Offline() bool { return k == KindOllama }

// DefaultModel returns the model used when the configuration names none.
func (k Kind) DefaultModel() string { return kinds[k].model }

// DefaultBaseURL returns the endpoint used when the configuration names
// none. Empty means the SDK default.
func (k Kind) DefaultBaseURL() string { return kinds[k].baseURL }

// ProviderConfig is the backend selection for one turn. It is read from the
// settings store per turn and never mutates process state.
type ProviderConfig struct {
	Kind    Kind
	APIKey  string
	Model   string
	BaseURL string
}

// ConfigFrom converts a stored provider selection.
func ConfigFrom(p settings.Provider) ProviderConfig {
	return ProviderConfig{
		Kind:    ParseKind(p.Kind),
		APIKey:  p.APIKey,
		Model:   p.Model,
		BaseURL: p.BaseURL,
	}
}

// ParseKind normalises a stored provider name.
func ParseKind(s string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(s)))
}

func (c ProviderConfig) model() string {
	if c.Model != "" {
		return c.Model
	}
	return c.Kind.DefaultModel()
}

func (c ProviderConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.Kind.DefaultBaseURL()
}

// BackendFactory builds a backend for one call.
type BackendFactory interface {
	Backend(cfg ProviderConfig) (llm.Provider, error)
}

// FactoryFunc adapts a function to [BackendFactory].
type FactoryFunc func(cfg ProviderConfig) (llm.Provider, error)

// Backend implements [BackendFactory].
func (f FactoryFunc) Backend(cfg ProviderConfig) (llm.Provider, error) { return f(cfg) }

// Factory is the production [BackendFactory]. OpenAI-compatible kinds use
// the OpenAI SDK; the rest go through any-llm-go.
type Factory struct {
	// HTTPClient is used by the OpenAI-compatible kinds. Nil means the SDK
	// default.
	HTTPClient *http.Client
}

// Backend implements [BackendFactory].
func (f *Factory) Backend(cfg ProviderConfig) (llm.Provider, error) {
	switch cfg.Kind {
	case KindOpenAI, KindGroq, KindOpenRouter:
		opts := []openai.Option{}
		if u := cfg.baseURL(); u != "" {
			opts = append(opts, openai.WithBaseURL(u))
		}
		if f.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(f.HTTPClient))
		}
		return openai.New(cfg.APIKey, cfg.model(), opts...)
	case KindOllama:
		return anyllm.NewOllama(cfg.model(), anyllmlib.WithBaseURL(cfg.baseURL()))
	case KindAnthropic, KindGemini, KindMistral, KindDeepSeek:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("router: %s requires an api key", cfg.Kind)
		}
		opts := []anyllmlib.Option{anyllmlib.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New(string(cfg.Kind), cfg.model(), opts...)
	}
	return nil, fmt.Errorf("router: unsupported provider %q", cfg.Kind)
}

// NewSOCKSClient returns an HTTP client that dials through the SOCKS5 proxy
// at addr.
func NewSOCKSClient(addr string, timeout time.Duration) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("router: socks5 proxy %q: %w", addr, err)
	}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, address)
		}
		return dialer.Dial(network, address)
	}
	return &http.Client{
		Transport: &http.Transport{DialContext: dial},
		Timeout:   timeout,
	}, nil
}
