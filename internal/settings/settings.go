// Package settings provides the persistent key/value configuration store
// shared by the router, the tool host and the listening state machine.
//
// Values are plain strings. A [Store] wraps a [Backend] (SQLite, PostgreSQL
// or in-memory) and adds defaults and typed accessors. Lookups never fail
// from the caller's point of view: a storage error is logged and the default
// is returned, so a broken database degrades to factory settings rather than
// stopping a conversational turn.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
)

// Well-known keys.
const (
	KeyUserName      = "user_name"
	KeyAssistantName = "assistant_name"
	KeyMuted         = "muted"
	KeyProvider      = "provider"
	KeyAPIKey        = "api_key"
	KeyModel         = "model"
	KeyBaseURL       = "base_url"
)

// Factory defaults.
const (
	DefaultUserName      = "Soumodeep"
	DefaultAssistantName = "Luna"
	DefaultProvider      = "ollama"
)

// Backend persists raw key/value pairs.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Lookup returns the stored value and whether the key exists.
	Lookup(ctx context.Context, key string) (string, bool, error)

	// Put inserts or replaces the value of key.
	Put(ctx context.Context, key, value string) error

	// All returns every stored pair.
	All(ctx context.Context) (map[string]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Store is the typed facade over a [Backend]. The zero value is not usable;
// create instances with [New].
type Store struct {
	b Backend
}

// New wraps b.
func New(b Backend) *Store {
	return &Store{b: b}
}

// Get returns the value for key, or def when the key is missing or the
// backend fails.
func (s *Store) Get(ctx context.Context, key, def string) string {
	v, ok, err := s.b.Lookup(ctx, key)
	if err != nil {
		slog.Warn("settings: lookup failed, using default", "key", key, "err", err)
		return def
	}
	if !ok {
		return def
	}
	return v
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("settings: empty key")
	}
	if err := s.b.Put(ctx, key, value); err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

// Bool reads key as a boolean. Unparsable values yield def.
func (s *Store) Bool(ctx context.Context, key string, def bool) bool {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

// SetBool stores a boolean under key.
func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.Set(ctx, key, strconv.FormatBool(v))
}

// UserName returns the stored user name.
func (s *Store) UserName(ctx context.Context) string {
	return s.Get(ctx, KeyUserName, DefaultUserName)
}

// AssistantName returns the stored assistant name.
func (s *Store) AssistantName(ctx context.Context) string {
	return s.Get(ctx, KeyAssistantName, DefaultAssistantName)
}

// SetUserName stores the user name.
func (s *Store) SetUserName(ctx context.Context, name string) error {
	return s.Set(ctx, KeyUserName, name)
}

// SetAssistantName stores the assistant name.
func (s *Store) SetAssistantName(ctx context.Context, name string) error {
	return s.Set(ctx, KeyAssistantName, name)
}

// Muted reports the persisted mute flag.
func (s *Store) Muted(ctx context.Context) bool {
	return s.Bool(ctx, KeyMuted, false)
}

// SetMuted persists the mute flag.
func (s *Store) SetMuted(ctx context.Context, muted bool) error {
	return s.SetBool(ctx, KeyMuted, muted)
}

// Provider is the persisted AI backend selection.
type Provider struct {
	Kind    string
	APIKey  string
	Model   string
	BaseURL string
}

// Provider reads the backend selection. An absent provider key means the
// local default.
func (s *Store) Provider(ctx context.Context) Provider {
	return Provider{
		Kind:    s.Get(ctx, KeyProvider, DefaultProvider),
		APIKey:  s.Get(ctx, KeyAPIKey, ""),
		Model:   s.Get(ctx, KeyModel, ""),
		BaseURL: s.Get(ctx, KeyBaseURL, ""),
	}
}

// SetProvider persists p. The API key is cleared for the local backend.
func (s *Store) SetProvider(ctx context.Context, p Provider) error {
	key := p.APIKey
	if p.Kind == DefaultProvider {
		key = ""
	}
	for k, v := range map[string]string{
		KeyProvider: p.Kind,
		KeyAPIKey:   key,
		KeyModel:    p.Model,
		KeyBaseURL:  p.BaseURL,
	} {
		if err := s.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns every stored pair. The API key is redacted.
func (s *Store) Snapshot(ctx context.Context) (map[string]string, error) {
	all, err := s.b.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: snapshot: %w", err)
	}
	out := maps.Clone(all)
	if out == nil {
		out = map[string]string{}
	}
	if v, ok := out[KeyAPIKey]; ok && v != "" {
		out[KeyAPIKey] = "********"
	}
	return out, nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error { return s.b.Ping(ctx) }

// Close releases the backend.
func (s *Store) Close() error { return s.b.Close() }

// NiceName upper-cases the first letter of raw, falling back to fallback
// when raw is blank.
func NiceName(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	if raw == "" {
		return ""
	}
	return strings.ToUpper(raw[:1]) + raw[1:]
}

// Memory is an in-process [Backend]. The zero value is ready to use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Backend = (*Memory)(nil)

// Lookup implements [Backend].
func (m *Memory) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Put implements [Backend].
func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

// All implements [Backend].
func (m *Memory) All(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values), nil
}

// Ping implements [Backend].
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements [Backend].
func (m *Memory) Close() error { return nil }
