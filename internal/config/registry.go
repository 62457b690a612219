package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one implementation from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the name table of one provider type.
type factories[T any] struct {
	kind  string
	table map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, table: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.table[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.table))
	for name := range f.table {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to their constructor functions for the
// recogniser, synthesiser and audio device types. It is safe for concurrent
// use.
type Registry struct {
	mu         sync.RWMutex
	stt        factories[stt.Recognizer]
	tts        factories[tts.Provider]
	microphone factories[audio.Microphone]
	speaker    factories[audio.Speaker]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        newFactories[stt.Recognizer]("stt"),
		tts:        newFactories[tts.Provider]("tts"),
		microphone: newFactories[audio.Microphone]("microphone"),
		speaker:    newFactories[audio.Speaker]("speaker"),
	}
}

// RegisterSTT registers a recogniser factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Recognizer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.table[name] = factory
}

// RegisterTTS registers a synthesiser factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.table[name] = factory
}

// RegisterMicrophone registers a capture device factory under name.
func (r *Registry) RegisterMicrophone(name string, factory Factory[audio.Microphone]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphone.table[name] = factory
}

// RegisterSpeaker registers a playback device factory under name.
func (r *Registry) RegisterSpeaker(name string, factory Factory[audio.Speaker]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaker.table[name] = factory
}

// CreateSTT instantiates the recogniser registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS instantiates the synthesiser registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateMicrophone instantiates the capture device registered under entry.Name.
func (r *Registry) CreateMicrophone(entry ProviderEntry) (audio.Microphone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.microphone.create(entry)
}

// CreateSpeaker instantiates the playback device registered under entry.Name.
func (r *Registry) CreateSpeaker(entry ProviderEntry) (audio.Speaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.speaker.create(entry)
}

// Names returns the sorted registered names per provider type.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"stt":        r.stt.names(),
		"tts":        r.tts.names(),
		"microphone": r.microphone.names(),
		"speaker":    r.speaker.names(),
	}
}

// OptString returns the string option key of an entry, or "".
func (e ProviderEntry) OptString(key string) string {
	if v, ok := e.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// OptFloat returns the numeric option key of an entry, or 0.
func (e ProviderEntry) OptFloat(key string) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// OptInt returns the integer option key of an entry, or 0.
func (e ProviderEntry) OptInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
