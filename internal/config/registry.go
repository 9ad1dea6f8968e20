package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/provider/llm"
	"github.com/sesli-ai/sesli/pkg/provider/stt"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
//
// Factories receive the [ProviderEntry] from the config with APIKey already
// replaced by the credential issued for the current conversation.
type Registry struct {
	mu     sync.RWMutex
	stt    map[string]func(ProviderEntry) (stt.Provider, error)
	llm    map[string]func(ProviderEntry) (llm.Provider, error)
	tts    map[string]func(ProviderEntry) (tts.Provider, error)
	speech map[string]func(ProviderEntry) (speech.Speaker, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:    make(map[string]func(ProviderEntry) (stt.Provider, error)),
		llm:    make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:    make(map[string]func(ProviderEntry) (tts.Provider, error)),
		speech: make(map[string]func(ProviderEntry) (speech.Speaker, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterSpeaker registers a local speech engine factory under name.
func (r *Registry) RegisterSpeaker(name string, factory func(ProviderEntry) (speech.Speaker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSpeaker instantiates a local speech engine using the factory registered under entry.Name.
func (r *Registry) CreateSpeaker(entry ProviderEntry) (speech.Speaker, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: fallback/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted provider names registered for kind ("stt", "llm",
// "tts" or "fallback").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		names = mapKeys(r.stt)
	case "llm":
		names = mapKeys(r.llm)
	case "tts":
		names = mapKeys(r.tts)
	case "fallback":
		names = mapKeys(r.speech)
	}
	slices.Sort(names)
	return names
}

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// OptString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// OptInt extracts an integer value from a provider Options map[string]any.
// YAML integers decode as int; floats are truncated.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// OptStringMap extracts a string-to-string mapping such as
// `voices: {shimmer: 21m00Tcm4TlvDq8ikWAM}`. Non-string values are skipped.
func OptStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
