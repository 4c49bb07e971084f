package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	llm       map[string]func(ProviderEntry) (llm.Provider, error)
	stt       map[string]func(ProviderEntry) (stt.Backend, error)
	streaming map[string]func(ProviderEntry) (stt.StreamingBackend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:       make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:       make(map[string]func(ProviderEntry) (stt.Backend, error)),
		streaming: make(map[string]func(ProviderEntry) (stt.StreamingBackend, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a batch transcription backend factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterStreaming registers a streaming backend factory under name.
func (r *Registry) RegisterStreaming(name string, factory func(ProviderEntry) (stt.StreamingBackend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates a batch backend using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Backend, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStreaming instantiates a streaming backend using the factory registered under entry.Name.
func (r *Registry) CreateStreaming(entry ProviderEntry) (stt.StreamingBackend, error) {
	r.mu.RLock()
	factory, ok := r.streaming[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: streaming/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// DecodeOptions decodes entry.Options into out, a pointer to a struct with
// mapstructure tags. Keys match case-insensitively and ignore '_' and '-';
// scalar types are converted loosely so "30s", "true" and 3 all land where
// they are meant to.
func (e ProviderEntry) DecodeOptions(out any) error {
	if len(e.Options) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return fmt.Errorf("config: options decoder: %w", err)
	}
	if err := dec.Decode(e.Options); err != nil {
		return fmt.Errorf("config: decode %s options: %w", e.Name, err)
	}
	return nil
}

func normalizeKey(s string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(s))
}
