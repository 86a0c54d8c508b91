package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vivavox/vivavox/pkg/provider/embeddings"
	"github.com/vivavox/vivavox/pkg/provider/llm"
	"github.com/vivavox/vivavox/pkg/provider/stt"
	"github.com/vivavox/vivavox/pkg/provider/tts"
	"github.com/vivavox/vivavox/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory is
// registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories holds the name-to-constructor table for one capability kind.
type factories[T any] struct {
	mu   sync.RWMutex
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) *factories[T] {
	return &factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

// register stores factory under name, replacing any previous registration.
func (f *factories[T]) register(name string, factory func(ProviderEntry) (T, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = factory
}

// create looks up entry.Name and invokes its factory.
func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	factory, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to constructors, one table per capability
// kind. It is safe for concurrent use.
type Registry struct {
	stt        *factories[stt.Provider]
	tts        *factories[tts.Provider]
	llm        *factories[llm.Provider]
	embeddings *factories[embeddings.Provider]
	vad        *factories[vad.Engine]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        newFactories[stt.Provider]("stt"),
		tts:        newFactories[tts.Provider]("tts"),
		llm:        newFactories[llm.Provider]("llm"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
		vad:        newFactories[vad.Engine]("vad"),
	}
}

// RegisterSTT registers an STT provider factory under name. Registering the
// same name again overwrites the earlier factory.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// RegisterVAD registers a speech detector factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.vad.register(name, factory)
}

// CreateSTT instantiates the STT provider named by entry.Name. Returns
// [ErrProviderNotRegistered] when the name is unknown.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// CreateTTS instantiates the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry)
}

// CreateLLM instantiates the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateEmbeddings instantiates the embeddings provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// CreateVAD instantiates the speech detector named by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return r.vad.create(entry)
}
