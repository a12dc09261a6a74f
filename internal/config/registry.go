package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/onyria/onyria/pkg/provider/embeddings"
	"github.com/onyria/onyria/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned when no factory exists for a
// provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] map[string]Factory[T]

func (f factories[T]) create(kind string, e ProviderEntry) (T, error) {
	build, ok := f[e.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, e.Name)
	}
	return build(e)
}

// Registry maps provider names to factories, one table per provider kind.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:        factories[llm.Provider]{},
		embeddings: factories[embeddings.Provider]{},
	}
}

// RegisterLLM registers a chat provider factory, replacing any previous one
// under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterEmbeddings registers an embeddings provider factory.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = f
}

// CreateLLM builds the chat provider named by e.Name.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create("llm", e)
}

// CreateEmbeddings builds the embeddings provider named by e.Name.
func (r *Registry) CreateEmbeddings(e ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.create("embeddings", e)
}

// LLMNames returns the registered chat provider names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm))
}

// EmbeddingsNames returns the registered embeddings provider names, sorted.
func (r *Registry) EmbeddingsNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.embeddings))
}
