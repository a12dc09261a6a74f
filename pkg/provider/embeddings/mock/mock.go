// Package mock provides a scripted embeddings.Provider.
package mock

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"

	"github.com/onyria/onyria/pkg/provider/embeddings"
)

// Provider returns EmbedResult for every text, or, when it is nil, a
// deterministic vector of DimensionsValue entries derived from the text.
type Provider struct {
	mu sync.Mutex

	EmbedResult     []float32
	EmbedErr        error
	DimensionsValue int

	// Texts records every text passed to Embed.
	Texts []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedResult != nil {
		return slices.Clone(p.EmbedResult), nil
	}
	return Vector(text, p.DimensionsValue), nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// Vector hashes text into a vector of n entries in [0, 1). Equal texts get
// equal vectors.
func Vector(text string, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		out[i] = float32(h.Sum32()%1000) / 1000
	}
	return out
}
