// Package openai embeds text through an OpenAI-compatible embeddings
// endpoint. Mistral's mistral-embed speaks the same protocol.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/onyria/onyria/pkg/provider/embeddings"
)

// Defaults for New.
const (
	DefaultModel    = "mistral-embed"
	DefaultMaxRunes = 12000
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider.
type Provider struct {
	client   oai.Client
	model    string
	maxRunes int

	// observed is the length of the first vector received; zero until then.
	observed atomic.Int64
}

type config struct {
	baseURL  string
	timeout  time.Duration
	maxRunes int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

// WithTimeout bounds each request. Zero keeps the SDK default.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithMaxRunes caps the input length. Longer dreams are cut before
// embedding.
func WithMaxRunes(n int) Option { return func(c *config) { c.maxRunes = n } }

// New returns a Provider for model, or DefaultModel when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embeddings/openai: api key must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := config{maxRunes: DefaultMaxRunes}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, maxRunes: cfg.maxRunes}, nil
}

// Embed implements embeddings.Provider. A vector whose length differs from
// earlier ones is rejected so the store never mixes sizes.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := embeddings.Prepare(text, p.maxRunes)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model:          p.model,
		Input:          oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings/openai: %s: %w", p.model, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings/openai: %s: empty response", p.model)
	}

	raw := resp.Data[0].Embedding
	n := int64(len(raw))
	if !p.observed.CompareAndSwap(0, n) && p.observed.Load() != n {
		return nil, fmt.Errorf("embeddings/openai: %s: got %d dimensions, want %d", p.model, n, p.observed.Load())
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions implements embeddings.Provider. Before the first call it is
// the documented size of the model.
func (p *Provider) Dimensions() int {
	if n := p.observed.Load(); n > 0 {
		return int(n)
	}
	return knownDimensions(p.model)
}

func knownDimensions(model string) int {
	switch m := strings.ToLower(model); {
	case strings.HasPrefix(m, "mistral-embed"):
		return 1024
	case strings.HasPrefix(m, "text-embedding-3-large"):
		return 3072
	default:
		return 1536
	}
}
