// Package mock provides a test double for the llm.Provider interface.
//
// Provider can be scripted per model so that fallback-chain behaviour is
// observable without a live backend:
//
//	p := &mock.Provider{
//	    Errors:    map[string]error{"mistral-large-latest": errors.New("quota exceeded")},
//	    Responses: map[string]string{"mistral-medium": `{"joie": 1}`},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/onyria/onyria/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Resolution order for a call to model M: CompleteFunc if set, then Errors[M],
// then Responses[M], then Content. A model absent from every map returns
// Content with a nil error.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, if set, fully controls the result of Complete.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Errors maps a model to the error returned for it.
	Errors map[string]error

	// Responses maps a model to the content returned for it.
	Responses map[string]string

	// Content is the fallback reply for models not listed above.
	Content string

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the scripted outcome for req.Model.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	err, hasErr := p.Errors[req.Model]
	content, hasContent := p.Responses[req.Model]
	if !hasContent {
		content = p.Content
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if hasErr && err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: req.Model}, nil
}

// Models returns the model of every recorded call, in order.
func (p *Provider) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.CompleteCalls))
	for i, c := range p.CompleteCalls {
		out[i] = c.Req.Model
	}
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
