package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/onyria/onyria/pkg/provider/llm"
)

// FallbackChain maps a primary model to its successively weaker fallbacks.
// A model with an empty list has no further fallback.
type FallbackChain map[string][]string

var defaultChain = FallbackChain{
	"mistral-large-latest": {"mistral-medium", "mistral-small-latest", "open-mistral-7b"},
	"mistral-medium":       {"mistral-small-latest", "open-mistral-7b"},
	"mistral-small-latest": {"open-mistral-7b"},
	"open-mistral-7b":      {},
}

// DefaultFallbackChain returns a copy of the built-in Mistral chain.
func DefaultFallbackChain() FallbackChain {
	return defaultChain.Clone()
}

// Clone returns a deep copy of c.
func (c FallbackChain) Clone() FallbackChain {
	out := make(FallbackChain, len(c))
	for k, v := range c {
		out[k] = slices.Clone(v)
	}
	return out
}

// Attempts returns [primary] followed by its fallbacks. An unknown primary
// yields just [primary].
func (c FallbackChain) Attempts(primary string) []string {
	return append([]string{primary}, c[primary]...)
}

// Models returns every model mentioned in c, sorted.
func (c FallbackChain) Models() []string {
	seen := map[string]struct{}{}
	for k, v := range c {
		seen[k] = struct{}{}
		for _, m := range v {
			seen[m] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Attempt describes one model call made by [Caller.SafeCall].
type Attempt struct {
	Label    string
	Model    string
	Index    int
	Duration time.Duration
	Err      error
	Class    Class
}

// Caller issues chat completions through a fallback chain.
type Caller struct {
	provider llm.Provider
	chain    FallbackChain
	breaker  CircuitBreakerConfig
	classify func(error) Class
	observe  func(Attempt)

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithCircuitBreaker sets the per-model breaker configuration. Name is
// ignored; each model gets its own breaker named after it.
func WithCircuitBreaker(cfg CircuitBreakerConfig) CallerOption {
	return func(c *Caller) {
		c.breaker = cfg
	}
}

// WithClassifier replaces [Classify].
func WithClassifier(fn func(error) Class) CallerOption {
	return func(c *Caller) {
		c.classify = fn
	}
}

// WithObserver registers fn to be called after every attempt.
func WithObserver(fn func(Attempt)) CallerOption {
	return func(c *Caller) {
		c.observe = fn
	}
}

// NewCaller returns a Caller that sends requests through provider. A nil
// chain selects [DefaultFallbackChain].
func NewCaller(provider llm.Provider, chain FallbackChain, opts ...CallerOption) *Caller {
	if chain == nil {
		chain = DefaultFallbackChain()
	}
	c := &Caller{
		provider: provider,
		chain:    chain.Clone(),
		classify: Classify,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chain returns a copy of the caller's fallback chain.
func (c *Caller) Chain() FallbackChain {
	return c.chain.Clone()
}

// SafeCall sends req to primary and then to each fallback in turn.
//
// On success the first response is returned. A fatal error is returned
// immediately without trying further models. When the last model fails
// recoverably the result is (nil, nil). A cancelled ctx stops the walk and
// returns ctx.Err().
func (c *Caller) SafeCall(ctx context.Context, primary string, req llm.CompletionRequest, label string) (*llm.CompletionResponse, error) {
	models := c.chain.Attempts(primary)
	for i, model := range models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req.Model = model
		var resp *llm.CompletionResponse
		start := time.Now()
		err := c.breakerFor(model).Execute(func() error {
			var callErr error
			resp, callErr = c.provider.Complete(ctx, req)
			return callErr
		}, c.counts)

		class := ClassRecoverable
		if err != nil {
			class = c.classify(err)
			if ctx.Err() != nil {
				class = ClassFatal
			}
		}
		if c.observe != nil {
			c.observe(Attempt{Label: label, Model: model, Index: i, Duration: time.Since(start), Err: err, Class: class})
		}

		if err == nil {
			if i == 0 {
				slog.Debug("model call succeeded", "operation", label, "model", model)
			} else {
				slog.Info("model call succeeded on fallback", "operation", label, "model", model, "primary", primary, "attempt", i+1)
			}
			return resp, nil
		}

		if class == ClassFatal {
			slog.Error("model call failed, not retrying", "operation", label, "model", model, "err", err)
			return nil, fmt.Errorf("resilience: %s with %s: %w", label, model, err)
		}

		if i == len(models)-1 {
			slog.Error("fallback chain exhausted", "operation", label, "primary", primary, "last_model", model, "err", err)
			return nil, nil
		}
		slog.Warn("model call failed, trying next", "operation", label, "model", model, "next", models[i+1], "err", err)
	}
	return nil, nil
}

func (c *Caller) counts(err error) bool {
	return c.classify(err) == ClassRecoverable
}

func (c *Caller) breakerFor(model string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[model]
	if !ok {
		cfg := c.breaker
		cfg.Name = model
		cb = NewCircuitBreaker(cfg)
		c.breakers[model] = cb
	}
	return cb
}

// BreakerState reports the breaker state of model; unknown models are closed.
func (c *Caller) BreakerState(model string) State {
	c.mu.Lock()
	cb, ok := c.breakers[model]
	c.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return cb.State()
}
