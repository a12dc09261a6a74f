// Package analysis turns dream text into emotion scores, a dream type and a
// four-lens interpretation by asking a chat model through a fallback chain.
//
// Every service returns (nil, nil) when the chain is exhausted or the model
// reply is unusable. A non-nil error means a fatal provider failure that no
// fallback could fix.
package analysis

import (
	"context"

	"github.com/onyria/onyria/pkg/provider/llm"
)

// Default primary models.
const (
	DefaultEmotionModel        = "mistral-small-latest"
	DefaultInterpretationModel = "mistral-large-latest"
)

// Caller is the subset of [resilience.Caller] the services need.
type Caller interface {
	SafeCall(ctx context.Context, primary string, req llm.CompletionRequest, label string) (*llm.CompletionResponse, error)
}
