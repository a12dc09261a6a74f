// Package llm defines the Provider interface for chat-completion backends.
//
// A provider wraps a remote model API (Mistral, Groq, OpenAI or any
// OpenAI-compatible endpoint) and exposes a single blocking completion call.
// The model is chosen per request so that callers walking a fallback chain can
// reuse one provider for every candidate model.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles accepted by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Model and one user message must be set.
type CompletionRequest struct {
	// Model is the backend model identifier, e.g. "mistral-large-latest".
	// An empty value selects the provider's default model.
	Model string

	// SystemPrompt is injected as a leading "system" message when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []Message

	// Temperature controls output randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// JSONObject asks the backend to return a single JSON object
	// (response_format {"type": "json_object"}).
	JSONObject bool
}

// CompletionResponse is the full reply of a completion call.
type CompletionResponse struct {
	// Content is the assistant reply, typically a JSON-encoded string when
	// JSONObject was requested.
	Content string

	// Model is the model that actually produced the reply.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Transport and API errors are returned unwrapped enough for
	// errors.As to reach the SDK's typed error.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// UserPrompt is a convenience constructor for the common system+user request
// shape used by the analysis services.
func UserPrompt(model, system, user string, jsonObject bool) CompletionRequest {
	return CompletionRequest{
		Model:        model,
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: user}},
		JSONObject:   jsonObject,
	}
}
