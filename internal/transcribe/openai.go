package transcribe

import (
	"context"
	"fmt"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// transcriptionHint is sent as the Whisper prompt.
const transcriptionHint = "Récit de rêve en français."

// OpenAITransport calls an OpenAI-compatible /audio/transcriptions endpoint
// with the openai-go SDK. Groq is the default endpoint.
type OpenAITransport struct {
	client oai.Client
}

var _ Transport = (*OpenAITransport)(nil)

// NewOpenAITransport returns a transport for apiKey. An empty baseURL selects
// GroqBaseURL. SDK-level retries are disabled; the Service retries.
func NewOpenAITransport(apiKey, baseURL string, timeout time.Duration) (*OpenAITransport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transcribe: api key must not be empty")
	}
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAITransport{client: oai.NewClient(opts...)}, nil
}

// Transcribe implements Transport.
func (t *OpenAITransport) Transcribe(ctx context.Context, req Request) (string, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("transcribe: open audio: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(f, req.Filename, req.MIME),
		Model:          oai.AudioModel(req.Model),
		Prompt:         oai.String(transcriptionHint),
		Temperature:    oai.Float(0),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe: openai transport: %w", err)
	}
	return resp.Text, nil
}
