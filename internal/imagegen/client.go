package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Agent API defaults.
const (
	MistralBaseURL = "https://api.mistral.ai/v1"
	DefaultModel   = "mistral-medium-2505"
	AgentName      = "Dream Image Agent"
	maxImageBytes  = 20 << 20
)

// ErrImageTooLarge is returned when a downloaded file exceeds the size limit.
var ErrImageTooLarge = errors.New("imagegen: image too large")

// APIError is a non-2xx reply from the agent API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("imagegen: %s: HTTP %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// AgentSpec configures the image-generation agent.
type AgentSpec struct {
	Model        string
	Name         string
	Instructions string
	Temperature  float64
	TopP         float64
}

// Client talks to Mistral's agents, conversations and files endpoints.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	maxBytes int64
}

// NewClient returns a Client. An empty baseURL selects MistralBaseURL and a
// nil httpClient gets a two-minute timeout.
func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = MistralBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient, maxBytes: maxImageBytes}
}

type tool struct {
	Type string `json:"type"`
}

type completionArgs struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// CreateAgent registers an agent with the image_generation tool and returns
// its id.
func (c *Client) CreateAgent(ctx context.Context, spec AgentSpec) (string, error) {
	body := struct {
		Model          string         `json:"model"`
		Name           string         `json:"name"`
		Instructions   string         `json:"instructions,omitempty"`
		Tools          []tool         `json:"tools"`
		CompletionArgs completionArgs `json:"completion_args"`
	}{
		Model:          spec.Model,
		Name:           spec.Name,
		Instructions:   spec.Instructions,
		Tools:          []tool{{Type: "image_generation"}},
		CompletionArgs: completionArgs{Temperature: spec.Temperature, TopP: spec.TopP},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "create agent", "/agents", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("imagegen: create agent: empty agent id")
	}
	return out.ID, nil
}

// Conversation is the part of a conversation reply the generator reads.
type Conversation struct {
	ID      string   `json:"conversation_id"`
	Outputs []Output `json:"outputs"`
}

// Output is one conversation output entry. Content is either a string or a
// list of chunks.
type Output struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// StartConversation sends inputs to agentID.
func (c *Client) StartConversation(ctx context.Context, agentID, inputs string) (*Conversation, error) {
	body := struct {
		AgentID string `json:"agent_id"`
		Inputs  string `json:"inputs"`
	}{agentID, inputs}
	var out Conversation
	if err := c.postJSON(ctx, "start conversation", "/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FileID returns the first file id found in the conversation outputs.
func (conv *Conversation) FileID() (string, bool) {
	if conv == nil {
		return "", false
	}
	for _, o := range conv.Outputs {
		var chunks []struct {
			FileID string `json:"file_id"`
		}
		if len(o.Content) == 0 || json.Unmarshal(o.Content, &chunks) != nil {
			continue
		}
		for _, ch := range chunks {
			if ch.FileID != "" {
				return ch.FileID, true
			}
		}
	}
	return "", false
}

// DownloadFile returns the bytes and content type of fileID.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: download file: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: read file: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &APIError{Op: "download file", StatusCode: resp.StatusCode, Body: clip(string(data))}
	}
	if int64(len(data)) > c.maxBytes {
		return nil, "", fmt.Errorf("%w: file %s exceeds %d bytes", ErrImageTooLarge, fileID, c.maxBytes)
	}
	ctype := resp.Header.Get("Content-Type")
	if ctype == "" || ctype == "application/octet-stream" {
		ctype = http.DetectContentType(data)
	}
	return data, ctype, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("imagegen: %s: marshal: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("imagegen: %s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("imagegen: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("imagegen: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: clip(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("imagegen: %s: decode: %w", op, err)
	}
	return nil
}

func clip(s string) string {
	const n = 500
	if len(s) <= n {
		return s
	}
	return s[:n]
}
