package transcribe

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"
)

// Timeouts of the direct transport.
const (
	ConnectTimeout = 15 * time.Second
	ReadTimeout    = 180 * time.Second
)

// HTTPError is a non-2xx provider reply.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPTransport posts multipart audio directly over HTTP/1.1. It is the
// fallback for clients that fail protocol negotiation with the provider.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport returns a direct transport. An empty baseURL selects
// GroqBaseURL. A nil client gets an HTTP/1.1-only client with the package
// timeouts.
func NewHTTPTransport(apiKey, baseURL string, client *http.Client) *HTTPTransport {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	if client == nil {
		client = NewHTTP1Client()
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// NewHTTP1Client returns a client that never negotiates HTTP/2.
func NewHTTP1Client() *http.Client {
	return &http.Client{
		Timeout: ConnectTimeout + ReadTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ReadTimeout,
			ForceAttemptHTTP2:     false,
			TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Transcribe implements Transport.
func (t *HTTPTransport) Transcribe(ctx context.Context, req Request) (string, error) {
	audio, err := os.ReadFile(req.Path)
	if err != nil {
		return "", fmt.Errorf("transcribe: read audio: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	h.Set("Content-Type", req.MIME)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("transcribe: write audio: %w", err)
	}

	fields := [][2]string{
		{"model", req.Model},
		{"response_format", "json"},
		{"temperature", "0"},
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("transcribe: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transcribe: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	var result struct {
		Text string `json:"text"`
	}
	if err := t.do(httpReq, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// ModelsCount lists the provider's models. It verifies the key and the
// outbound network path.
func (t *HTTPTransport) ModelsCount(ctx context.Context) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/models", nil)
	if err != nil {
		return 0, fmt.Errorf("transcribe: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	var result struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := t.do(httpReq, &result); err != nil {
		return 0, err
	}
	return len(result.Data), nil
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transcribe: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("transcribe: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(data), 1000)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("transcribe: parse JSON response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
