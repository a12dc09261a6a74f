package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_AgentFlow(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\nfake")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agents", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode agent body: %v", err)
		}
		if body["model"] != DefaultModel || body["name"] != AgentName {
			t.Errorf("agent body = %v", body)
		}
		tools, _ := body["tools"].([]any)
		if len(tools) != 1 || tools[0].(map[string]any)["type"] != "image_generation" {
			t.Errorf("tools = %v", body["tools"])
		}
		args, _ := body["completion_args"].(map[string]any)
		if args["temperature"] != 0.3 || args["top_p"] != 0.95 {
			t.Errorf("completion_args = %v", args)
		}
		io.WriteString(w, `{"id": "ag_1"}`)
	})
	mux.HandleFunc("POST /conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		io.WriteString(w, `{"conversation_id": "c1", "outputs": [
			{"type": "tool.execution", "name": "image_generation"},
			{"type": "message.output", "content": [
				{"type": "text", "text": "Voici votre image"},
				{"type": "tool_file", "tool": "image_generation", "file_id": "file_42", "file_name": "image_generated_0"}
			]}
		]}`)
	})
	mux.HandleFunc("GET /files/file_42/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(png)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("key", srv.URL, nil)
	ctx := context.Background()

	id, err := c.CreateAgent(ctx, AgentSpec{Model: DefaultModel, Name: AgentName, Temperature: 0.3, TopP: 0.95})
	if err != nil || id != "ag_1" {
		t.Fatalf("CreateAgent() = (%q, %v)", id, err)
	}
	conv, err := c.StartConversation(ctx, id, "un oiseau bleu")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	fileID, ok := conv.FileID()
	if !ok || fileID != "file_42" {
		t.Fatalf("FileID() = (%q, %v)", fileID, ok)
	}
	data, mime, err := c.DownloadFile(ctx, fileID)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != string(png) || mime != "image/png" {
		t.Errorf("DownloadFile() = (%d bytes, %q)", len(data), mime)
	}
}

func TestConversation_FileIDMissing(t *testing.T) {
	t.Parallel()

	conv := &Conversation{Outputs: []Output{
		{Type: "message.output", Content: json.RawMessage(`"Je ne peux pas générer d'image."`)},
		{Type: "message.output", Content: json.RawMessage(`[{"type": "text", "text": "rien"}]`)},
	}}
	if _, ok := conv.FileID(); ok {
		t.Error("FileID() found an id in text-only outputs")
	}
	var nilConv *Conversation
	if _, ok := nilConv.FileID(); ok {
		t.Error("FileID() on nil conversation")
	}
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient("key", srv.URL, nil).CreateAgent(context.Background(), AgentSpec{Model: "m", Name: "n"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want APIError 429", err)
	}
}

func TestClient_DownloadFileTooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, nil)
	c.maxBytes = 10
	data, _, err := c.DownloadFile(context.Background(), "file-1")
	if err != nil || len(data) != 10 {
		t.Fatalf("at limit: %d bytes, err = %v; want 10, nil", len(data), err)
	}

	c.maxBytes = 9
	data, _, err = c.DownloadFile(context.Background(), "file-1")
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("err = %v, want ErrImageTooLarge", err)
	}
	if data != nil {
		t.Errorf("data = %d bytes, want nil", len(data))
	}
}
