package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHTTPTransport_Transcribe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.ProtoMajor != 1 {
			t.Errorf("proto = %s, want HTTP/1.x", r.Proto)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-large-v3" || r.FormValue("language") != "fr" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "audio-bytes" || hdr.Filename != "record.ogg" || hdr.Header.Get("Content-Type") != "audio/ogg" {
			t.Errorf("file = %q %q %q", data, hdr.Filename, hdr.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text": "bonjour"}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.ogg")
	if err := os.WriteFile(path, []byte("audio-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	tr := NewHTTPTransport("key", srv.URL, nil)
	got, err := tr.Transcribe(context.Background(), Request{
		Path: path, Filename: "record.ogg", MIME: "audio/ogg", Model: DefaultModel, Language: "fr",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "bonjour" {
		t.Errorf("text = %q, want bonjour", got)
	}
}

func TestHTTPTransport_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPTransport("key", srv.URL, nil).ModelsCount(context.Background())
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want HTTPError 429", err)
	}
	if !IsTransient(err) {
		t.Error("429 should be transient")
	}
}

func TestHTTPTransport_ModelsCount(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"data": [{"id": "whisper-large-v3"}, {"id": "llama"}]}`)
	}))
	defer srv.Close()

	n, err := NewHTTPTransport("key", srv.URL, nil).ModelsCount(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("ModelsCount() = (%d, %v), want (2, nil)", n, err)
	}
}

func TestOpenAITransport_Transcribe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("model") != DefaultModel {
			t.Errorf("model = %q", r.FormValue("model"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text": "un chat noir"}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.webm")
	if err := os.WriteFile(path, []byte("webm"), 0o600); err != nil {
		t.Fatal(err)
	}
	tr, err := NewOpenAITransport("key", srv.URL, 0)
	if err != nil {
		t.Fatalf("NewOpenAITransport: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), Request{Path: path, Filename: "record.webm", MIME: "audio/webm", Model: DefaultModel, Language: "fr"})
	if err != nil || got != "un chat noir" {
		t.Fatalf("Transcribe() = (%q, %v)", got, err)
	}

	if _, err := NewOpenAITransport("", "", 0); err == nil {
		t.Error("expected error for empty key")
	}
}
