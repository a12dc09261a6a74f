package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/onyria/onyria/pkg/provider/llm"
)

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "mistral-large-latest"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNew_MistralWithAPIKey(t *testing.T) {
	p, err := NewMistral("mistral-large-latest", anyllmlib.WithAPIKey("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "mistral-large-latest" {
		t.Errorf("model = %q, want mistral-large-latest", p.model)
	}
}

func TestBuildParams_ModelOverride(t *testing.T) {
	p, err := NewGroq("llama-3.1-8b-instant", anyllmlib.WithAPIKey("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	params, err := p.buildParams(llm.UserPrompt("mixtral-8x7b", "", "bonjour", false))
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Model != "mixtral-8x7b" {
		t.Errorf("model = %q, want mixtral-8x7b", params.Model)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 (no system prompt)", len(params.Messages))
	}

	params, err = p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Model != "llama-3.1-8b-instant" {
		t.Errorf("default model = %q, want llama-3.1-8b-instant", params.Model)
	}
}

func TestBuildParams_JSONObjectExtendsSystemPrompt(t *testing.T) {
	p, err := NewMistral("mistral-small-latest", anyllmlib.WithAPIKey("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	params, err := p.buildParams(llm.UserPrompt("", "Analyse les émotions.", "rêve", true))
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	sys := params.Messages[0].ContentString()
	if !strings.HasPrefix(sys, "Analyse les émotions.") || !strings.Contains(sys, "JSON") {
		t.Errorf("system prompt = %q, want original prompt plus JSON instruction", sys)
	}
}

func TestBuildParams_NoModel(t *testing.T) {
	p, err := NewMistral("", anyllmlib.WithAPIKey("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.buildParams(llm.UserPrompt("", "", "x", false)); err == nil {
		t.Fatal("expected error without any model")
	}
}
