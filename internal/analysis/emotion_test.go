package analysis

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/onyria/onyria/internal/resilience"
	"github.com/onyria/onyria/pkg/provider/llm/mock"
)

func TestSoftmax_Properties(t *testing.T) {
	t.Parallel()

	inputs := []map[string]float64{
		{"joie": 0.8, "surprise": 0.2},
		{"a": -3, "b": 0, "c": 5, "d": 5.5},
		{"seul": 42},
		{"grand": 30, "petit": 1},
	}
	for _, raw := range inputs {
		got := Softmax(raw)
		var sum float64
		for k, v := range got {
			if v <= 0 || v > 1 {
				t.Errorf("Softmax(%v)[%s] = %v, want in (0,1]", raw, k, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("Softmax(%v) sums to %v", raw, sum)
		}

		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return raw[keys[i]] < raw[keys[j]] })
		for i := 1; i < len(keys); i++ {
			lo, hi := keys[i-1], keys[i]
			if raw[lo] < raw[hi] && got[lo] >= got[hi] {
				t.Errorf("order not preserved: %s=%v %s=%v", lo, got[lo], hi, got[hi])
			}
		}
	}

	if got := Softmax(nil); len(got) != 0 {
		t.Errorf("Softmax(nil) = %v, want empty", got)
	}
}

func TestDominant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scores map[string]float64
		want   string
	}{
		{"single max", map[string]float64{"joie": 0.6, "peur": 0.4}, "joie"},
		{"tie goes to smallest key", map[string]float64{"tristesse": 0.5, "colère": 0.5}, "colère"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got, _ := Dominant(tt.scores); got != tt.want {
				t.Errorf("Dominant() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseScores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    map[string]float64
		wantOK  bool
	}{
		{"object", `{"joie": 0.8, "surprise": 0.2}`, map[string]float64{"joie": 0.8, "surprise": 0.2}, true},
		{"pairs", `[["joie", 0.8], ["peur", "0,2"]]`, map[string]float64{"joie": 0.8, "peur": 0.2}, true},
		{"drops non numeric", `{"joie": 1, "peur": "beaucoup", "calme": null}`, map[string]float64{"joie": 1}, true},
		{"nothing numeric", `{"joie": "oui"}`, nil, false},
		{"bad pairs", `[["joie"], 2]`, nil, false},
		{"scalar", `0.5`, nil, false},
		{"not json", `la joie domine`, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseScores(tt.content)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if math.Abs(got[k]-v) > 1e-9 {
					t.Errorf("got[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestEmotionAnalyzer_Analyze(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Content: `{"joie": 0.8, "surprise": 0.2}`}
	a := NewEmotionAnalyzer(resilience.NewCaller(p, nil), "", "prompt")

	got, err := a.Analyze(context.Background(), "J'ai rêvé d'un oiseau bleu qui volait")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got == nil {
		t.Fatal("Analyze returned nil result")
	}
	if got.Dominant != "joie" {
		t.Errorf("Dominant = %q, want joie", got.Dominant)
	}
	if got.DominantScore <= got.Scores["surprise"] {
		t.Errorf("DominantScore = %v, not above surprise %v", got.DominantScore, got.Scores["surprise"])
	}

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("calls = %d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.Model != DefaultEmotionModel || !req.JSONObject || req.SystemPrompt != "prompt" {
		t.Errorf("request = %+v", req)
	}
}

func TestEmotionAnalyzer_NilCases(t *testing.T) {
	t.Parallel()

	quota := errors.New("quota exceeded")
	tests := []struct {
		name string
		p    *mock.Provider
	}{
		{"unusable reply", &mock.Provider{Content: `"heureux"`}},
		{"chain exhausted", &mock.Provider{Errors: map[string]error{
			"mistral-small-latest": quota,
			"open-mistral-7b":      quota,
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewEmotionAnalyzer(resilience.NewCaller(tt.p, nil), "", "")
			got, err := a.Analyze(context.Background(), "texte")
			if err != nil || got != nil {
				t.Errorf("Analyze() = (%v, %v), want (nil, nil)", got, err)
			}
		})
	}
}

func TestEmotionAnalyzer_FatalError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Errors: map[string]error{"mistral-small-latest": errors.New("authentication failed")}}
	a := NewEmotionAnalyzer(resilience.NewCaller(p, nil), "", "")
	if _, err := a.Analyze(context.Background(), "texte"); err == nil {
		t.Fatal("expected error")
	}
	if got := len(p.CompleteCalls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
