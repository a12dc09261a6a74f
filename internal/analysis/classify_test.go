package analysis

import (
	"testing"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/prompt"
)

var testTaxonomy = prompt.Taxonomy{
	Positive: []string{"joie", "bonheur", "sérénité", "confiance"},
	Negative: []string{"peur", "tristesse", "colère", "anxiété"},
}

func TestClassifier_Nil(t *testing.T) {
	t.Parallel()
	c := NewClassifier(testTaxonomy)
	if got, ok := c.Classify(nil); ok || got != "" {
		t.Errorf("Classify(nil) = (%q, %v), want (\"\", false)", got, ok)
	}
}

func TestClassifier_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scores dream.Emotions
		want   dream.Type
	}{
		{"empty map is a dream", dream.Emotions{}, dream.TypeDream},
		{"positive wins", dream.Emotions{"joie": 0.8, "peur": 0.2}, dream.TypeDream},
		{"negative wins", dream.Emotions{"peur": 0.7, "tristesse": 0.5, "joie": 0.1}, dream.TypeNightmare},
		{"tie favors dream", dream.Emotions{"joie": 0.5, "peur": 0.5}, dream.TypeDream},
		{"only negative", dream.Emotions{"anxiété": 0.2}, dream.TypeNightmare},
		{"unknown keys ignored", dream.Emotions{"surprise": 0.9, "fatigue": 0.1}, dream.TypeDream},
		{"accent and case insensitive", dream.Emotions{"ANXIETE": 0.6, "Serenite": 0.4}, dream.TypeNightmare},
		{"means not sums", dream.Emotions{"joie": 0.3, "bonheur": 0.3, "confiance": 0.3, "peur": 0.1}, dream.TypeDream},
	}
	c := NewClassifier(testTaxonomy)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := c.Classify(tt.scores)
			if !ok || got != tt.want {
				t.Errorf("Classify(%v) = (%q, %v), want %q", tt.scores, got, ok, tt.want)
			}
		})
	}
}
