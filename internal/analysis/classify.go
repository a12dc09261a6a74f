package analysis

import (
	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/labels"
	"github.com/onyria/onyria/internal/prompt"
)

// Classifier labels a dream from its emotion scores.
type Classifier struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewClassifier builds a classifier from tax. Keys are compared
// case- and accent-insensitively.
func NewClassifier(tax prompt.Taxonomy) *Classifier {
	return &Classifier{positive: foldSet(tax.Positive), negative: foldSet(tax.Negative)}
}

func foldSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[labels.Fold(k)] = struct{}{}
	}
	return out
}

// Classify returns TypeNightmare when the mean negative score exceeds the
// mean positive score, TypeDream otherwise. ok is false for nil scores. An
// empty side counts as a mean of zero.
func (c *Classifier) Classify(scores dream.Emotions) (t dream.Type, ok bool) {
	if scores == nil {
		return "", false
	}
	var pos, neg []float64
	for k, v := range scores {
		key := labels.Fold(k)
		if _, hit := c.positive[key]; hit {
			pos = append(pos, v)
		}
		if _, hit := c.negative[key]; hit {
			neg = append(neg, v)
		}
	}
	if mean(neg) > mean(pos) {
		return dream.TypeNightmare, true
	}
	return dream.TypeDream, true
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(max(len(vs), 1))
}
