package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/pkg/provider/llm"
)

// EmotionResult is a normalized emotion distribution and its arg-max.
type EmotionResult struct {
	Scores        dream.Emotions
	Dominant      string
	DominantScore float64
}

// EmotionAnalyzer scores the emotions of a dream.
type EmotionAnalyzer struct {
	caller Caller
	model  string
	prompt string
}

// NewEmotionAnalyzer returns an analyzer calling model with the given system
// prompt. An empty model selects DefaultEmotionModel.
func NewEmotionAnalyzer(caller Caller, model, systemPrompt string) *EmotionAnalyzer {
	if model == "" {
		model = DefaultEmotionModel
	}
	return &EmotionAnalyzer{caller: caller, model: model, prompt: systemPrompt}
}

// Analyze returns the softmax-normalized scores for text. It returns
// (nil, nil) if no model answered or the answer holds no numeric score.
func (a *EmotionAnalyzer) Analyze(ctx context.Context, text string) (*EmotionResult, error) {
	resp, err := a.caller.SafeCall(ctx, a.model, llm.UserPrompt(a.model, a.prompt, text, true), "emotion analysis")
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	raw, ok := ParseScores(resp.Content)
	if !ok {
		slog.Warn("emotion analysis: unusable model reply", "model", resp.Model, "content", truncate(resp.Content, 200))
		return nil, nil
	}
	scores := Softmax(raw)
	key, score := Dominant(scores)
	return &EmotionResult{Scores: scores, Dominant: key, DominantScore: score}, nil
}

// ParseScores decodes a model reply into raw emotion scores.
//
// The reply may be an object or a list of [key, value] pairs. Values are
// coerced to float64; entries that cannot be coerced are dropped. ok is
// false when nothing survives.
func ParseScores(content string) (map[string]float64, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	var entries map[string]any
	switch t := v.(type) {
	case map[string]any:
		entries = t
	case []any:
		entries = pairsToMap(t)
		if entries == nil {
			return nil, false
		}
	default:
		return nil, false
	}

	out := make(map[string]float64, len(entries))
	for k, raw := range entries {
		f, ok := toFloat(raw)
		if !ok {
			slog.Debug("emotion analysis: dropping non-numeric score", "emotion", k, "value", raw)
			continue
		}
		out[k] = f
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// pairsToMap turns [["joie", 0.8], ...] into a map. Any element that is not a
// two-element list with a string key makes the whole list unusable.
func pairsToMap(list []any) map[string]any {
	out := make(map[string]any, len(list))
	for _, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil
		}
		k, ok := pair[0].(string)
		if !ok {
			return nil
		}
		out[k] = pair[1]
	}
	return out
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		var err error
		if f, err = t.Float64(); err != nil {
			return 0, false
		}
	case float64:
		f = t
	case bool:
		if t {
			f = 1
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(t, ",", ".")), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Softmax maps raw scores to a probability distribution. Output values are in
// (0, 1], sum to 1 and keep the order of the inputs. An empty input yields an
// empty map.
func Softmax(raw map[string]float64) dream.Emotions {
	out := make(dream.Emotions, len(raw))
	if len(raw) == 0 {
		return out
	}
	// Shifting by the maximum keeps exp from overflowing without changing
	// the result.
	peak := math.Inf(-1)
	for _, v := range raw {
		peak = max(peak, v)
	}
	var sum float64
	for k, v := range raw {
		e := math.Exp(v - peak)
		out[k] = e
		sum += e
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// Dominant returns the highest-scoring entry. Ties go to the
// lexicographically smallest key. An empty map yields ("", 0).
func Dominant(scores map[string]float64) (string, float64) {
	if len(scores) == 0 {
		return "", 0
	}
	var (
		best  string
		score = math.Inf(-1)
	)
	for k, v := range scores {
		if v > score || (v == score && k < best) {
			best, score = k, v
		}
	}
	return best, score
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
