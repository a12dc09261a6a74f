// Package labels maps stored category keys (emotion names, dream types) to
// display strings.
//
// Lookups are case- and accent-insensitive: "ANXIÉTÉ", "anxiete" and "anxieux"
// all resolve to "Anxiété". Unknown keys never fail; they are humanized
// ("tres_calme" becomes "Tres calme").
package labels

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EmotionLabels maps the model's emotion keys to display labels.
var EmotionLabels = map[string]string{
	"heureux":   "Joie",
	"anxieux":   "Anxiété",
	"triste":    "Tristesse",
	"en_colere": "Colère",
	"fatigue":   "Fatigue",
	"apeure":    "Peur",
	"surpris":   "Surprise",
	"serein":    "Sérénité",
}

// DreamTypeLabels maps dream-type keys to display labels.
var DreamTypeLabels = map[string]string{
	"reve":      "Rêve",
	"cauchemar": "Cauchemar",
}

// extraEmotions are emotion nouns the model emits directly instead of the
// adjective keys above.
var extraEmotions = []string{
	"Bonheur", "Confiance", "Calme", "Amour", "Espoir", "Émerveillement",
	"Nostalgie", "Confusion", "Honte", "Culpabilité", "Dégoût", "Solitude",
}

// maxFuzzyDistance is the Damerau-Levenshtein distance still accepted as a
// typo of a known key. Keys shorter than minFuzzyLen must match exactly.
const (
	maxFuzzyDistance = 1
	minFuzzyLen      = 5
)

var (
	emotionIndex   = buildIndex(EmotionLabels, extraEmotions)
	dreamTypeIndex = buildIndex(DreamTypeLabels, nil)
)

// Casers are stateful, so each call gets its own.
func lower(s string) string { return cases.Lower(language.French).String(s) }
func title(s string) string { return cases.Title(language.French).String(s) }

// Fold lowercases s, strips diacritics and trims surrounding space.
// Fold("  Sérénité ") == "serenite".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return lower(out)
}

// Emotion returns the display label for an emotion key.
func Emotion(key string) string {
	return lookup(emotionIndex, key)
}

// DreamType returns the display label for a dream-type key.
func DreamType(key string) string {
	return lookup(dreamTypeIndex, key)
}

// Humanize turns an unknown key into a display string: separators become
// spaces and the first letter is upper-cased.
func Humanize(key string) string {
	s := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(key))
	if s == "" {
		return ""
	}
	words := strings.Fields(lower(s))
	words[0] = title(words[0])
	return strings.Join(words, " ")
}

// SameKey reports whether a and b denote the same key once folded.
func SameKey(a, b string) bool {
	return Fold(a) == Fold(b)
}

func buildIndex(table map[string]string, extra []string) map[string]string {
	idx := make(map[string]string, 2*len(table)+len(extra))
	for k, v := range table {
		idx[Fold(k)] = v
		idx[Fold(strings.ReplaceAll(k, "_", " "))] = v
		idx[Fold(v)] = v
	}
	for _, v := range extra {
		idx[Fold(v)] = v
	}
	return idx
}

func lookup(idx map[string]string, key string) string {
	folded := Fold(key)
	if folded == "" {
		return ""
	}
	if v, ok := idx[folded]; ok {
		return v
	}
	if len(folded) >= minFuzzyLen {
		best, bestDist := "", maxFuzzyDistance+1
		for k, v := range idx {
			if d := matchr.DamerauLevenshtein(folded, k); d < bestDist || (d == bestDist && v < best) {
				best, bestDist = v, d
			}
		}
		if bestDist <= maxFuzzyDistance {
			return best
		}
	}
	return Humanize(key)
}
