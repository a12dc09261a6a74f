// Package theme finds recurring topics across a user's dreams.
//
// Each dream is tokenized, stop words are dropped, surviving tokens are
// stemmed with the Snowball French stemmer and matched against a fixed
// taxonomy. A theme counts once per dream that mentions it.
package theme

import (
	"cmp"
	_ "embed"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/kljensen/snowball"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/onyria/onyria/internal/labels"
)

// Defaults for Analyze.
const (
	DefaultMinDreams     = 2
	DefaultMinOccurrence = 2
	maxRunnersUp         = 10
	minTokenLen          = 3
	minContainLen        = 4
	minFuzzyLen          = 6
)

// Result messages.
const (
	MsgNotEnoughData = "Pas encore assez de rêves pour dégager un thème récurrent."
	MsgNoRecurrence  = "Aucun thème récurrent détecté pour le moment."
)

//go:embed themes.yaml
var themesYAML []byte

//go:embed stopwords.txt
var stopwordsTxt string

// Count is one theme and the number of dreams mentioning it.
type Count struct {
	Theme      string `json:"theme"`
	Dreams     int    `json:"dreams"`
	Percentage int    `json:"percentage"`
}

// Result is the recurring-theme summary of a dream history.
type Result struct {
	TopTheme    string  `json:"top_theme"`
	Percentage  int     `json:"percentage"`
	TotalDreams int     `json:"total_dreams"`
	Message     string  `json:"message"`
	Themes      []Count `json:"all_themes"`
}

// Taxonomy maps a theme name to its keywords.
type Taxonomy map[string][]string

// keyword is a word in its two comparable forms.
type keyword struct {
	folded string
	stem   string
}

// Extractor matches dream texts against a taxonomy. It is immutable and
// safe for concurrent use.
type Extractor struct {
	themes    []string
	keywords  map[string][]keyword
	stopwords map[string]struct{}
}

// DefaultTaxonomy returns the embedded theme taxonomy.
func DefaultTaxonomy() (Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(themesYAML, &t); err != nil {
		return nil, fmt.Errorf("theme: decode taxonomy: %w", err)
	}
	return t, nil
}

// New returns an Extractor for tax. A nil tax selects the embedded one.
func New(tax Taxonomy) (*Extractor, error) {
	if tax == nil {
		var err error
		if tax, err = DefaultTaxonomy(); err != nil {
			return nil, err
		}
	}
	e := &Extractor{
		themes:    slices.Sorted(maps.Keys(tax)),
		keywords:  make(map[string][]keyword, len(tax)),
		stopwords: parseStopwords(stopwordsTxt),
	}
	for name, words := range tax {
		for _, w := range words {
			lw := cases.Lower(language.French).String(strings.TrimSpace(w))
			e.keywords[name] = append(e.keywords[name], keyword{folded: labels.Fold(lw), stem: stem(lw)})
		}
	}
	return e, nil
}

func parseStopwords(src string) map[string]struct{} {
	out := make(map[string]struct{})
	for line := range strings.Lines(src) {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		for _, w := range strings.Fields(line) {
			out[labels.Fold(w)] = struct{}{}
		}
	}
	return out
}

// Tokens returns the lower-cased significant words of text.
func (e *Extractor) Tokens(text string) []string {
	fields := strings.FieldsFunc(cases.Lower(language.French).String(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if utf8.RuneCountInString(f) < minTokenLen {
			continue
		}
		if _, stop := e.stopwords[labels.Fold(f)]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Themes returns the sorted set of themes text mentions.
func (e *Extractor) Themes(text string) []string {
	tokens := e.Tokens(text)
	folded := make([]keyword, len(tokens))
	for i, t := range tokens {
		folded[i] = keyword{folded: labels.Fold(t), stem: stem(t)}
	}
	var out []string
	for _, name := range e.themes {
		if e.mentions(name, folded) {
			out = append(out, name)
		}
	}
	return out
}

func (e *Extractor) mentions(theme string, tokens []keyword) bool {
	for _, kw := range e.keywords[theme] {
		for _, tok := range tokens {
			if matches(tok, kw) {
				return true
			}
		}
	}
	return false
}

// matches applies, in order: exact match, equal stems, containment either
// way for words long enough, and a one-edit typo allowance. Stems are taken
// before accent folding so that "mer" and "mère" stay apart.
func matches(tok, kw keyword) bool {
	if tok.folded == kw.folded || tok.stem == kw.stem {
		return true
	}
	a, b := tok.folded, kw.folded
	if len(a) >= minContainLen && len(b) >= minContainLen &&
		(strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}
	return len(a) >= minFuzzyLen && len(b) >= minFuzzyLen &&
		matchr.DamerauLevenshtein(a, b) <= 1
}

// Analyze computes the recurring themes of texts. Empty texts are ignored.
func (e *Extractor) Analyze(texts []string, minDreams, minOccurrence int) Result {
	if minDreams <= 0 {
		minDreams = DefaultMinDreams
	}
	if minOccurrence <= 0 {
		minOccurrence = DefaultMinOccurrence
	}

	var docs []string
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			docs = append(docs, t)
		}
	}
	total := len(docs)
	if total < minDreams {
		return Result{TotalDreams: total, Message: MsgNotEnoughData}
	}

	freq := make(map[string]int)
	for _, d := range docs {
		for _, th := range e.Themes(d) {
			freq[th]++
		}
	}

	var counts []Count
	for th, n := range freq {
		if n >= minOccurrence {
			counts = append(counts, Count{Theme: th, Dreams: n, Percentage: percent(n, total)})
		}
	}
	if len(counts) == 0 {
		return Result{TotalDreams: total, Message: MsgNoRecurrence}
	}
	slices.SortFunc(counts, func(a, b Count) int {
		if c := cmp.Compare(b.Dreams, a.Dreams); c != 0 {
			return c
		}
		return strings.Compare(a.Theme, b.Theme)
	})

	top := counts[0]
	name := cases.Title(language.French).String(top.Theme)
	slog.Debug("theme: recurring themes", "total_dreams", total, "top", top.Theme, "qualifying", len(counts))
	return Result{
		TopTheme:    name,
		Percentage:  top.Percentage,
		TotalDreams: total,
		Message:     fmt.Sprintf("Le thème « %s » revient dans %d%% de vos rêves.", name, top.Percentage),
		Themes:      counts[:min(len(counts), maxRunnersUp+1)],
	}
}

func stem(word string) string {
	s, err := snowball.Stem(word, "french", true)
	if err != nil || s == "" {
		return word
	}
	return s
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
