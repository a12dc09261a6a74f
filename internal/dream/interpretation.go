package dream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/onyria/onyria/internal/labels"
)

// Lens names, in display order.
const (
	LensEmotional = "Émotionnelle"
	LensSymbolic  = "Symbolique"
	LensCognitive = "Cognitivo-scientifique"
	LensFreudian  = "Freudien"
)

// Lenses lists the four interpretation keys in display order.
var Lenses = [4]string{LensEmotional, LensSymbolic, LensCognitive, LensFreudian}

// Placeholder replaces a lens the model did not provide.
const Placeholder = "Interprétation non disponible"

// envelopeFields are the wrapper keys models put around a lens text.
var envelopeFields = [2]string{"contenu", "content"}

// Interpretation is the fixed four-lens reading of a dream.
type Interpretation struct {
	Emotional string `json:"Émotionnelle" jsonschema:"title=Émotionnelle,description=Lecture émotionnelle du rêve"`
	Symbolic  string `json:"Symbolique" jsonschema:"title=Symbolique,description=Lecture des symboles présents"`
	Cognitive string `json:"Cognitivo-scientifique" jsonschema:"title=Cognitivo-scientifique,description=Lecture cognitive et neuroscientifique"`
	Freudian  string `json:"Freudien" jsonschema:"title=Freudien,description=Lecture psychanalytique freudienne"`
}

// Map returns the lenses keyed by name.
func (in Interpretation) Map() map[string]string {
	return map[string]string{
		LensEmotional: in.Emotional,
		LensSymbolic:  in.Symbolic,
		LensCognitive: in.Cognitive,
		LensFreudian:  in.Freudian,
	}
}

func (in *Interpretation) set(lens, text string) {
	switch lens {
	case LensEmotional:
		in.Emotional = text
	case LensSymbolic:
		in.Symbolic = text
	case LensCognitive:
		in.Cognitive = text
	case LensFreudian:
		in.Freudian = text
	}
}

// UnmarshalJSON decodes any object through RepairInterpretation so a decoded
// Interpretation always carries four string lenses.
func (in *Interpretation) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*in = Interpretation{}
		return nil
	}
	*in = *RepairInterpretation(raw)
	return nil
}

// ParseInterpretation parses a model reply. A reply that is not a JSON object
// is an error.
func ParseInterpretation(content string) (*Interpretation, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("dream: parse interpretation: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("dream: parse interpretation: null object")
	}
	return RepairInterpretation(raw), nil
}

// RepairInterpretation normalizes a decoded model reply into the four lenses.
//
// Per lens: a string is kept; an object carrying "contenu" or "content" yields
// that field; any other value is stringified; an absent or null lens becomes
// Placeholder. Keys are matched exactly first, then accent- and
// case-insensitively. A nil input returns nil. It never panics.
func RepairInterpretation(raw map[string]any) *Interpretation {
	if raw == nil {
		return nil
	}
	folded := make(map[string]any, len(raw))
	for k, v := range raw {
		folded[labels.Fold(k)] = v
	}

	out := &Interpretation{}
	for _, lens := range Lenses {
		v, ok := raw[lens]
		if !ok {
			v, ok = folded[labels.Fold(lens)]
		}
		text := Placeholder
		if ok && v != nil {
			text = lensText(v)
		}
		out.set(lens, text)
	}
	return out
}

// lensText is the tagged-union decode of one lens value.
func lensText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, f := range envelopeFields {
			if inner, ok := t[f]; ok {
				if inner == nil {
					return ""
				}
				return stringify(inner)
			}
		}
		return stringify(t)
	default:
		return stringify(t)
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
