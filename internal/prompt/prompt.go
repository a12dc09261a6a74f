// Package prompt holds the system prompts and the emotion reference taxonomy
// baked into the binary.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/onyria/onyria/internal/dream"
)

//go:embed files
var files embed.FS

// Set is the full collection of prompts used by the analysis pipeline.
type Set struct {
	// Emotion asks for a JSON object of raw emotion scores.
	Emotion string
	// Interpretation asks for the four-lens reading. It ends with the JSON
	// schema of [dream.Interpretation].
	Interpretation string
	// Summary condenses a dream into an image description.
	Summary string
	// ImageInstructions configures the image-generation agent.
	ImageInstructions string
	// Taxonomy splits emotion keys into positive and negative.
	Taxonomy Taxonomy
}

// Taxonomy is the positive/negative emotion reference used to tell dreams
// from nightmares.
type Taxonomy struct {
	Positive []string `json:"positif"`
	Negative []string `json:"negatif"`
}

// Load reads every embedded prompt. It fails only if the binary was built
// without them.
func Load() (*Set, error) {
	read := func(name string) (string, error) {
		b, err := files.ReadFile("files/" + name)
		if err != nil {
			return "", fmt.Errorf("prompt: read %s: %w", name, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var s Set
	var err error
	if s.Emotion, err = read("emotion.txt"); err != nil {
		return nil, err
	}
	if s.Interpretation, err = read("interpretation.txt"); err != nil {
		return nil, err
	}
	if s.Summary, err = read("summary.txt"); err != nil {
		return nil, err
	}
	if s.ImageInstructions, err = read("image_instructions.txt"); err != nil {
		return nil, err
	}

	schema, err := InterpretationSchema()
	if err != nil {
		return nil, err
	}
	s.Interpretation += "\n\n" + schema

	raw, err := files.ReadFile("files/reference_emotions.json")
	if err != nil {
		return nil, fmt.Errorf("prompt: read reference_emotions.json: %w", err)
	}
	if err := json.Unmarshal(raw, &s.Taxonomy); err != nil {
		return nil, fmt.Errorf("prompt: decode reference_emotions.json: %w", err)
	}
	return &s, nil
}

// MustLoad is like Load but panics on error.
func MustLoad() *Set {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

// InterpretationSchema returns the indented JSON schema describing the
// interpretation object the model must return.
func InterpretationSchema() (string, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := r.Reflect(&dream.Interpretation{})
	schema.Version = ""
	schema.ID = ""
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prompt: marshal interpretation schema: %w", err)
	}
	return string(b), nil
}
