// Package dream holds the dream record and the value types attached to it:
// dream type, emotion scores and the four-lens interpretation.
//
// Emotion scores and the interpretation are persisted as JSON text. Reading
// them never fails: corrupt or missing JSON decodes to an empty map.
package dream

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/labels"
)

// Type is the stored dream-type key.
type Type string

const (
	TypeDream     Type = "rêve"
	TypeNightmare Type = "cauchemar"
)

// ParseType accepts any casing or accent variant of the two keys.
func ParseType(s string) (Type, bool) {
	switch labels.Fold(s) {
	case "reve":
		return TypeDream, true
	case "cauchemar":
		return TypeNightmare, true
	}
	return "", false
}

// Label returns the display label ("Rêve", "Cauchemar").
func (t Type) Label() string {
	return labels.DreamType(string(t))
}

// Valid reports whether t is one of the two stored keys.
func (t Type) Valid() bool {
	return t == TypeDream || t == TypeNightmare
}

// Emotions maps an emotion key to its probability.
type Emotions map[string]float64

// Record is one user's dream submission.
type Record struct {
	ID     uuid.UUID
	UserID uuid.UUID

	Transcription string

	// EmotionsJSON is the serialized Emotions, nil until analysis ran.
	EmotionsJSON *string
	// DominantEmotion is the emotion key, not its display label.
	DominantEmotion *string
	DreamType       Type

	// InterpretationJSON is the serialized Interpretation.
	InterpretationJSON *string

	Image       []byte
	ImageMIME   string
	ImagePrompt *string

	// Embedding is the transcription vector used for related-dream lookup.
	Embedding []float32

	IsAnalyzed bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// New returns an unsaved record owned by userID with default values.
func New(userID uuid.UUID, transcription string) *Record {
	return &Record{
		ID:            uuid.New(),
		UserID:        userID,
		Transcription: transcription,
		DreamType:     TypeDream,
	}
}

// Emotions decodes EmotionsJSON. Missing or corrupt JSON yields an empty map.
func (r *Record) Emotions() Emotions {
	out := Emotions{}
	if r.EmotionsJSON == nil || *r.EmotionsJSON == "" {
		return out
	}
	if err := json.Unmarshal([]byte(*r.EmotionsJSON), &out); err != nil {
		return Emotions{}
	}
	return out
}

// SetEmotions serializes e into EmotionsJSON; nil clears it.
func (r *Record) SetEmotions(e Emotions) {
	if e == nil {
		r.EmotionsJSON = nil
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		r.EmotionsJSON = nil
		return
	}
	s := string(b)
	r.EmotionsJSON = &s
}

// Interpretation decodes InterpretationJSON into the four lenses. Missing or
// corrupt JSON yields an empty map.
func (r *Record) Interpretation() map[string]string {
	if r.InterpretationJSON == nil || *r.InterpretationJSON == "" {
		return map[string]string{}
	}
	in, err := ParseInterpretation(*r.InterpretationJSON)
	if err != nil || in == nil {
		return map[string]string{}
	}
	return in.Map()
}

// SetInterpretation serializes in into InterpretationJSON; nil clears it.
func (r *Record) SetInterpretation(in *Interpretation) {
	if in == nil {
		r.InterpretationJSON = nil
		return
	}
	b, err := json.Marshal(in)
	if err != nil {
		r.InterpretationJSON = nil
		return
	}
	s := string(b)
	r.InterpretationJSON = &s
}

// HasImage reports whether an image is attached. Listings leave Image empty
// but keep ImageMIME set.
func (r *Record) HasImage() bool {
	return len(r.Image) > 0 || r.ImageMIME != ""
}

// ImageFilename is the download name of the image:
// dream_<id>_<YYYYmmdd_HHMMSS>.png.
func (r *Record) ImageFilename() string {
	ext := ".png"
	switch r.ImageMIME {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("dream_%s_%s%s", r.ID, r.UpdatedAt.UTC().Format("20060102_150405"), ext)
}

// ShortTranscription returns the first 100 characters followed by "...".
func (r *Record) ShortTranscription() string {
	const limit = 100
	if utf8.RuneCountInString(r.Transcription) <= limit {
		return r.Transcription
	}
	return string([]rune(r.Transcription)[:limit]) + "..."
}

// Dominant returns the dominant emotion key or "".
func (r *Record) Dominant() string {
	if r.DominantEmotion == nil {
		return ""
	}
	return *r.DominantEmotion
}
