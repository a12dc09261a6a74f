// Package embeddings defines the text embedding backend used for related
// dreams.
//
// A transcription is embedded once, after analysis. Vectors from one
// Provider always have the same length, which is what the store compares.
package embeddings

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrEmptyInput is returned by Embed for blank text.
var ErrEmptyInput = errors.New("embeddings: empty input")

// Provider maps text to a dense vector. Implementations are safe for
// concurrent use.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the length of every returned vector.
	Dimensions() int
}

// Prepare trims text and cuts it to at most maxRunes runes on a word
// boundary where one exists. maxRunes <= 0 disables the cut.
func Prepare(text string, maxRunes int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text, nil
	}
	cut := string([]rune(text)[:maxRunes])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return cut, nil
}
