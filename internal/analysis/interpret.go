package analysis

import (
	"context"
	"log/slog"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/pkg/provider/llm"
)

// Interpreter produces the four-lens interpretation of a dream.
type Interpreter struct {
	caller Caller
	model  string
	prompt string
}

// NewInterpreter returns an interpreter calling model with the given system
// prompt. An empty model selects DefaultInterpretationModel.
func NewInterpreter(caller Caller, model, systemPrompt string) *Interpreter {
	if model == "" {
		model = DefaultInterpretationModel
	}
	return &Interpreter{caller: caller, model: model, prompt: systemPrompt}
}

// Interpret returns the repaired interpretation of text, or (nil, nil) when no
// model answered or the answer was not a JSON object.
func (i *Interpreter) Interpret(ctx context.Context, text string) (*dream.Interpretation, error) {
	resp, err := i.caller.SafeCall(ctx, i.model, llm.UserPrompt(i.model, i.prompt, text, true), "interpretation")
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	in, err := dream.ParseInterpretation(resp.Content)
	if err != nil {
		slog.Warn("interpretation: unusable model reply", "model", resp.Model, "err", err)
		return nil, nil
	}
	return in, nil
}
