// Package imagegen illustrates a dream: the text is condensed into a visual
// description by a chat model, then an image-generation agent renders it and
// the file is downloaded onto the record.
//
// Failures never propagate. Generate reports them through its boolean result
// so that a missing image does not abort the submission.
package imagegen

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/resilience"
	"github.com/onyria/onyria/pkg/provider/llm"
)

// DefaultSummaryModel condenses dreams into image prompts.
const DefaultSummaryModel = "mistral-large-latest"

// Caller is the chat entry point used for the summary step.
type Caller interface {
	SafeCall(ctx context.Context, primary string, req llm.CompletionRequest, label string) (*llm.CompletionResponse, error)
}

// Saver persists the image fields of a record.
type Saver interface {
	SaveImage(ctx context.Context, rec *dream.Record) error
}

// AgentAPI is the three-step agent flow. *Client implements it.
type AgentAPI interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (string, error)
	StartConversation(ctx context.Context, agentID, inputs string) (*Conversation, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

var _ AgentAPI = (*Client)(nil)

// Generator produces and stores dream illustrations.
type Generator struct {
	api          AgentAPI
	caller       Caller
	saver        Saver
	spec         AgentSpec
	summaryModel string
	summary      string

	mu      sync.Mutex
	agentID string
}

// Config holds the generator settings. Zero values select the defaults.
type Config struct {
	AgentModel    string
	Instructions  string
	SummaryModel  string
	SummaryPrompt string
}

// NewGenerator returns a Generator. A nil caller skips the summary step and
// sends the dream text as is.
func NewGenerator(api AgentAPI, caller Caller, saver Saver, cfg Config) *Generator {
	spec := AgentSpec{
		Model:        cfg.AgentModel,
		Name:         AgentName,
		Instructions: cfg.Instructions,
		Temperature:  0.3,
		TopP:         0.95,
	}
	if spec.Model == "" {
		spec.Model = DefaultModel
	}
	summaryModel := cfg.SummaryModel
	if summaryModel == "" {
		summaryModel = DefaultSummaryModel
	}
	return &Generator{api: api, caller: caller, saver: saver, spec: spec, summaryModel: summaryModel, summary: cfg.SummaryPrompt}
}

// Generate renders an image for text and attaches it to rec. It returns
// false when any step fails; rec is left untouched in that case.
func (g *Generator) Generate(ctx context.Context, rec *dream.Record, text string) bool {
	log := slog.With("dream_id", rec.ID)

	prompt := g.imagePrompt(ctx, text)

	agentID, err := g.agent(ctx)
	if err != nil {
		logFailure(log, "create agent", err)
		return false
	}
	conv, err := g.api.StartConversation(ctx, agentID, prompt)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			g.forgetAgent(agentID)
		}
		logFailure(log, "start conversation", err)
		return false
	}
	fileID, ok := conv.FileID()
	if !ok {
		log.Warn("imagegen: no file id in conversation outputs", "outputs", len(conv.Outputs))
		return false
	}

	data, mime, err := g.api.DownloadFile(ctx, fileID)
	if err != nil {
		logFailure(log, "download file", err)
		return false
	}
	if len(data) == 0 {
		log.Warn("imagegen: empty image file", "file_id", fileID)
		return false
	}

	prev := *rec
	rec.Image = data
	rec.ImageMIME = mime
	rec.ImagePrompt = &prompt
	if g.saver != nil {
		if err := g.saver.SaveImage(ctx, rec); err != nil {
			rec.Image, rec.ImageMIME, rec.ImagePrompt = prev.Image, prev.ImageMIME, prev.ImagePrompt
			log.Error("imagegen: save image", "err", err)
			return false
		}
	}
	log.Info("imagegen: image attached", "bytes", len(data), "mime", mime)
	return true
}

// imagePrompt condenses text into a visual description, falling back to the
// text itself when no summary could be produced.
func (g *Generator) imagePrompt(ctx context.Context, text string) string {
	if g.caller == nil || g.summary == "" {
		return text
	}
	resp, err := g.caller.SafeCall(ctx, g.summaryModel, llm.UserPrompt(g.summaryModel, g.summary, text, false), "image prompt")
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("imagegen: summary unavailable, using dream text", "err", err)
		return text
	}
	return strings.TrimSpace(resp.Content)
}

func (g *Generator) agent(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.agentID != "" {
		return g.agentID, nil
	}
	id, err := g.api.CreateAgent(ctx, g.spec)
	if err != nil {
		return "", err
	}
	g.agentID = id
	return id, nil
}

func (g *Generator) forgetAgent(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.agentID == id {
		g.agentID = ""
	}
}

func logFailure(log *slog.Logger, step string, err error) {
	if resilience.IsRecoverable(err) {
		log.Warn("imagegen: provider limit reached", "step", step, "err", err)
		return
	}
	log.Error("imagegen: step failed", "step", step, "err", err)
}
