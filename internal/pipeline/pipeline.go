// Package pipeline runs a dream submission end to end: transcription,
// emotion analysis, classification, interpretation and illustration.
//
// The record is created as soon as the dream is classified. Any later
// failure deletes it again, so a user never sees a half-analyzed dream.
// Image generation is the only stage allowed to fail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/analysis"
	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/transcribe"
	"github.com/onyria/onyria/pkg/provider/embeddings"
)

// ErrorMessage is the only failure text ever shown to users.
const ErrorMessage = "Les fils de votre rêve se sont emmêlés... Laissez-moi démêler ce songe et tentez une nouvelle analyse."

var (
	// ErrAnalysisFailed wraps every stage failure.
	ErrAnalysisFailed = errors.New("pipeline: analysis failed")
	// ErrNoInput is returned when neither text nor audio was submitted.
	ErrNoInput = errors.New("pipeline: no dream text or audio")
)

// Stage names a pipeline step. They double as stream event names.
type Stage string

const (
	StageTranscription  Stage = "transcription"
	StageEmotions       Stage = "emotions"
	StageClassification Stage = "classification"
	StageImage          Stage = "image"
	StageInterpretation Stage = "interpretation"
	StageComplete       Stage = "complete"
	StageError          Stage = "error"
)

// Event is one progress notification of a streamed submission.
type Event struct {
	Stage Stage `json:"stage"`
	Data  any   `json:"data"`
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, a transcribe.Audio) (string, bool)
}

// EmotionAnalyzer scores a dream's emotions.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, text string) (*analysis.EmotionResult, error)
}

// Classifier labels scores as dream or nightmare.
type Classifier interface {
	Classify(scores dream.Emotions) (dream.Type, bool)
}

// Interpreter writes the four-lens interpretation.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (*dream.Interpretation, error)
}

// ImageGenerator illustrates a dream and saves the image on the record.
type ImageGenerator interface {
	Generate(ctx context.Context, rec *dream.Record, text string) bool
}

// Invalidator drops a user's cached stats.
type Invalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Input is one submission. Text wins over Audio when both are set.
type Input struct {
	UserID uuid.UUID
	Text   string
	Audio  *transcribe.Audio
}

// Empty reports whether in carries neither text nor audio.
func (in Input) Empty() bool {
	return strings.TrimSpace(in.Text) == "" && (in.Audio == nil || len(in.Audio.Data) == 0)
}

// Result is a completed submission.
type Result struct {
	Dream *dream.Record
	// Image reports whether an illustration was attached.
	Image bool
}

// Pipeline wires the stage services to the store.
type Pipeline struct {
	dreams      store.Dreams
	transcriber Transcriber
	emotions    EmotionAnalyzer
	classifier  Classifier
	interpreter Interpreter
	images      ImageGenerator
	embedder    embeddings.Provider
	invalidator Invalidator
	metrics     *observe.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithImages enables the illustration stage.
func WithImages(g ImageGenerator) Option { return func(p *Pipeline) { p.images = g } }

// WithEmbedder stores a transcription embedding for related-dream lookup.
func WithEmbedder(e embeddings.Provider) Option { return func(p *Pipeline) { p.embedder = e } }

// WithInvalidator drops cached stats after every saved dream.
func WithInvalidator(i Invalidator) Option { return func(p *Pipeline) { p.invalidator = i } }

// WithMetrics records stage latencies and outcomes.
func WithMetrics(m *observe.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// New returns a Pipeline.
func New(dreams store.Dreams, t Transcriber, e EmotionAnalyzer, c Classifier, i Interpreter, opts ...Option) *Pipeline {
	p := &Pipeline{dreams: dreams, transcriber: t, emotions: e, classifier: c, interpreter: i}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes in synchronously: transcription, emotions, classification,
// interpretation, then the image.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	res, err := p.run(ctx, in, false, nil)
	p.recordSubmission(ctx, "sync", err)
	return res, err
}

// Stream processes in like Run but illustrates before interpreting and
// calls emit after every stage. The final event is StageComplete or
// StageError. emit runs on the calling goroutine.
func (p *Pipeline) Stream(ctx context.Context, in Input, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	res, err := p.run(ctx, in, true, emit)
	if err != nil {
		emit(Event{Stage: StageError, Data: map[string]string{"message": ErrorMessage}})
	} else {
		emit(Event{Stage: StageComplete, Data: CompletePayload(res)})
	}
	p.recordSubmission(ctx, "stream", err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, in Input, imageFirst bool, emit func(Event)) (*Result, error) {
	log := observe.Logger(ctx).With("user_id", in.UserID)
	send := func(s Stage, data any) {
		if emit != nil {
			emit(Event{Stage: s, Data: data})
		}
	}

	text, err := p.text(ctx, in)
	if err != nil {
		return nil, err
	}
	send(StageTranscription, map[string]string{"text": text})

	var emo *analysis.EmotionResult
	err = p.timed(ctx, StageEmotions, func(ctx context.Context) error {
		var err error
		emo, err = p.emotions.Analyze(ctx, text)
		if err == nil && emo == nil {
			err = errors.New("no usable emotion scores")
		}
		return err
	})
	if err != nil {
		return nil, fail(StageEmotions, err)
	}
	send(StageEmotions, map[string]any{
		"emotions":         emo.Scores,
		"dominant_emotion": emo.Dominant,
		"score":            emo.DominantScore,
	})

	typ, ok := p.classifier.Classify(emo.Scores)
	if !ok {
		return nil, fail(StageClassification, errors.New("no emotion data"))
	}
	send(StageClassification, map[string]string{"dream_type": string(typ), "label": typ.Label()})

	rec := dream.New(in.UserID, text)
	rec.SetEmotions(emo.Scores)
	rec.DominantEmotion = &emo.Dominant
	rec.DreamType = typ
	if err := p.dreams.CreateDream(ctx, rec); err != nil {
		return nil, fail(StageClassification, fmt.Errorf("create record: %w", err))
	}
	log = log.With("dream_id", rec.ID)

	res := &Result{Dream: rec}
	illustrate := func() {
		if p.images == nil {
			return
		}
		start := time.Now()
		res.Image = p.images.Generate(ctx, rec, text)
		if p.metrics != nil {
			p.metrics.RecordStage(ctx, string(StageImage), time.Since(start), nil)
			p.metrics.RecordImage(ctx, res.Image)
		}
		if !res.Image {
			log.Warn("pipeline: continuing without image")
		}
		send(StageImage, map[string]any{"generated": res.Image})
	}

	if imageFirst {
		illustrate()
	}
	if err := p.interpret(ctx, rec, text); err != nil {
		p.discard(ctx, log, rec)
		return nil, fail(StageInterpretation, err)
	}
	send(StageInterpretation, map[string]any{"interpretation": rec.Interpretation()})
	if !imageFirst {
		illustrate()
	}

	p.afterSave(ctx, log, rec)
	return res, nil
}

// text returns the submitted text, transcribing audio when needed.
func (p *Pipeline) text(ctx context.Context, in Input) (string, error) {
	if t := strings.TrimSpace(in.Text); t != "" {
		return t, nil
	}
	if in.Empty() {
		return "", ErrNoInput
	}
	var text string
	err := p.timed(ctx, StageTranscription, func(ctx context.Context) error {
		t, ok := p.transcriber.Transcribe(ctx, *in.Audio)
		if !ok || strings.TrimSpace(t) == "" {
			return errors.New("no transcript")
		}
		text = t
		return nil
	})
	if err != nil {
		return "", fail(StageTranscription, err)
	}
	return text, nil
}

func (p *Pipeline) interpret(ctx context.Context, rec *dream.Record, text string) error {
	return p.timed(ctx, StageInterpretation, func(ctx context.Context) error {
		in, err := p.interpreter.Interpret(ctx, text)
		if err != nil {
			return err
		}
		if in == nil {
			return errors.New("no usable interpretation")
		}
		rec.SetInterpretation(in)
		rec.IsAnalyzed = true
		if err := p.dreams.UpdateAnalysis(ctx, rec); err != nil {
			rec.IsAnalyzed = false
			return fmt.Errorf("save analysis: %w", err)
		}
		return nil
	})
}

// discard deletes a partially processed record. It runs even when ctx is
// already cancelled.
func (p *Pipeline) discard(ctx context.Context, log *slog.Logger, rec *dream.Record) {
	ctx = context.WithoutCancel(ctx)
	if err := p.dreams.DeleteDream(ctx, rec.UserID, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("pipeline: delete partial record", "err", err)
		return
	}
	log.Info("pipeline: partial record deleted")
}

// afterSave runs the best-effort follow-ups of a saved dream.
func (p *Pipeline) afterSave(ctx context.Context, log *slog.Logger, rec *dream.Record) {
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, rec.Transcription)
		if err == nil {
			err = p.dreams.SetEmbedding(ctx, rec.UserID, rec.ID, vec)
		}
		if err != nil {
			log.Warn("pipeline: embedding skipped", "err", err)
		} else {
			rec.Embedding = vec
		}
	}
	if p.invalidator != nil {
		if err := p.invalidator.Invalidate(ctx, rec.UserID); err != nil {
			log.Warn("pipeline: stats cache invalidation failed", "err", err)
		}
	}
	log.Info("pipeline: dream analyzed", "dream_type", rec.DreamType, "dominant_emotion", rec.Dominant())
}

func (p *Pipeline) timed(ctx context.Context, s Stage, fn func(context.Context) error) error {
	ctx, end := observe.Stage(ctx, string(s))
	start := time.Now()
	err := fn(ctx)
	end(err)
	if p.metrics != nil {
		p.metrics.RecordStage(ctx, string(s), time.Since(start), err)
	}
	return err
}

func (p *Pipeline) recordSubmission(ctx context.Context, variant string, err error) {
	if p.metrics != nil {
		p.metrics.RecordSubmission(ctx, variant, err)
	}
}

func fail(s Stage, err error) error {
	slog.Error("pipeline: stage failed", "stage", s, "err", err)
	return fmt.Errorf("pipeline: %s: %w: %w", s, ErrAnalysisFailed, err)
}

// CompletePayload is the public view of a finished submission.
func CompletePayload(res *Result) map[string]any {
	rec := res.Dream
	return map[string]any{
		"dream_id":         rec.ID,
		"transcription":    rec.Transcription,
		"dream_type":       rec.DreamType,
		"dominant_emotion": rec.Dominant(),
		"emotions":         rec.Emotions(),
		"interpretation":   rec.Interpretation(),
		"has_image":        rec.HasImage(),
		"is_analyzed":      rec.IsAnalyzed,
	}
}
