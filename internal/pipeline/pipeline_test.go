package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/analysis"
	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/prompt"
	"github.com/onyria/onyria/internal/resilience"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/store/memstore"
	"github.com/onyria/onyria/internal/transcribe"
	"github.com/onyria/onyria/internal/user"
	embmock "github.com/onyria/onyria/pkg/provider/embeddings/mock"
	llmmock "github.com/onyria/onyria/pkg/provider/llm/mock"
)

const (
	dreamText      = "J'ai rêvé d'un oiseau bleu qui volait"
	emotionReply   = `{"joie": 0.8, "surprise": 0.2}`
	interpretReply = `{"Émotionnelle": "Une joie légère.", "Symbolique": "L'oiseau bleu est la liberté.", "Cognitivo-scientifique": "Consolidation d'un souvenir agréable.", "Freudien": "Un désir d'élévation."}`
)

type fakeTranscriber struct {
	text  string
	ok    bool
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, transcribe.Audio) (string, bool) {
	f.calls++
	return f.text, f.ok
}

type fakeImages struct {
	saver store.Dreams
	ok    bool
	calls int
}

func (f *fakeImages) Generate(ctx context.Context, rec *dream.Record, text string) bool {
	f.calls++
	if !f.ok {
		return false
	}
	rec.Image = []byte{0x89, 'P', 'N', 'G'}
	rec.ImageMIME = "image/png"
	rec.ImagePrompt = &text
	return f.saver.SaveImage(ctx, rec) == nil
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, id)
	return nil
}

type fixture struct {
	store  *memstore.Store
	user   *user.User
	llm    *llmmock.Provider
	trans  *fakeTranscriber
	images *fakeImages
	inval  *recordingInvalidator
	emb    *embmock.Provider
	p      *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	u := &user.User{Email: "reveuse@example.fr", Username: "reveuse", PasswordHash: []byte("h")}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	prompts := prompt.MustLoad()
	f := &fixture{
		store: s,
		user:  u,
		llm: &llmmock.Provider{Responses: map[string]string{
			analysis.DefaultEmotionModel:        emotionReply,
			analysis.DefaultInterpretationModel: interpretReply,
		}},
		trans:  &fakeTranscriber{text: dreamText, ok: true},
		images: &fakeImages{saver: s, ok: true},
		inval:  &recordingInvalidator{},
		emb:    &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3},
	}
	caller := resilience.NewCaller(f.llm, nil)
	f.p = New(s, f.trans,
		analysis.NewEmotionAnalyzer(caller, "", prompts.Emotion),
		analysis.NewClassifier(prompts.Taxonomy),
		analysis.NewInterpreter(caller, "", prompts.Interpretation),
		WithImages(f.images),
		WithEmbedder(f.emb),
		WithInvalidator(f.inval),
	)
	return f
}

func (f *fixture) dreams(t *testing.T) []*dream.Record {
	t.Helper()
	list, err := f.store.ListDreams(context.Background(), f.user.ID, store.Window{})
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Text: dreamText})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.trans.calls != 0 {
		t.Errorf("text input was transcribed")
	}

	got, err := f.store.GetDream(context.Background(), f.user.ID, res.Dream.ID)
	if err != nil {
		t.Fatalf("GetDream: %v", err)
	}
	if got.DreamType != dream.TypeDream {
		t.Errorf("dream_type = %q, want %q", got.DreamType, dream.TypeDream)
	}
	if got.Dominant() != "joie" {
		t.Errorf("dominant_emotion = %q, want joie", got.Dominant())
	}
	if !got.IsAnalyzed {
		t.Error("is_analyzed = false")
	}
	interp := got.Interpretation()
	if len(interp) != 4 {
		t.Fatalf("interpretation = %v, want 4 keys", interp)
	}
	for _, lens := range dream.Lenses {
		if interp[lens] == "" || interp[lens] == dream.Placeholder {
			t.Errorf("lens %q = %q", lens, interp[lens])
		}
	}
	var sum float64
	for _, v := range got.Emotions() {
		sum += v
	}
	if sum < 1-1e-5 || sum > 1+1e-5 {
		t.Errorf("emotion sum = %v, want 1", sum)
	}
	if !res.Image || !got.HasImage() {
		t.Error("image not attached")
	}
	if len(f.emb.Texts) != 1 || len(res.Dream.Embedding) != 3 {
		t.Errorf("embedding not stored: texts=%v", f.emb.Texts)
	}
	if len(f.inval.users) != 1 || f.inval.users[0] != f.user.ID {
		t.Errorf("invalidated = %v", f.inval.users)
	}
}

func TestRun_TranscribesAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Audio: &transcribe.Audio{Data: []byte("webm")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.trans.calls != 1 || res.Dream.Transcription != dreamText {
		t.Errorf("calls = %d, transcription = %q", f.trans.calls, res.Dream.Transcription)
	}
}

func TestRun_NoInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Text: "   "})
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("err = %v, want ErrNoInput", err)
	}
}

func TestRun_TranscriptionFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.trans.ok = false

	_, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Audio: &transcribe.Audio{Data: []byte("x")}})
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	if len(f.llm.Models()) != 0 {
		t.Errorf("models called after transcription failure: %v", f.llm.Models())
	}
}

func TestRun_UnusableEmotions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.Responses[analysis.DefaultEmotionModel] = `{"joie": "beaucoup"}`

	_, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Text: dreamText})
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	if n := len(f.dreams(t)); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

func TestRun_InterpretationFailureDeletesRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.Errors = map[string]error{analysis.DefaultInterpretationModel: errors.New("401 invalid api key")}

	_, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Text: dreamText})
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	if n := len(f.dreams(t)); n != 0 {
		t.Errorf("partial record left behind: %d records", n)
	}
	if f.images.calls != 0 {
		t.Error("sync variant illustrated before interpreting")
	}
	if len(f.inval.users) != 0 {
		t.Error("cache invalidated for a failed submission")
	}
}

func TestRun_ImageFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.images.ok = false

	res, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Text: dreamText})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Image || res.Dream.HasImage() {
		t.Error("image reported despite failure")
	}
	if !res.Dream.IsAnalyzed {
		t.Error("record not analyzed")
	}
}

func TestRun_EmbeddingFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.emb.EmbedErr = errors.New("embeddings down")

	if _, err := f.p.Run(context.Background(), Input{UserID: f.user.ID, Text: dreamText}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestStream_StageOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var stages []Stage
	_, err := f.p.Stream(context.Background(), Input{UserID: f.user.ID, Text: dreamText}, func(e Event) {
		stages = append(stages, e.Stage)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := []Stage{StageTranscription, StageEmotions, StageClassification, StageImage, StageInterpretation, StageComplete}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}
}

func TestStream_FailureEmitsCentralMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.Responses[analysis.DefaultInterpretationModel] = "pas du JSON"

	var last Event
	_, err := f.p.Stream(context.Background(), Input{UserID: f.user.ID, Text: dreamText}, func(e Event) { last = e })
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v", err)
	}
	if last.Stage != StageError {
		t.Fatalf("last stage = %q, want error", last.Stage)
	}
	if msg := last.Data.(map[string]string)["message"]; msg != ErrorMessage {
		t.Errorf("message = %q", msg)
	}
	if f.images.calls != 1 {
		t.Errorf("image calls = %d, want 1 (image precedes interpretation)", f.images.calls)
	}
	if n := len(f.dreams(t)); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}
