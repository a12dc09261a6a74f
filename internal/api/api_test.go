package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/onyria/onyria/internal/auth"
	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/pipeline"
	"github.com/onyria/onyria/internal/stats"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/store/memstore"
	"github.com/onyria/onyria/internal/theme"
	"github.com/onyria/onyria/internal/transcribe"
)

// fakeSubmitter saves a joyful dream for every submission.
type fakeSubmitter struct {
	dreams *memstore.Store
	err    error
}

func (f *fakeSubmitter) save(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	if in.Empty() {
		return nil, pipeline.ErrNoInput
	}
	if f.err != nil {
		return nil, f.err
	}
	text := in.Text
	if text == "" {
		text = "rêve dicté"
	}
	rec := dream.New(in.UserID, text)
	rec.SetEmotions(dream.Emotions{"joie": 0.8, "peur": 0.2})
	joy := "joie"
	rec.DominantEmotion = &joy
	rec.IsAnalyzed = true
	if err := f.dreams.CreateDream(ctx, rec); err != nil {
		return nil, err
	}
	return &pipeline.Result{Dream: rec}, nil
}

func (f *fakeSubmitter) Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	return f.save(ctx, in)
}

func (f *fakeSubmitter) Stream(ctx context.Context, in pipeline.Input, emit func(pipeline.Event)) (*pipeline.Result, error) {
	for _, s := range []pipeline.Stage{pipeline.StageTranscription, pipeline.StageEmotions, pipeline.StageClassification} {
		emit(pipeline.Event{Stage: s, Data: map[string]string{}})
	}
	res, err := f.save(ctx, in)
	if err != nil {
		emit(pipeline.Event{Stage: pipeline.StageError, Data: map[string]string{"message": pipeline.ErrorMessage}})
		return nil, err
	}
	emit(pipeline.Event{Stage: pipeline.StageImage, Data: map[string]bool{"generated": false}})
	emit(pipeline.Event{Stage: pipeline.StageInterpretation, Data: map[string]string{}})
	emit(pipeline.Event{Stage: pipeline.StageComplete, Data: pipeline.CompletePayload(res)})
	return res, nil
}

type fakeTranscriber struct {
	configured bool
	text       string
	ok         bool
}

func (f *fakeTranscriber) Configured() bool { return f.configured }
func (f *fakeTranscriber) Transcribe(context.Context, transcribe.Audio) (string, bool) {
	return f.text, f.ok
}

type fakeModels struct {
	n   int
	err error
}

func (f *fakeModels) ModelsCount(context.Context) (int, error) { return f.n, f.err }

type fixture struct {
	store    *memstore.Store
	accounts *auth.Service
	submit   *fakeSubmitter
	tr       *fakeTranscriber
	models   *fakeModels
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	ext, err := theme.New(nil)
	require.NoError(t, err)
	tokens := auth.NewTokens("0123456789abcdef0123456789abcdef", "onyria-test", time.Hour)
	f := &fixture{
		store:    st,
		accounts: auth.NewService(st, tokens, auth.WithBcryptCost(bcrypt.MinCost)),
		submit:   &fakeSubmitter{dreams: st},
		tr:       &fakeTranscriber{configured: true, text: "J'ai rêvé d'un oiseau", ok: true},
		models:   &fakeModels{n: 3},
	}
	f.handler = New(Deps{
		Accounts:    f.accounts,
		Dreams:      st,
		Pipeline:    f.submit,
		Transcriber: f.tr,
		Models:      f.models,
		Stats:       stats.New(st, ext),
	}, Options{}, nil).Handler()
	return f
}

// login registers a fresh account and returns its bearer token and ID.
func (f *fixture) login(t *testing.T, email string) (string, uuid.UUID) {
	t.Helper()
	sess, err := f.accounts.Register(context.Background(), auth.Registration{
		Email: email, Username: "rêveuse", Password: "motdepasse",
	})
	require.NoError(t, err)
	return sess.Token, sess.User.ID
}

func (f *fixture) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, body)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func audioForm(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "reve.webm")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAccountsFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/register", "",
		strings.NewReader(`{"email":"Lea@Example.fr","username":"lea","password":"motdepasse","profile":{"sexe":"F"}}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sess sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "lea@example.fr", sess.User.Email)
	assert.NotEmpty(t, sess.Token)

	w = f.do(t, http.MethodPost, "/api/auth/login", "",
		strings.NewReader(`{"email":"lea@example.fr","password":"faux"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeInvalidCredentials, *decodeEnvelope(t, w).Error)

	w = f.do(t, http.MethodPost, "/api/auth/register", "",
		strings.NewReader(`{"email":"lea@example.fr","username":"lea2","password":"motdepasse"}`), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPatch, "/api/me", sess.Token, strings.NewReader(`{"age":29,"bio":"Je rêve en couleurs"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me userResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.NotNil(t, me.Profile.Age)
	assert.Equal(t, 29, *me.Profile.Age)

	w = f.do(t, http.MethodPatch, "/api/me", sess.Token, strings.NewReader(`{"sexe":"Z"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/api/me", sess.Token, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/api/me", sess.Token, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrivateRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/api/me", "/api/dreams", "/api/dashboard", "/api/profile/stats"} {
		w := f.do(t, http.MethodGet, target, "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
		env := decodeEnvelope(t, w)
		assert.False(t, env.OK)
		assert.Equal(t, codeUnauthorized, *env.Error)
	}
}

func TestTranscribeErrors(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "t@example.fr")

	w := f.do(t, http.MethodGet, "/api/transcribe", token, nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, codeMethodNotAllowed, *decodeEnvelope(t, w).Error)

	w = f.do(t, http.MethodPost, "/api/transcribe", token, strings.NewReader("text=x"), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeNoAudio, *decodeEnvelope(t, w).Error)

	body, ct := audioForm(t, nil)
	w = f.do(t, http.MethodPost, "/api/transcribe", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeEmptyAudio, *decodeEnvelope(t, w).Error)

	f.tr.ok = false
	body, ct = audioForm(t, []byte("RIFF"))
	w = f.do(t, http.MethodPost, "/api/transcribe", token, body, ct)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, codeTranscriptionFailed, *decodeEnvelope(t, w).Error)

	f.tr.ok, f.tr.text = true, "   "
	body, ct = audioForm(t, []byte("RIFF"))
	w = f.do(t, http.MethodPost, "/api/transcribe", token, body, ct)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, codeEmptyTranscription, *decodeEnvelope(t, w).Error)

	f.tr.configured = false
	body, ct = audioForm(t, []byte("RIFF"))
	w = f.do(t, http.MethodPost, "/api/transcribe", token, body, ct)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, codeNoAPIKey, *decodeEnvelope(t, w).Error)
}

func TestTranscribeSuccessEnvelope(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "t@example.fr")

	body, ct := audioForm(t, []byte("OggS"))
	w := f.do(t, http.MethodPost, "/api/transcribe", token, body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env := decodeEnvelope(t, w)
	assert.True(t, env.OK)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	for _, got := range []string{env.Message, env.Text, env.Transcript, env.Result, env.Data.Text, env.Data.Transcript} {
		assert.Equal(t, "J'ai rêvé d'un oiseau", got)
	}
}

func TestProviderHealth(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "h@example.fr")

	w := f.do(t, http.MethodGet, "/api/groq/health", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "models_count=3", decodeEnvelope(t, w).Text)

	f.models.err = &transcribe.HTTPError{StatusCode: 401, Body: "invalid key sk-secret"}
	w = f.do(t, http.MethodGet, "/api/groq/health", token, nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, codeProviderHTTP, *env.Error)
	assert.NotContains(t, w.Body.String(), "sk-secret")

	f.models.err = errors.New("dial tcp: no route")
	w = f.do(t, http.MethodGet, "/api/groq/health", token, nil, "")
	assert.Equal(t, codeNetwork, *decodeEnvelope(t, w).Error)
}

func TestSubmitDream(t *testing.T) {
	f := newFixture(t)
	token, uid := f.login(t, "d@example.fr")

	w := f.do(t, http.MethodPost, "/api/dreams", token, strings.NewReader(`{"text":"Je volais au-dessus de la mer"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "Je volais au-dessus de la mer", payload["transcription"])
	assert.Equal(t, "joie", payload["dominant_emotion"])

	recs, err := f.store.ListDreams(context.Background(), uid, store.Window{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	w = f.do(t, http.MethodPost, "/api/dreams", token, strings.NewReader(`{"text":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeNoInput, *decodeEnvelope(t, w).Error)

	f.submit.err = errors.New("provider said: quota exceeded")
	w = f.do(t, http.MethodPost, "/api/dreams", token, strings.NewReader("text=un+rêve"), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, pipeline.ErrorMessage, env.ErrorMessage)
	assert.NotContains(t, w.Body.String(), "quota")
}

func TestStreamDream(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "s@example.fr")

	body, ct := audioForm(t, []byte("OggS"))
	w := f.do(t, http.MethodPost, "/api/dreams/stream", token, body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var stages []string
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			stages = append(stages, name)
		}
	}
	assert.Equal(t, []string{"transcription", "emotions", "classification", "image", "interpretation", "complete"}, stages)

	w = f.do(t, http.MethodPost, "/api/dreams/stream", token, strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamDreamFailureUsesCentralMessage(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "s@example.fr")
	f.submit.err = errors.New("boom")

	w := f.do(t, http.MethodPost, "/api/dreams/stream", token, strings.NewReader(`{"text":"un rêve"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "event: error\n")
	assert.Contains(t, out, pipeline.ErrorMessage)
	assert.NotContains(t, out, "boom")
}

func TestDreamSocket(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "ws@example.fr")
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/dreams/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"text": "Une maison sans portes"}))

	var stages []pipeline.Stage
	for {
		var ev struct {
			Stage pipeline.Stage  `json:"stage"`
			Data  json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err), "read: %v", err)
			break
		}
		stages = append(stages, ev.Stage)
	}
	require.NotEmpty(t, stages)
	assert.Equal(t, pipeline.StageComplete, stages[len(stages)-1])
}

func TestDreamSocketEmptySubmission(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "ws-empty@example.fr")
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/dreams/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"text": "   "}))

	var ev struct {
		Stage pipeline.Stage    `json:"stage"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, pipeline.StageError, ev.Stage)
	assert.Equal(t, codeNoInput, ev.Data["code"])
	assert.Equal(t, pipeline.ErrorMessage, ev.Data["message"])

	err = wsjson.Read(ctx, conn, &ev)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestDreamDiaryIsScopedByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, uid := f.login(t, "a@example.fr")
	otherToken, _ := f.login(t, "b@example.fr")

	res, err := f.submit.Run(ctx, pipeline.Input{UserID: uid, Text: "Un train dans la nuit"})
	require.NoError(t, err)
	rec := res.Dream
	rec.Image, rec.ImageMIME = []byte{0x89, 'P', 'N', 'G'}, "image/png"
	require.NoError(t, f.store.SaveImage(ctx, rec))

	w := f.do(t, http.MethodGet, "/api/dreams", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Dreams []dreamResponse `json:"dreams"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Joie", list.Dreams[0].DominantLabel)
	assert.True(t, list.Dreams[0].HasImage)

	path := "/api/dreams/" + rec.ID.String()
	w = f.do(t, http.MethodGet, path, otherToken, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, path+"/image", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), rec.ImageFilename())

	w = f.do(t, http.MethodGet, "/api/dreams/not-a-uuid", token, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/dreams?period=decade", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, path, otherToken, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, path, token, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, path, token, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSimilarDreams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, uid := f.login(t, "sim@example.fr")

	var ids []uuid.UUID
	for i, vec := range [][]float32{{1, 0}, {0.9, 0.1}, {0, 1}} {
		res, err := f.submit.Run(ctx, pipeline.Input{UserID: uid, Text: "rêve " + string(rune('a'+i))})
		require.NoError(t, err)
		require.NoError(t, f.store.SetEmbedding(ctx, uid, res.Dream.ID, vec))
		ids = append(ids, res.Dream.ID)
	}

	w := f.do(t, http.MethodGet, "/api/dreams/"+ids[0].String()+"/similar?k=1", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Dreams []dreamResponse `json:"dreams"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Dreams, 1)
	assert.Equal(t, ids[1], out.Dreams[0].ID)
	require.NotNil(t, out.Dreams[0].Similarity)

	w = f.do(t, http.MethodGet, "/api/dreams/"+ids[0].String()+"/similar?k=zero", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, uid := f.login(t, "st@example.fr")
	for range 3 {
		_, err := f.submit.Run(ctx, pipeline.Input{UserID: uid, Text: "Je tombais dans le vide"})
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/profile/stats", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var p stats.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, 3, p.TotalDreams)
	assert.Equal(t, 100, p.EmotionPercentage)

	w = f.do(t, http.MethodGet, "/api/dashboard?period=all", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var d stats.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.Len(t, d.EmotionDistribution, 1)
	assert.Equal(t, 3, d.EmotionDistribution[0].Count)

	w = f.do(t, http.MethodGet, "/api/dashboard?start=2026-05-10&end=2026-05-01", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalidRange, *decodeEnvelope(t, w).Error)
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("kaboom") }))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, codeInternal, *decodeEnvelope(t, w).Error)
}
