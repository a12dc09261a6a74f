package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/labels"
	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/pipeline"
	"github.com/onyria/onyria/internal/stats"
	"github.com/onyria/onyria/internal/store"
)

const maxSimilar = 20

type dreamResponse struct {
	ID                 uuid.UUID         `json:"id"`
	Transcription      string            `json:"transcription"`
	ShortTranscription string            `json:"short_transcription"`
	DreamType          dream.Type        `json:"dream_type"`
	DreamTypeLabel     string            `json:"dream_type_label"`
	DominantEmotion    string            `json:"dominant_emotion,omitempty"`
	DominantLabel      string            `json:"dominant_emotion_label,omitempty"`
	Emotions           dream.Emotions    `json:"emotions,omitempty"`
	Interpretation     map[string]string `json:"interpretation,omitempty"`
	HasImage           bool              `json:"has_image"`
	ImageURL           string            `json:"image_url,omitempty"`
	IsAnalyzed         bool              `json:"is_analyzed"`
	CreatedAt          time.Time         `json:"created_at"`
	Similarity         *float64          `json:"similarity,omitempty"`
}

func toDreamResponse(rec *dream.Record) dreamResponse {
	resp := dreamResponse{
		ID:                 rec.ID,
		Transcription:      rec.Transcription,
		ShortTranscription: rec.ShortTranscription(),
		DreamType:          rec.DreamType,
		DreamTypeLabel:     rec.DreamType.Label(),
		DominantEmotion:    rec.Dominant(),
		Emotions:           rec.Emotions(),
		Interpretation:     rec.Interpretation(),
		HasImage:           rec.HasImage(),
		IsAnalyzed:         rec.IsAnalyzed,
		CreatedAt:          rec.CreatedAt,
	}
	if resp.DominantEmotion != "" {
		resp.DominantLabel = labels.Emotion(resp.DominantEmotion)
	}
	if resp.HasImage {
		resp.ImageURL = "/api/dreams/" + rec.ID.String() + "/image"
	}
	return resp
}

// submission parses a JSON, urlencoded or multipart dream submission.
func (s *Server) submission(w http.ResponseWriter, r *http.Request) (pipeline.Input, error) {
	in := pipeline.Input{UserID: userID(r)}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Text string `json:"text"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return in, err
		}
		in.Text = body.Text
		return in, nil
	}
	audio, err := s.readAudio(w, r)
	if err != nil {
		return in, err
	}
	in.Audio = audio
	in.Text = r.FormValue("text")
	return in, nil
}

func (s *Server) submitDream(w http.ResponseWriter, r *http.Request) {
	in, err := s.submission(w, r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	res, err := s.deps.Pipeline.Run(r.Context(), in)
	if err != nil {
		pipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pipeline.CompletePayload(res))
}

func pipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrNoInput) {
		writeError(w, http.StatusBadRequest, codeNoInput)
		return
	}
	writeErrorMessage(w, http.StatusInternalServerError, codeAnalysisFailed, pipeline.ErrorMessage)
}

// streamDream runs the pipeline and reports each stage as a Server-Sent
// Event. The run continues if the client goes away so a started analysis
// is never left half done.
func (s *Server) streamDream(w http.ResponseWriter, r *http.Request) {
	in, err := s.submission(w, r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if in.Empty() {
		writeError(w, http.StatusBadRequest, codeNoInput)
		return
	}

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	ctx := r.Context()
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(ctx, -1)

	log := observe.Logger(ctx)
	gone := false
	emit := func(ev pipeline.Event) {
		if gone {
			return
		}
		data, err := json.Marshal(ev.Data)
		if err != nil {
			log.Error("api: encode stream event", "stage", ev.Stage, "err", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Stage, data); err != nil {
			gone = true
			log.Info("api: stream client disconnected", "stage", ev.Stage)
			return
		}
		_ = rc.Flush()
	}
	_, _ = s.deps.Pipeline.Stream(context.WithoutCancel(ctx), in, emit)
}

func (s *Server) dreamID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound)
		return
	}
	observe.Logger(r.Context()).Error("api: store operation failed", "err", err)
	writeError(w, http.StatusInternalServerError, codeInternal)
}

// listDreams returns the diary, newest first. Without period, start or end
// parameters every dream is listed.
func (s *Server) listDreams(w http.ResponseWriter, r *http.Request) {
	var win store.Window
	if q := queryOf(r); q != (stats.Query{}) {
		var err error
		if win, err = q.Window(s.now()); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, codeInvalidRange, err.Error())
			return
		}
	}
	recs, err := s.deps.Dreams.ListDreams(r.Context(), userID(r), win)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out := make([]dreamResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDreamResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dreams": out, "count": len(out)})
}

func (s *Server) getDream(w http.ResponseWriter, r *http.Request) {
	id, ok := s.dreamID(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Dreams.GetDream(r.Context(), userID(r), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDreamResponse(rec))
}

func (s *Server) deleteDream(w http.ResponseWriter, r *http.Request) {
	id, ok := s.dreamID(w, r)
	if !ok {
		return
	}
	uid := userID(r)
	if err := s.deps.Dreams.DeleteDream(r.Context(), uid, id); err != nil {
		s.storeError(w, r, err)
		return
	}
	if err := s.deps.Stats.Invalidate(r.Context(), uid); err != nil {
		observe.Logger(r.Context()).Warn("api: stats cache invalidation failed", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dreamImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.dreamID(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Dreams.GetDream(r.Context(), userID(r), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if len(rec.Image) == 0 {
		writeError(w, http.StatusNotFound, codeNotFound)
		return
	}
	ct := rec.ImageMIME
	if ct == "" {
		ct = "image/png"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Image)))
	w.Header().Set("Content-Disposition", `inline; filename="`+rec.ImageFilename()+`"`)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(rec.Image)
}

func (s *Server) similarDreams(w http.ResponseWriter, r *http.Request) {
	id, ok := s.dreamID(w, r)
	if !ok {
		return
	}
	k := s.opts.SimilarLimit
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErrorMessage(w, http.StatusBadRequest, codeBadRequest, "k must be a positive integer")
			return
		}
		k = min(n, maxSimilar)
	}
	matches, err := s.deps.Dreams.Similar(r.Context(), userID(r), id, k)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out := make([]dreamResponse, 0, len(matches))
	for _, m := range matches {
		resp := toDreamResponse(m.Dream)
		resp.Similarity = &m.Similarity
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"dreams": out})
}
