package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/transcribe"
)

// readAudio returns the multipart "audio" file of r, or nil when there is
// none.
func (s *Server) readAudio(w http.ResponseWriter, r *http.Request) (*transcribe.Audio, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, hdr, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &transcribe.Audio{
		Data:        data,
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Language:    r.FormValue("language"),
	}, nil
}

// transcribe returns the transcript of an uploaded recording without
// analyzing it.
func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed)
		return
	}
	audio, err := s.readAudio(w, r)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: read upload", "err", err)
		writeError(w, http.StatusBadRequest, codeNoAudio)
		return
	}
	if audio == nil {
		writeError(w, http.StatusBadRequest, codeNoAudio)
		return
	}
	if s.deps.Transcriber == nil || !s.deps.Transcriber.Configured() {
		writeError(w, http.StatusInternalServerError, codeNoAPIKey)
		return
	}
	if len(audio.Data) == 0 {
		writeError(w, http.StatusBadRequest, codeEmptyAudio)
		return
	}
	text, ok := s.deps.Transcriber.Transcribe(r.Context(), *audio)
	if !ok {
		writeError(w, http.StatusBadGateway, codeTranscriptionFailed)
		return
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadGateway, codeEmptyTranscription)
		return
	}
	writeText(w, text)
}

// providerHealth lists the transcription provider's models.
func (s *Server) providerHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed)
		return
	}
	if s.deps.Models == nil {
		writeError(w, http.StatusInternalServerError, codeNoAPIKey)
		return
	}
	n, err := s.deps.Models.ModelsCount(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("api: provider health check failed", "err", err)
		var httpErr *transcribe.HTTPError
		if errors.As(err, &httpErr) {
			writeErrorMessage(w, http.StatusBadGateway, codeProviderHTTP,
				codeProviderHTTP+": "+strconv.Itoa(httpErr.StatusCode))
			return
		}
		writeError(w, http.StatusBadGateway, codeNetwork)
		return
	}
	writeText(w, "models_count="+strconv.Itoa(n))
}
