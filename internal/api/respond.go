package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes returned in the "error" field.
const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNoAudio             = "no_audio"
	codeEmptyAudio          = "empty_audio"
	codeNoAPIKey            = "no_api_key"
	codeTranscriptionFailed = "transcription_failed"
	codeEmptyTranscription  = "empty_transcription"
	codeProviderHTTP        = "groq_http_error"
	codeNetwork             = "network_error"
	codeBadRequest          = "bad_request"
	codeNoInput             = "no_input"
	codeAnalysisFailed      = "analysis_failed"
	codeUnauthorized        = "unauthorized"
	codeInvalidCredentials  = "invalid_credentials"
	codeEmailTaken          = "email_taken"
	codeNotFound            = "not_found"
	codeInvalidRange        = "invalid_range"
	codeInternal            = "internal_error"
)

// textData is the nested "data" object of an envelope.
type textData struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Result     string `json:"result"`
	Message    string `json:"message"`
}

// envelope carries the same text under several aliases so any client key
// works.
type envelope struct {
	OK           bool     `json:"ok"`
	Success      bool     `json:"success"`
	Status       int      `json:"status"`
	Error        *string  `json:"error"`
	ErrorMessage string   `json:"errorMessage"`
	Message      string   `json:"message"`
	Text         string   `json:"text"`
	Transcript   string   `json:"transcript"`
	Result       string   `json:"result"`
	Data         textData `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

// writeText answers 200 with text in every alias.
func writeText(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusOK, envelope{
		OK: true, Success: true, Status: http.StatusOK,
		Message: text, Text: text, Transcript: text, Result: text,
		Data: textData{Text: text, Transcript: text, Result: text, Message: text},
	})
}

// writeError answers status with code as both the error and its message.
func writeError(w http.ResponseWriter, status int, code string) {
	writeErrorMessage(w, status, code, code)
}

// writeErrorMessage answers status with a machine code and a display
// message.
func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{
		Status:       status,
		Error:        &code,
		ErrorMessage: message,
	})
}

func unauthorized(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusUnauthorized, codeUnauthorized)
}
