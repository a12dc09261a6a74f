// Package transcribe converts recorded dream audio to text.
//
// A [Service] writes the upload to a temporary file, sends it through a
// primary [Transport] with exponential backoff on transient failures, and
// falls back to a secondary transport once the primary gives up. Expected
// failures never surface as errors: Transcribe reports them through its ok
// result and the logs. The temporary file is removed on every path.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults for the Groq Whisper endpoint.
const (
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	DefaultModel     = "whisper-large-v3"
	DefaultLanguage  = "fr"
	DefaultAttempts  = 3
	defaultBaseDelay = 1500 * time.Millisecond
	defaultFactor    = 1.5
	shortTranscript  = 3
)

// Request is one transcription call handed to a Transport.
type Request struct {
	// Path is the temporary file holding the audio.
	Path     string
	Filename string
	MIME     string
	Model    string
	Language string
}

// Transport sends a transcription request to a provider.
type Transport interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Audio is an uploaded recording.
type Audio struct {
	Data        []byte
	Filename    string
	ContentType string
	// Language defaults to DefaultLanguage.
	Language string
}

// Service transcribes audio with retry and transport fallback.
type Service struct {
	primary   Transport
	secondary Transport
	model     string
	attempts  int
	baseDelay time.Duration
	factor    float64
	tempDir   string
	timer     func() backoff.Timer
	retryable func(error) bool
	observe   func(ctx context.Context, transport string, err error)
}

// Option configures a Service.
type Option func(*Service)

// WithSecondary sets the transport used after the primary gives up.
func WithSecondary(t Transport) Option {
	return func(s *Service) { s.secondary = t }
}

// WithModel sets the transcription model name.
func WithModel(model string) Option {
	return func(s *Service) {
		if model != "" {
			s.model = model
		}
	}
}

// WithAttempts sets how many times the primary transport is tried.
func WithAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithBackoff sets the first delay and the growth factor between attempts.
func WithBackoff(base time.Duration, factor float64) Option {
	return func(s *Service) {
		s.baseDelay, s.factor = base, factor
	}
}

// WithTempDir sets where upload files are written. Empty uses os.TempDir.
func WithTempDir(dir string) Option {
	return func(s *Service) { s.tempDir = dir }
}

// WithTimer replaces the wall-clock timer used between retries.
func WithTimer(fn func() backoff.Timer) Option {
	return func(s *Service) { s.timer = fn }
}

// WithObserver registers fn to be called after every transport call with
// "primary" or "secondary".
func WithObserver(fn func(ctx context.Context, transport string, err error)) Option {
	return func(s *Service) { s.observe = fn }
}

// NewService returns a Service. A nil primary means no credential is
// configured and every call short-circuits.
func NewService(primary Transport, opts ...Option) *Service {
	s := &Service{
		primary:   primary,
		model:     DefaultModel,
		attempts:  DefaultAttempts,
		baseDelay: defaultBaseDelay,
		factor:    defaultFactor,
		retryable: IsTransient,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Configured reports whether a primary transport is available.
func (s *Service) Configured() bool {
	return s != nil && s.primary != nil
}

// Transcribe returns the text of a. ok is false when no transport produced a
// transcript. A very short transcript is still returned.
func (s *Service) Transcribe(ctx context.Context, a Audio) (text string, ok bool) {
	if !s.Configured() {
		slog.Error("transcribe: no API key configured")
		return "", false
	}
	if len(a.Data) == 0 {
		slog.Warn("transcribe: empty audio")
		return "", false
	}

	name, mime := Normalize(a.Filename, a.ContentType)
	lang := a.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	path, err := s.writeTemp(a.Data, name)
	if err != nil {
		slog.Error("transcribe: write temp file", "err", err)
		return "", false
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("transcribe: remove temp file", "path", path, "err", err)
		}
	}()

	req := Request{Path: path, Filename: name, MIME: mime, Model: s.model, Language: lang}
	slog.Info("transcribe: sending audio", "name", name, "mime", mime, "size", len(a.Data))

	text, err = s.primaryWithRetry(ctx, req)
	if err == nil {
		return s.finish(text), true
	}
	slog.Warn("transcribe: primary transport failed", "attempts", s.attempts, "err", err)

	if s.secondary == nil || ctx.Err() != nil {
		return "", false
	}
	text, err = s.secondary.Transcribe(ctx, req)
	s.record(ctx, "secondary", err)
	if err != nil {
		slog.Error("transcribe: secondary transport failed", "err", err)
		return "", false
	}
	slog.Info("transcribe: secondary transport succeeded")
	return s.finish(text), true
}

func (s *Service) record(ctx context.Context, transport string, err error) {
	if s.observe != nil {
		s.observe(ctx, transport, err)
	}
}

func (s *Service) finish(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < shortTranscript {
		slog.Warn("transcribe: very short transcript", "text", text)
	}
	return text
}

func (s *Service) primaryWithRetry(ctx context.Context, req Request) (string, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          s.factor,
		MaxInterval:         time.Minute,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx)

	attempt := 0
	op := func() (string, error) {
		attempt++
		text, err := s.primary.Transcribe(ctx, req)
		s.record(ctx, "primary", err)
		if err == nil {
			return text, nil
		}
		if !s.retryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("transcribe: transient error, retrying", "attempt", attempt, "wait", wait, "err", err)
	}

	var t backoff.Timer
	if s.timer != nil {
		t = s.timer()
	}
	return backoff.RetryNotifyWithTimerAndData(op, policy, notify, t)
}

func (s *Service) writeTemp(data []byte, name string) (string, error) {
	ext := ".webm"
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = name[i:]
	}
	f, err := os.CreateTemp(s.tempDir, "onyria-audio-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close: %w", err)
	}
	return f.Name(), nil
}

var transientMarkers = []string{
	"connection reset",
	"connection aborted",
	"connection refused",
	"broken pipe",
	"eof",
	"timeout",
	"timed out",
	"deadline exceeded",
	"tls",
	"ssl",
	"handshake",
	"proxy",
	"rate limit",
	"too many requests",
	"429",
	"502",
	"503",
	"bad gateway",
	"service unavailable",
}

// IsTransient reports whether err looks like a network or throttling
// failure worth retrying. It matches on the error text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
