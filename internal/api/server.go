// Package api serves the dream journal over HTTP: accounts, dream
// submission (synchronous, Server-Sent Events and websocket), the dream
// diary, statistics and operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/auth"
	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/pipeline"
	"github.com/onyria/onyria/internal/stats"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/transcribe"
	"github.com/onyria/onyria/internal/user"
)

// DefaultMaxUploadBytes bounds request bodies when Options leaves it unset.
const DefaultMaxUploadBytes = 25 << 20

// Accounts is the account service.
type Accounts interface {
	Register(ctx context.Context, r auth.Registration) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Authenticate(ctx context.Context, token string) (uuid.UUID, error)
	Me(ctx context.Context, id uuid.UUID) (*user.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, p user.Profile) (*user.User, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

// Submitter runs dream submissions.
type Submitter interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
	Stream(ctx context.Context, in pipeline.Input, emit func(pipeline.Event)) (*pipeline.Result, error)
}

// Transcriber transcribes standalone recordings.
type Transcriber interface {
	Configured() bool
	Transcribe(ctx context.Context, a transcribe.Audio) (string, bool)
}

// ModelLister checks the transcription provider's key and network path.
type ModelLister interface {
	ModelsCount(ctx context.Context) (int, error)
}

// Stats computes profile and dashboard statistics.
type Stats interface {
	Profile(ctx context.Context, userID uuid.UUID) (stats.Profile, error)
	Dashboard(ctx context.Context, userID uuid.UUID, q stats.Query) (stats.Dashboard, error)
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Deps are the services behind the routes. Health and Metrics are optional.
type Deps struct {
	Accounts    Accounts
	Dreams      store.Dreams
	Pipeline    Submitter
	Transcriber Transcriber
	Models      ModelLister
	Stats       Stats

	Healthz http.HandlerFunc
	Readyz  http.HandlerFunc
	Metrics http.Handler
}

// Options tunes request handling.
type Options struct {
	MaxUploadBytes int64
	// SimilarLimit caps the number of related dreams returned.
	SimilarLimit int
}

// Server routes the API.
type Server struct {
	deps    Deps
	opts    Options
	metrics *observe.Metrics
	now     func() time.Time
}

// New returns a Server. A nil m selects observe.DefaultMetrics.
func New(deps Deps, opts Options, m *observe.Metrics) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.SimilarLimit <= 0 {
		opts.SimilarLimit = 5
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{deps: deps, opts: opts, metrics: m, now: time.Now}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	private := auth.Require(s.deps.Accounts, unauthorized)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, private(h))
	}

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	handle("GET /api/me", s.me)
	handle("PATCH /api/me", s.updateMe)
	handle("DELETE /api/me", s.deleteMe)

	// Any method reaches the transcription handlers so they can answer 405
	// in the envelope format.
	handle("/api/transcribe", s.transcribe)
	handle("/api/groq/health", s.providerHealth)

	handle("POST /api/dreams", s.submitDream)
	handle("POST /api/dreams/stream", s.streamDream)
	handle("GET /api/dreams/ws", s.dreamSocket)
	handle("GET /api/dreams", s.listDreams)
	handle("GET /api/dreams/{id}", s.getDream)
	handle("DELETE /api/dreams/{id}", s.deleteDream)
	handle("GET /api/dreams/{id}/image", s.dreamImage)
	handle("GET /api/dreams/{id}/similar", s.similarDreams)

	handle("GET /api/profile/stats", s.profileStats)
	handle("GET /api/dashboard", s.dashboard)

	if s.deps.Healthz != nil {
		mux.HandleFunc("GET /healthz", s.deps.Healthz)
	}
	if s.deps.Readyz != nil {
		mux.HandleFunc("GET /readyz", s.deps.Readyz)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return observe.Middleware(s.metrics)(Recovery(mux))
}

// userID returns the authenticated user. Routes behind auth.Require always
// have one.
func userID(r *http.Request) uuid.UUID {
	id, _ := auth.UserID(r.Context())
	return id
}
