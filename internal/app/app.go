// Package app wires the Onyria subsystems into a running HTTP server.
//
// New builds every subsystem from the config, Run serves until its context
// is cancelled and Shutdown releases what New opened. Tests inject doubles
// through the functional options (WithStore, WithCache, ...); anything not
// injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/onyria/onyria/internal/analysis"
	"github.com/onyria/onyria/internal/api"
	"github.com/onyria/onyria/internal/auth"
	"github.com/onyria/onyria/internal/cache"
	"github.com/onyria/onyria/internal/config"
	"github.com/onyria/onyria/internal/health"
	"github.com/onyria/onyria/internal/imagegen"
	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/pipeline"
	"github.com/onyria/onyria/internal/prompt"
	"github.com/onyria/onyria/internal/resilience"
	"github.com/onyria/onyria/internal/stats"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/store/memstore"
	"github.com/onyria/onyria/internal/store/postgres"
	"github.com/onyria/onyria/internal/theme"
	"github.com/onyria/onyria/internal/transcribe"
	"github.com/onyria/onyria/pkg/provider/embeddings"
	"github.com/onyria/onyria/pkg/provider/llm"
)

// Providers holds the registry-built providers. Chat is required;
// Embeddings may be nil, which disables related dreams.
type Providers struct {
	Chat       llm.Provider
	Embeddings embeddings.Provider
}

// App owns every subsystem's lifetime.
type App struct {
	cfg       *config.Config
	providers *Providers

	store        store.Store
	cache        cache.Cache
	metrics      *observe.Metrics
	metricsHTTP  http.Handler
	logLevel     *slog.LevelVar
	imageAPI     imagegen.AgentAPI
	primary      transcribe.Transport
	secondary    transcribe.Transport
	providerPing api.ModelLister

	cachePing health.Pinger

	caller   *resilience.Caller
	tx       *transcribe.Service
	stats    *stats.Aggregator
	pipeline *pipeline.Pipeline
	accounts *auth.Service
	handler  http.Handler

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option injects a dependency instead of building it from config.
type Option func(*App)

// WithStore injects the persistence layer.
func WithStore(s store.Store) Option { return func(a *App) { a.store = s } }

// WithCache injects the stats cache.
func WithCache(c cache.Cache) Option { return func(a *App) { a.cache = c } }

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithMetricsHandler replaces the Prometheus scrape handler.
func WithMetricsHandler(h http.Handler) Option { return func(a *App) { a.metricsHTTP = h } }

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option { return func(a *App) { a.logLevel = v } }

// WithImageAPI injects the image agent client.
func WithImageAPI(api imagegen.AgentAPI) Option { return func(a *App) { a.imageAPI = api } }

// WithTranscription injects the primary and secondary transcription
// transports and the provider health probe.
func WithTranscription(primary, secondary transcribe.Transport, ping api.ModelLister) Option {
	return func(a *App) {
		a.primary = primary
		a.secondary = secondary
		a.providerPing = ping
	}
}

// New builds the application. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Chat == nil {
		return nil, errors.New("app: a chat provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHTTP == nil {
		a.metricsHTTP = promhttp.Handler()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}
	prompts, err := prompt.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load prompts: %w", err)
	}
	if err := a.initPipeline(prompts); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initAPI()
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.Database.DSN == "" {
		a.store = memstore.New()
		slog.Warn("using in-memory store")
		return nil
	}
	pg, err := postgres.Open(ctx, a.cfg.Database.DSN, postgres.Options{MaxConns: a.cfg.Database.MaxConns})
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	if a.cache == nil {
		if a.cfg.Redis.Addr == "" {
			a.cache = cache.Noop{}
		} else {
			rc, err := cache.Dial(ctx, cache.Options{Addr: a.cfg.Redis.Addr, TTL: a.cfg.Redis.TTL})
			if err != nil {
				return err
			}
			a.cache = rc
			a.closers = append(a.closers, rc.Close)
		}
	}
	if p, ok := a.cache.(health.Pinger); ok {
		a.cachePing = p
	}
	a.cache = cache.Observed(a.cache, a.metrics.RecordCacheLookup)
	return nil
}

func (a *App) initPipeline(prompts *prompt.Set) error {
	p := a.cfg.Pipeline
	a.caller = resilience.NewCaller(a.providers.Chat, resilience.FallbackChain(p.FallbackChain),
		resilience.WithObserver(func(at resilience.Attempt) {
			a.metrics.RecordModelCall(context.Background(), at.Label, at.Model, at.Class.String(), at.Duration)
		}),
	)

	tx, err := a.transcriber()
	if err != nil {
		return err
	}
	a.tx = tx

	themes, err := theme.New(nil)
	if err != nil {
		return err
	}
	a.stats = stats.New(a.store, themes,
		stats.WithCache(a.cache),
		stats.WithThemeThresholds(a.cfg.Themes.MinDreams, a.cfg.Themes.MinOccurrence),
	)

	opts := []pipeline.Option{
		pipeline.WithInvalidator(a.stats),
		pipeline.WithMetrics(a.metrics),
	}
	if g := a.imageGenerator(prompts); g != nil {
		opts = append(opts, pipeline.WithImages(g))
	}
	if a.providers.Embeddings != nil {
		opts = append(opts, pipeline.WithEmbedder(a.providers.Embeddings))
	}
	a.pipeline = pipeline.New(a.store, tx,
		analysis.NewEmotionAnalyzer(a.caller, p.EmotionModel, prompts.Emotion),
		analysis.NewClassifier(prompts.Taxonomy),
		analysis.NewInterpreter(a.caller, p.InterpretationModel, prompts.Interpretation),
		opts...,
	)

	a.accounts = auth.NewService(a.store,
		auth.NewTokens(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL),
		auth.WithInvalidator(a.stats),
	)
	return nil
}

// transcriber builds the transcription service. Without a key the service
// is left unconfigured and every call reports no_api_key.
func (a *App) transcriber() (*transcribe.Service, error) {
	entry := a.cfg.Providers.Transcription
	if a.primary == nil && entry.APIKey != "" {
		primary, err := transcribe.NewOpenAITransport(entry.APIKey, entry.BaseURL, entry.Timeout)
		if err != nil {
			return nil, err
		}
		direct := transcribe.NewHTTPTransport(entry.APIKey, entry.BaseURL, nil)
		a.primary, a.secondary, a.providerPing = primary, direct, direct
	}
	if a.primary == nil {
		slog.Warn("no transcription api key; audio submissions are disabled")
		return transcribe.NewService(nil), nil
	}

	opts := []transcribe.Option{
		transcribe.WithModel(entry.Model),
		transcribe.WithAttempts(a.cfg.Pipeline.TranscriptionAttempts),
		transcribe.WithObserver(a.metrics.RecordTranscription),
	}
	if a.secondary != nil {
		opts = append(opts, transcribe.WithSecondary(a.secondary))
	}
	return transcribe.NewService(a.primary, opts...), nil
}

// imageGenerator returns nil when no image provider key is configured.
func (a *App) imageGenerator(prompts *prompt.Set) pipeline.ImageGenerator {
	entry := a.cfg.Providers.Image
	if a.imageAPI == nil {
		if entry.APIKey == "" {
			slog.Warn("no image api key; dreams will not be illustrated")
			return nil
		}
		a.imageAPI = imagegen.NewClient(entry.APIKey, entry.BaseURL, nil)
	}

	var summarizer imagegen.Caller
	if !a.cfg.Pipeline.RawImagePrompt {
		summarizer = a.caller
	}
	return imagegen.NewGenerator(a.imageAPI, summarizer, a.store, imagegen.Config{
		AgentModel:    entry.Model,
		Instructions:  prompts.ImageInstructions,
		SummaryModel:  a.cfg.Pipeline.SummaryModel,
		SummaryPrompt: prompts.Summary,
	})
}

func (a *App) initAPI() {
	checks := []health.Checker{
		health.Ping("database", a.store),
		health.Keys(map[string]string{
			"chat":          a.cfg.Providers.Chat.APIKey,
			"transcription": a.cfg.Providers.Transcription.APIKey,
		}),
	}
	if a.cachePing != nil {
		checks = append(checks, health.Ping("cache", a.cachePing))
	}
	hh := health.New(checks...)

	srv := api.New(api.Deps{
		Accounts:    a.accounts,
		Dreams:      a.store,
		Pipeline:    a.pipeline,
		Transcriber: a.tx,
		Models:      a.providerPing,
		Stats:       a.stats,
		Healthz:     hh.Healthz,
		Readyz:      hh.Readyz,
		Metrics:     a.metricsHTTP,
	}, api.Options{MaxUploadBytes: a.cfg.Server.MaxUploadBytes}, a.metrics)
	a.handler = srv.Handler()
}

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// ApplyConfig applies a reloaded config. Only the log level and theme
// thresholds change at runtime; other changes are logged and wait for a
// restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThemesChanged {
		a.stats.SetThemeThresholds(d.NewThemes.MinDreams, d.NewThemes.MinOccurrence)
		slog.Info("theme thresholds changed",
			"min_dreams", d.NewThemes.MinDreams,
			"min_occurrence", d.NewThemes.MinOccurrence,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains in-flight requests for up to the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown runs the closers in order. If ctx expires first, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
