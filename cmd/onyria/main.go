// Command onyria serves the Onyria dream journal API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/onyria/onyria/internal/app"
	"github.com/onyria/onyria/internal/config"
	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/pkg/provider/embeddings"
	oaembed "github.com/onyria/onyria/pkg/provider/embeddings/openai"
	"github.com/onyria/onyria/pkg/provider/llm"
	"github.com/onyria/onyria/pkg/provider/llm/anyllm"
	oaillm "github.com/onyria/onyria/pkg/provider/llm/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("ONYRIA_CONFIG"),
		"path to the YAML configuration file; empty configures from the environment only")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "onyria: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "onyria: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("onyria starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	return code
}

// registerBuiltinProviders wires the provider factories that ship with
// Onyria. Mistral and OpenAI go through openai-go's compatible endpoint;
// Groq and Ollama go through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("mistral", func(e config.ProviderEntry) (llm.Provider, error) {
		base := e.BaseURL
		if base == "" {
			base = oaillm.MistralBaseURL
		}
		return oaillm.New(e.APIKey, e.Model, oaillm.WithBaseURL(base), oaillm.WithTimeout(e.Timeout))
	})
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []oaillm.Option{oaillm.WithTimeout(e.Timeout)}
		if e.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(e.BaseURL))
		}
		return oaillm.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range []string{"groq", "ollama"} {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	reg.RegisterEmbeddings("mistral", func(e config.ProviderEntry) (embeddings.Provider, error) {
		base := e.BaseURL
		if base == "" {
			base = oaillm.MistralBaseURL
		}
		return oaembed.New(e.APIKey, e.Model, oaembed.WithBaseURL(base), oaembed.WithTimeout(e.Timeout))
	})
	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{oaembed.WithTimeout(e.Timeout)}
		if e.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(e.BaseURL))
		}
		return oaembed.New(e.APIKey, e.Model, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames())
}

// buildProviders instantiates the chat and embeddings providers named in
// cfg. A missing embeddings key disables related dreams instead of failing.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	chat, err := reg.CreateLLM(cfg.Providers.Chat)
	if err != nil {
		return nil, fmt.Errorf("create chat provider %q: %w", cfg.Providers.Chat.Name, err)
	}
	slog.Info("provider created", "kind", "chat", "name", cfg.Providers.Chat.Name)
	ps := &app.Providers{Chat: chat}

	entry := cfg.Providers.Embeddings
	if entry.APIKey == "" {
		slog.Warn("no embeddings api key; related dreams are disabled", "name", entry.Name)
		return ps, nil
	}
	emb, err := reg.CreateEmbeddings(entry)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
	}
	ps.Embeddings = emb
	slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", entry.Model)
	return ps, nil
}
