package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLen is the shortest accepted signing secret.
const MinJWTSecretLen = 32

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"chat":          {"mistral", "openai", "groq", "ollama"},
	"transcription": {"groq", "openai"},
	"image":         {"mistral"},
	"embeddings":    {"mistral", "openai"},
}

// keyEnv maps provider names to the environment variable holding their key.
var keyEnv = map[string]string{
	"mistral": "MISTRAL_API_KEY",
	"groq":    "GROQ_API_KEY",
	"openai":  "OPENAI_API_KEY",
}

// Load reads the YAML file at path, overlays the environment and validates
// the result. An empty path configures from the environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, which may be nil, overlays
// the environment and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if r != nil {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	applyProviderDefaults(&cfg.Providers)
	applySecrets(&cfg.Providers)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyProviderDefaults(p *ProvidersConfig) {
	def := func(e *ProviderEntry, name, model string) {
		if e.Name == "" {
			e.Name = name
		}
		if e.Model == "" {
			e.Model = model
		}
	}
	def(&p.Chat, "mistral", "")
	def(&p.Transcription, "groq", "whisper-large-v3")
	def(&p.Image, "mistral", "mistral-medium-2505")
	def(&p.Embeddings, "mistral", "mistral-embed")
}

// applySecrets fills missing API keys from the provider's well-known
// variable and strips stray whitespace and line breaks from every key.
func applySecrets(p *ProvidersConfig) {
	for _, e := range []*ProviderEntry{&p.Chat, &p.Transcription, &p.Image, &p.Embeddings} {
		if e.APIKey == "" {
			if env, ok := keyEnv[e.Name]; ok {
				e.APIKey = os.Getenv(env)
			}
		}
		e.APIKey = SanitizeKey(e.APIKey)
	}
}

// SanitizeKey removes CR, LF and surrounding spaces from an API key.
func SanitizeKey(key string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(key))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must be positive", cfg.Server.MaxUploadBytes))
	}

	switch n := len(cfg.Auth.JWTSecret); {
	case n == 0:
		errs = append(errs, errors.New("auth.jwt_secret is required (set ONYRIA_JWT_SECRET)"))
	case n < MinJWTSecretLen:
		errs = append(errs, fmt.Errorf("auth.jwt_secret is %d bytes, need at least %d", n, MinJWTSecretLen))
	}
	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must be positive", cfg.Auth.TokenTTL))
	}

	if cfg.Database.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_conns %d must not be negative", cfg.Database.MaxConns))
	}
	if cfg.Database.DSN == "" {
		slog.Warn("database.dsn is empty; dreams are kept in memory and lost on restart")
	}
	if cfg.Redis.TTL < 0 {
		errs = append(errs, fmt.Errorf("redis.ttl %s must not be negative", cfg.Redis.TTL))
	}

	validateProviderName("chat", cfg.Providers.Chat.Name)
	validateProviderName("transcription", cfg.Providers.Transcription.Name)
	validateProviderName("image", cfg.Providers.Image.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Pipeline.TranscriptionAttempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.transcription_attempts %d must be at least 1", cfg.Pipeline.TranscriptionAttempts))
	}
	for primary, chain := range cfg.Pipeline.FallbackChain {
		if primary == "" {
			errs = append(errs, errors.New("pipeline.fallback_chain has an empty primary model"))
		}
		if slices.Contains(chain, "") {
			errs = append(errs, fmt.Errorf("pipeline.fallback_chain[%s] contains an empty model name", primary))
		}
	}

	if cfg.Themes.MinDreams < 1 {
		errs = append(errs, fmt.Errorf("themes.min_dreams %d must be at least 1", cfg.Themes.MinDreams))
	}
	if cfg.Themes.MinOccurrence < 1 {
		errs = append(errs, fmt.Errorf("themes.min_occurrence %d must be at least 1", cfg.Themes.MinOccurrence))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
