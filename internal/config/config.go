// Package config provides the configuration schema, loader, provider
// registry and file watcher for the Onyria server.
//
// Values come from an optional YAML file, then the environment, then the
// env-default tags: env > YAML > defaults.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LogLevel  LogLevel        `yaml:"log_level" env:"ONYRIA_LOG_LEVEL" env-default:"info"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Themes    ThemesConfig    `yaml:"themes"`
}

// ServerConfig holds HTTP server settings. WriteTimeout also bounds
// streamed analyses.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"      env:"ONYRIA_LISTEN_ADDR"      env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"ONYRIA_READ_TIMEOUT"     env-default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"ONYRIA_WRITE_TIMEOUT"    env-default:"5m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ONYRIA_SHUTDOWN_TIMEOUT" env-default:"15s"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"ONYRIA_MAX_UPLOAD_BYTES" env-default:"26214400"`
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"       env:"ONYRIA_DATABASE_DSN"`
	MaxConns int32  `yaml:"max_conns" env:"ONYRIA_DATABASE_MAX_CONNS" env-default:"10"`
}

// RedisConfig holds the stats cache settings. An empty Addr disables the
// cache.
type RedisConfig struct {
	Addr string        `yaml:"addr" env:"ONYRIA_REDIS_ADDR"`
	TTL  time.Duration `yaml:"ttl"  env:"ONYRIA_REDIS_TTL" env-default:"10m"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"ONYRIA_JWT_SECRET"`
	Issuer    string        `yaml:"issuer"     env:"ONYRIA_JWT_ISSUER" env-default:"onyria"`
	TokenTTL  time.Duration `yaml:"token_ttl"  env:"ONYRIA_TOKEN_TTL"  env-default:"168h"`
}

// ProvidersConfig selects the provider of each remote capability. Each
// entry's Name is looked up in the [Registry].
type ProvidersConfig struct {
	Chat          ProviderEntry `yaml:"chat"          env-prefix:"ONYRIA_CHAT_"`
	Transcription ProviderEntry `yaml:"transcription" env-prefix:"ONYRIA_TRANSCRIPTION_"`
	Image         ProviderEntry `yaml:"image"         env-prefix:"ONYRIA_IMAGE_"`
	Embeddings    ProviderEntry `yaml:"embeddings"    env-prefix:"ONYRIA_EMBEDDINGS_"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "mistral", "groq").
	Name string `yaml:"name" env:"NAME"`

	// APIKey falls back to MISTRAL_API_KEY or GROQ_API_KEY depending on Name.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// Model selects a model within the provider.
	Model string `yaml:"model" env:"MODEL"`

	// Timeout bounds a single call. Zero keeps the provider default.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Enabled reports whether the entry names a provider.
func (e ProviderEntry) Enabled() bool { return e.Name != "" }

// PipelineConfig tunes the analysis pipeline.
type PipelineConfig struct {
	EmotionModel        string `yaml:"emotion_model"        env:"ONYRIA_EMOTION_MODEL"        env-default:"mistral-small-latest"`
	InterpretationModel string `yaml:"interpretation_model" env:"ONYRIA_INTERPRETATION_MODEL" env-default:"mistral-large-latest"`
	SummaryModel        string `yaml:"summary_model"        env:"ONYRIA_SUMMARY_MODEL"        env-default:"mistral-large-latest"`

	// RawImagePrompt sends the dream text to the image agent without
	// condensing it first.
	RawImagePrompt bool `yaml:"raw_image_prompt" env:"ONYRIA_RAW_IMAGE_PROMPT"`

	// TranscriptionAttempts is the primary transport's retry budget.
	TranscriptionAttempts int `yaml:"transcription_attempts" env:"ONYRIA_TRANSCRIPTION_ATTEMPTS" env-default:"3"`

	// FallbackChain overrides the chat model fallback order, keyed by
	// primary model.
	FallbackChain map[string][]string `yaml:"fallback_chain"`
}

// ThemesConfig holds the recurring-theme thresholds. They can be changed
// without a restart.
type ThemesConfig struct {
	MinDreams     int `yaml:"min_dreams"     env:"ONYRIA_THEMES_MIN_DREAMS"     env-default:"2"`
	MinOccurrence int `yaml:"min_occurrence" env:"ONYRIA_THEMES_MIN_OCCURRENCE" env-default:"2"`
}
