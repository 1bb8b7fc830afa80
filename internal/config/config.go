package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Model     ModelConfig
	Cache     CacheConfig
	Retry     RetryConfig
	Breaker   BreakerConfig
	Pricing   PricingConfig
	Documents DocumentsConfig
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
}

type ModelConfig struct {
	APIKey  string
	BaseURL string
	Name    string
	Timeout time.Duration
}

type CacheConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Step         time.Duration
}

type BreakerConfig struct {
	ConsecutiveFailures int // 0 disables the breaker
	OpenTimeout         time.Duration
}

type PricingConfig struct {
	InputPer1K  float64
	OutputPer1K float64
}

type DocumentsConfig struct {
	ChunkPages        int
	UploadConcurrency int
	ChunkInterval     time.Duration
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	DataDir string
}

func defaults() Config {
	return Config{
		Model: ModelConfig{
			Name:    "gpt-4o",
			Timeout: 2 * time.Minute,
		},
		Cache: CacheConfig{
			TTL:           24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 3 * time.Second,
			Step:         2 * time.Second,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
		Pricing: PricingConfig{
			InputPer1K:  0.01,
			OutputPer1K: 0.03,
		},
		Documents: DocumentsConfig{
			ChunkPages:        50,
			UploadConcurrency: 2,
			ChunkInterval:     1500 * time.Millisecond,
		},
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
	}
}

// ErrMissingAPIKey is returned by RequireAPIKey when no model key is set.
var ErrMissingAPIKey = errors.New("missing required config: model API key")

// Load reads configuration from the YAML file at ConfigFilePath, then
// ANALYST_* environment variables, then the secrets file for the model API
// key. OPENAI_API_KEY is accepted in place of ANALYST_OPENAI_API_KEY.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Model.APIKey == "" && secrets != nil {
		if key, err := secrets.Get(modelKeyAccount); err == nil {
			cfg.Model.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireAPIKey reports ErrMissingAPIKey when the model key is empty.
// Only the server needs the key; CLI commands that talk to it do not.
func (c Config) RequireAPIKey() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("%w. Set ANALYST_OPENAI_API_KEY or OPENAI_API_KEY, or store it with `analyst config set-secret`", ErrMissingAPIKey)
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	case c.Server.MaxConns < 1:
		return fmt.Errorf("server.max_conns must be at least 1, got %d", c.Server.MaxConns)
	case c.Documents.ChunkPages < 1:
		return fmt.Errorf("documents.chunk_pages must be at least 1, got %d", c.Documents.ChunkPages)
	case c.Log.Format != "text" && c.Log.Format != "json":
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
