package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

const modelKeyAccount = "openai_api_key"

type keySpec struct {
	key     string
	typ     keyType
	env     string
	altEnv  string // consulted when env is unset
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "model.api_key", typ: kString, env: "ANALYST_OPENAI_API_KEY", altEnv: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Model.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.APIKey },
	},
	{
		key: "model.base_url", typ: kString, env: "ANALYST_MODEL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Model.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.BaseURL },
	},
	{
		key: "model.name", typ: kString, env: "ANALYST_MODEL_NAME",
		apply:   func(cfg *Config, v any) { cfg.Model.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Name },
	},
	{
		key: "model.timeout", typ: kDuration, env: "ANALYST_MODEL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Model.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Model.Timeout },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "ANALYST_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.sweep_interval", typ: kDuration, env: "ANALYST_CACHE_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Cache.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.SweepInterval },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "ANALYST_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.initial_delay", typ: kDuration, env: "ANALYST_RETRY_INITIAL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.InitialDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.InitialDelay },
	},
	{
		key: "retry.step", typ: kDuration, env: "ANALYST_RETRY_STEP",
		apply:   func(cfg *Config, v any) { cfg.Retry.Step = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.Step },
	},
	{
		key: "breaker.consecutive_failures", typ: kInt, env: "ANALYST_BREAKER_CONSECUTIVE_FAILURES",
		apply:   func(cfg *Config, v any) { cfg.Breaker.ConsecutiveFailures = v.(int) },
		extract: func(cfg Config) any { return cfg.Breaker.ConsecutiveFailures },
	},
	{
		key: "breaker.open_timeout", typ: kDuration, env: "ANALYST_BREAKER_OPEN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Breaker.OpenTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Breaker.OpenTimeout },
	},
	{
		key: "pricing.input_per_1k", typ: kFloat, env: "ANALYST_PRICING_INPUT_PER_1K",
		apply:   func(cfg *Config, v any) { cfg.Pricing.InputPer1K = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.InputPer1K },
	},
	{
		key: "pricing.output_per_1k", typ: kFloat, env: "ANALYST_PRICING_OUTPUT_PER_1K",
		apply:   func(cfg *Config, v any) { cfg.Pricing.OutputPer1K = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.OutputPer1K },
	},
	{
		key: "documents.chunk_pages", typ: kInt, env: "ANALYST_DOCUMENTS_CHUNK_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Documents.ChunkPages = v.(int) },
		extract: func(cfg Config) any { return cfg.Documents.ChunkPages },
	},
	{
		key: "documents.upload_concurrency", typ: kInt, env: "ANALYST_DOCUMENTS_UPLOAD_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Documents.UploadConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Documents.UploadConcurrency },
	},
	{
		key: "documents.chunk_interval", typ: kDuration, env: "ANALYST_DOCUMENTS_CHUNK_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Documents.ChunkInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Documents.ChunkInterval },
	},
	{
		key: "server.port", typ: kInt, env: "ANALYST_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "ANALYST_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "log.level", typ: kString, env: "ANALYST_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "ANALYST_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ANALYST_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
}

// parseValue converts raw text to the Go type of the key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name := s.env
		raw := os.Getenv(name)
		if raw == "" && s.altEnv != "" {
			name = s.altEnv
			raw = os.Getenv(name)
		}
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
