package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memSecrets is a test double for SecretStore.
type memSecrets struct {
	values map[string]string
	err    error
}

func (m *memSecrets) Get(account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (m *memSecrets) Set(account, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[account] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		if s.altEnv != "" {
			t.Setenv(s.altEnv, "")
		}
	}
}

func loadFromPath(path string, secrets SecretStore) (Config, error) {
	return loadWith(newFileBackend(path), secrets)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFromPath(writeTempConfig(t, ""), &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.Name != "gpt-4o" {
		t.Errorf("Model.Name = %q, want gpt-4o", cfg.Model.Name)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("Cache.TTL = %v, want 24h", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelay != 3*time.Second || cfg.Retry.Step != 2*time.Second {
		t.Errorf("Retry = %+v, want 3 attempts, 3s initial, 2s step", cfg.Retry)
	}
	if cfg.Documents.ChunkPages != 50 {
		t.Errorf("Documents.ChunkPages = %d, want 50", cfg.Documents.ChunkPages)
	}
	if cfg.Pricing.InputPer1K != 0.01 || cfg.Pricing.OutputPer1K != 0.03 {
		t.Errorf("Pricing = %+v", cfg.Pricing)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
	if err := cfg.RequireAPIKey(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("RequireAPIKey() = %v, want ErrMissingAPIKey", err)
	}
}

// TestYAMLParsing verifies that fields are read from the YAML file.
func TestYAMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
model.name: gpt-4o-mini
model.base_url: http://localhost:9999/v1
cache.ttl: 6h
retry.max_attempts: 5
pricing.input_per_1k: 0.005
documents.chunk_interval: 0s
server.port: 5000
storage.data_dir: /tmp/analyst-test
`
	cfg, err := loadFromPath(writeTempConfig(t, content), &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.Name != "gpt-4o-mini" {
		t.Errorf("Model.Name = %q", cfg.Model.Name)
	}
	if cfg.Model.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("Model.BaseURL = %q", cfg.Model.BaseURL)
	}
	if cfg.Cache.TTL != 6*time.Hour {
		t.Errorf("Cache.TTL = %v", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Pricing.InputPer1K != 0.005 {
		t.Errorf("Pricing.InputPer1K = %v", cfg.Pricing.InputPer1K)
	}
	if cfg.Documents.ChunkInterval != 0 {
		t.Errorf("Documents.ChunkInterval = %v", cfg.Documents.ChunkInterval)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/analyst-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "cache.ttl: 6h\n")
	t.Setenv("ANALYST_CACHE_TTL", "1h")
	t.Setenv("ANALYST_SERVER_PORT", "not-a-number")

	cfg, err := loadFromPath(path, &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want 1h", cfg.Cache.TTL)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("unparseable env should keep default port, got %d", cfg.Server.Port)
	}
}

func TestAPIKeySources(t *testing.T) {
	path := writeTempConfig(t, "")

	t.Run("openai env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-openai")
		cfg, err := loadFromPath(path, &memSecrets{})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Model.APIKey != "sk-openai" {
			t.Errorf("APIKey = %q", cfg.Model.APIKey)
		}
	})

	t.Run("analyst env wins", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-openai")
		t.Setenv("ANALYST_OPENAI_API_KEY", "sk-analyst")
		cfg, err := loadFromPath(path, &memSecrets{})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Model.APIKey != "sk-analyst" {
			t.Errorf("APIKey = %q", cfg.Model.APIKey)
		}
	})

	t.Run("secrets file fallback", func(t *testing.T) {
		clearEnv(t)
		secrets := &memSecrets{values: map[string]string{modelKeyAccount: "sk-stored"}}
		cfg, err := loadFromPath(path, secrets)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Model.APIKey != "sk-stored" {
			t.Errorf("APIKey = %q", cfg.Model.APIKey)
		}
		if err := cfg.RequireAPIKey(); err != nil {
			t.Errorf("RequireAPIKey() = %v", err)
		}
	})
}

func TestValidation(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"port":   "server.port: 70000\n",
		"format": "log.format: xml\n",
		"chunks": "documents.chunk_pages: 0\n",
		"conns":  "server.max_conns: 0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadFromPath(writeTempConfig(t, content), &memSecrets{}); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	b := newFileBackend(path)

	if err := setKey(b, "cache.ttl", "12h"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "cache.ttl", "soon"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, "model.api_key", "sk"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKey(b, "nope", "1"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unknown key error = %v", err)
	}

	cfg, err := loadFromPath(path, &memSecrets{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Cache.TTL != 12*time.Hour || cfg.Server.Port != 4200 {
		t.Errorf("reloaded TTL=%v port=%d", cfg.Cache.TTL, cfg.Server.Port)
	}

	if err := setKey(b, "cache.ttl", ""); err != nil {
		t.Fatalf("clearing key: %v", err)
	}
	cfg, err = loadFromPath(path, &memSecrets{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("cleared key should fall back to default, got %v", cfg.Cache.TTL)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Model.APIKey = "sk-1234567890abcd"
	var found bool
	for _, k := range ShowAll(cfg) {
		if k.Key == "model.api_key" {
			found = true
			if k.Value != "sk-...abcd" {
				t.Errorf("masked value = %q", k.Value)
			}
		}
	}
	if !found {
		t.Error("model.api_key missing from ShowAll")
	}
	for _, k := range ValidKeys() {
		if k == "model.api_key" {
			t.Error("secret listed in ValidKeys")
		}
	}
}

func TestFileSecretsAndAPIToken(t *testing.T) {
	t.Setenv("ANALYST_API_TOKEN", "")
	s := &FileSecrets{Path: filepath.Join(t.TempDir(), "secrets.json")}

	if _, err := s.Get("missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("Get on empty store = %v, want ErrSecretNotFound", err)
	}

	tok, err := GetAPIToken(s)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64", len(tok))
	}
	again, err := GetAPIToken(s)
	if err != nil {
		t.Fatal(err)
	}
	if again != tok {
		t.Error("token must be stable once generated")
	}

	if err := SetSecret(s, " sk-file "); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Get(modelKeyAccount); v != "sk-file" {
		t.Errorf("stored key = %q", v)
	}
	info, err := os.Stat(s.Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}

	t.Setenv("ANALYST_API_TOKEN", "from-env")
	if tok, _ := GetAPIToken(s); tok != "from-env" {
		t.Errorf("env token = %q", tok)
	}
}
