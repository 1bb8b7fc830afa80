package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const secretService = "analyst"

// SecretStore reads and writes named secrets.
type SecretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

// ErrSecretNotFound is returned when a secret has never been stored.
var ErrSecretNotFound = errors.New("secret not found")

// SecretsFilePath returns $XDG_DATA_HOME/analyst/secrets.json.
func SecretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// FileSecrets keeps secrets in a 0600 JSON file keyed by service and account.
type FileSecrets struct {
	Path string
	mu   sync.Mutex
}

// NewSecretStore returns the default secrets file store.
func NewSecretStore() *FileSecrets {
	return &FileSecrets{Path: SecretsFilePath()}
}

func (f *FileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f *FileSecrets) Get(account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	secrets, err := f.read()
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", err
	}
	val, ok := secrets[secretService][account]
	if !ok || val == "" {
		return "", ErrSecretNotFound
	}
	return val, nil
}

func (f *FileSecrets) Set(account, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[secretService] == nil {
		secrets[secretService] = make(map[string]string)
	}
	secrets[secretService][account] = value

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, out, 0o600)
}

const apiTokenAccount = "api_token"

// GetAPIToken returns the bearer token guarding the HTTP API. ANALYST_API_TOKEN
// wins; otherwise the stored token is used, and one is generated and stored
// on first use.
func GetAPIToken(s SecretStore) (string, error) {
	if tok := os.Getenv("ANALYST_API_TOKEN"); tok != "" {
		return tok, nil
	}
	tok, err := s.Get(apiTokenAccount)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading API token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := s.Set(apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
