package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// fileSecrets stores secrets in a 0600 JSON file next to the data dir.
type fileSecrets struct{}

func (fileSecrets) Get(account string) (string, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return "", fmt.Errorf("secrets store not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets[account], nil
}

func (fileSecrets) Set(account, value string) error {
	path := secretsFilePath()
	secrets := make(map[string]string)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &secrets); err != nil {
			return fmt.Errorf("parsing secrets file: %w", err)
		}
	}
	secrets[account] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// SetSecret stores a named secret. Valid names are the secret config keys'
// last path segments (remote_api_key, api_token).
func SetSecret(account, value string) error {
	return fileSecrets{}.Set(account, value)
}

// ensureAPIToken returns the persisted daemon API token, generating and
// storing a fresh one on first use.
func ensureAPIToken(sec secrets) (string, error) {
	if token, err := sec.Get("api_token"); err == nil && token != "" {
		return token, nil
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := sec.Set("api_token", token); err != nil {
		return "", err
	}
	return token, nil
}
