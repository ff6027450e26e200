package config

import (
	"path/filepath"
	"strings"
	"testing"
)

// mockSecrets is a test double for the secrets interface.
type mockSecrets struct {
	data map[string]string
}

func newMockSecrets() *mockSecrets { return &mockSecrets{data: make(map[string]string)} }

func (m *mockSecrets) Get(account string) (string, error) { return m.data[account], nil }

func (m *mockSecrets) Set(account, value string) error {
	m.data[account] = value
	return nil
}

func tempBackend(t *testing.T) *fileBackend {
	t.Helper()
	return newFileBackend(filepath.Join(t.TempDir(), "config.json"))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	sec := newMockSecrets()
	sec.data["remote_api_key"] = "test-key"

	cfg, err := loadWith(tempBackend(t), sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "https://api.casefile.example.com" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestBackendValuesApplied(t *testing.T) {
	clearEnv(t)
	b := tempBackend(t)
	if err := b.SetInt("server.port", 9100); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("remote.base_url", "http://localhost:9999"); err != nil {
		t.Fatal(err)
	}

	sec := newMockSecrets()
	sec.data["remote_api_key"] = "k"

	cfg, err := loadWith(b, sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "http://localhost:9999" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	b := tempBackend(t)
	if err := b.SetInt("server.port", 9100); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CASEFILE_SERVER_PORT", "9200")
	t.Setenv("CASEFILE_REMOTE_API_KEY", "env-key")

	cfg, err := loadWith(b, newMockSecrets())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want env override 9200", cfg.Server.Port)
	}
	if cfg.Remote.APIKey != "env-key" {
		t.Errorf("Remote.APIKey = %q, want env-key", cfg.Remote.APIKey)
	}
}

func TestMissingRemoteAPIKey(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(tempBackend(t), newMockSecrets())
	if err == nil {
		t.Fatal("expected error for missing remote API key")
	}
	if !strings.Contains(err.Error(), "CASEFILE_REMOTE_API_KEY") {
		t.Errorf("error %q should name the env var", err)
	}
}

func TestInvalidBaseURLRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("CASEFILE_REMOTE_API_KEY", "k")
	t.Setenv("CASEFILE_REMOTE_BASE_URL", "ftp://nope")

	if _, err := loadWith(tempBackend(t), newMockSecrets()); err == nil {
		t.Fatal("expected error for non-http base URL")
	}
}

func TestAPITokenGeneratedOnce(t *testing.T) {
	clearEnv(t)
	sec := newMockSecrets()
	sec.data["remote_api_key"] = "k"

	cfg1, err := loadWith(tempBackend(t), sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg1.Server.APIToken == "" {
		t.Fatal("no API token generated")
	}

	cfg2, err := loadWith(tempBackend(t), sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg2.Server.APIToken != cfg1.Server.APIToken {
		t.Error("token should be stable across loads")
	}
}

func TestSetKeyRejectsSecrets(t *testing.T) {
	if err := SetKey("remote.api_key", "leak"); err == nil {
		t.Fatal("expected error setting a secret key")
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "remote.api_key" || k == "server.api_token" {
			t.Errorf("secret key %q listed as settable", k)
		}
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetInt("server.port", 4601); err != nil {
		t.Fatal(err)
	}

	// A fresh backend over the same path sees the persisted values.
	b2 := newFileBackend(path)
	v, ok, err := b2.GetString("log.level")
	if err != nil || !ok || v != "debug" {
		t.Errorf("GetString = %q, %v, %v", v, ok, err)
	}
	i, ok, err := b2.GetInt("server.port")
	if err != nil || !ok || i != 4601 {
		t.Errorf("GetInt = %d, %v, %v", i, ok, err)
	}
}
