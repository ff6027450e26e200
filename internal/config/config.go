package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Remote  RemoteConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type RemoteConfig struct {
	BaseURL string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Remote: RemoteConfig{
			BaseURL: "https://api.casefile.example.com",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/casefile/config.json, then applies CASEFILE_* environment
// overrides. Secrets (remote API key, daemon API token) come from the
// environment or the secrets file; a missing daemon token is generated once
// and persisted so the CLI and daemon agree on it.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{})
}

// LoadUnchecked reads configuration like Load but skips the secret
// requirements, so `config show` works before any secrets are stored.
func LoadUnchecked() Config {
	cfg := defaults()
	if err := applyBackend(&cfg, newFileBackend(configFilePath())); err != nil {
		return defaults()
	}
	applyEnvOverrides(&cfg)
	return cfg
}

// secrets abstracts secret storage for testing.
type secrets interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

func loadWith(b ConfigBackend, sec secrets) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Remote.APIKey == "" {
		if key, err := sec.Get("remote_api_key"); err == nil && key != "" {
			cfg.Remote.APIKey = key
		}
	}
	if cfg.Remote.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: remote API key. " +
			"Set it via environment variable CASEFILE_REMOTE_API_KEY " +
			"or store it with `casefile config set-secret remote_api_key`")
	}

	if cfg.Server.APIToken == "" {
		token, err := ensureAPIToken(sec)
		if err != nil {
			return Config{}, fmt.Errorf("preparing daemon API token: %w", err)
		}
		cfg.Server.APIToken = token
	}

	if !strings.HasPrefix(cfg.Remote.BaseURL, "http://") && !strings.HasPrefix(cfg.Remote.BaseURL, "https://") {
		return Config{}, fmt.Errorf("remote.base_url must be an http(s) URL, got %q", cfg.Remote.BaseURL)
	}

	return cfg, nil
}
