// Package config loads deskhand configuration from a JSON config file,
// a .env file, and environment variables.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Provider   ProviderConfig
	OpenAI     OpenAIConfig
	AlephAlpha AlephAlphaConfig
	Retrieval  RetrievalConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // bearer token for the management API, env-only
}

// ProviderConfig selects and tunes the generation provider.
type ProviderConfig struct {
	Name        string // "openai" or "alephalpha"
	MaxTokens   int
	Temperature float64
	Timeout     string // per-attempt timeout, Go duration string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AlephAlphaConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type RetrievalConfig struct {
	TopK             int
	MinScore         float64
	MaxPromptMatches int
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
			Port: 4400,
		},
		Provider: ProviderConfig{
			Name:        "openai",
			MaxTokens:   512,
			Temperature: 0.2,
			Timeout:     "30s",
		},
		Retrieval: RetrievalConfig{
			TopK:             3,
			MinScore:         0,
			MaxPromptMatches: 3,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in precedence order: defaults, the JSON config
// file at $XDG_CONFIG_HOME/deskhand/config.json, a .env file in the working
// directory, then environment variables (DESKHAND_*). Provider API keys are
// secrets and only ever come from the environment.
func Load() (Config, error) {
	// A missing .env file is fine; godotenv never overrides variables
	// already set in the environment.
	_ = godotenv.Load()
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	switch cfg.Provider.Name {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return Config{}, fmt.Errorf("missing required config: OpenAI API key. Set it via environment variable DESKHAND_OPENAI_API_KEY")
		}
	case "alephalpha":
		if cfg.AlephAlpha.APIKey == "" {
			return Config{}, fmt.Errorf("missing required config: Aleph Alpha API key. Set it via environment variable DESKHAND_ALEPH_ALPHA_API_KEY")
		}
	default:
		return Config{}, fmt.Errorf("unknown provider %q (expected openai or alephalpha)", cfg.Provider.Name)
	}

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API bearer token. Set it via environment variable DESKHAND_API_TOKEN")
	}

	return cfg, nil
}
