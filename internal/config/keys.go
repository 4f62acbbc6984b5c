package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DESKHAND_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DESKHAND_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "provider.name", typ: kString, env: "DESKHAND_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Provider.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Name },
	},
	{
		key: "provider.max_tokens", typ: kInt, env: "DESKHAND_PROVIDER_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Provider.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.MaxTokens },
	},
	{
		key: "provider.temperature", typ: kFloat, env: "DESKHAND_PROVIDER_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Provider.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Provider.Temperature },
	},
	{
		key: "provider.timeout", typ: kString, env: "DESKHAND_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Timeout },
	},
	{
		key: "openai.api_key", typ: kString, env: "DESKHAND_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.model", typ: kString, env: "DESKHAND_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.base_url", typ: kString, env: "DESKHAND_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "alephalpha.api_key", typ: kString, env: "DESKHAND_ALEPH_ALPHA_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AlephAlpha.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AlephAlpha.APIKey },
	},
	{
		key: "alephalpha.model", typ: kString, env: "DESKHAND_ALEPH_ALPHA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AlephAlpha.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AlephAlpha.Model },
	},
	{
		key: "alephalpha.base_url", typ: kString, env: "DESKHAND_ALEPH_ALPHA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AlephAlpha.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AlephAlpha.BaseURL },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "DESKHAND_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.min_score", typ: kFloat, env: "DESKHAND_RETRIEVAL_MIN_SCORE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinScore = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinScore },
	},
	{
		key: "retrieval.max_prompt_matches", typ: kInt, env: "DESKHAND_RETRIEVAL_MAX_PROMPT_MATCHES",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxPromptMatches = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxPromptMatches },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DESKHAND_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DESKHAND_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
