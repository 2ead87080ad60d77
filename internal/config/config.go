// Package config loads and validates the proxy configuration. Settings come
// from an optional TOML file with environment-variable overrides; secret
// values may use "$VARNAME" indirection so config files never hold keys.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// BackendKind selects the upstream dispatch strategy at process start.
type BackendKind string

const (
	// BackendOpenRouter posts converted requests straight to OpenRouter.
	BackendOpenRouter BackendKind = "OPENROUTER"
	// BackendLiteLLMOpenRouter routes through the translation-library client.
	BackendLiteLLMOpenRouter BackendKind = "LITELLM_OPENROUTER"
	// BackendAzureDatabricks posts to per-workspace Claude serving endpoints.
	BackendAzureDatabricks BackendKind = "AZURE_DATABRICKS"
)

// Config holds all proxy settings.
type Config struct {
	Listen   string      `toml:"listen"`
	Backend  BackendKind `toml:"proxy_backend"`
	LogLevel string      `toml:"log_level"`
	// Debug surfaces per-request timings and conversion traces on response
	// headers.
	Debug bool `toml:"debug"`

	OpenRouter OpenRouterConfig `toml:"openrouter"`
	Databricks DatabricksConfig `toml:"databricks"`

	// Targets of the "big"/"small" model aliases.
	BigModel   string `toml:"big_model"`
	SmallModel string `toml:"small_model"`

	MaxTokensLimit        int `toml:"max_tokens_limit"`
	RequestTimeoutSeconds int `toml:"request_timeout"`

	Cache CacheConfig `toml:"cache"`
	Extra ExtraConfig `toml:"extra"`
}

// OpenRouterConfig configures the OpenRouter backend family.
type OpenRouterConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	// Referer and Title annotate requests per OpenRouter's attribution
	// convention. Used by the translation-library backend.
	Referer string `toml:"referer"`
	Title   string `toml:"title"`
}

// DatabricksConfig configures the Azure Databricks backend.
type DatabricksConfig struct {
	Host          string `toml:"host"`
	Token         string `toml:"token"`
	BigEndpoint   string `toml:"big_endpoint"`
	SmallEndpoint string `toml:"small_endpoint"`
}

// CacheConfig bounds the streaming cache.
type CacheConfig struct {
	MaxEntries             int `toml:"max_entries"`
	MaxSizeMB              int `toml:"max_size_mb"`
	DefaultTTLSeconds      int `toml:"default_ttl"`
	CleanupIntervalSeconds int `toml:"cleanup_interval"`
}

// ExtraConfig enables optional upstream request fields. Invalid values are
// dropped with a warning at request-build time, never fatally.
type ExtraConfig struct {
	FallbackModels    []string           `toml:"fallback_models"`
	Route             string             `toml:"route"`
	ProviderOrder     []string           `toml:"provider_order"`
	AllowFallbacks    *bool              `toml:"allow_fallbacks"`
	FrequencyPenalty  *float64           `toml:"frequency_penalty"`
	PresencePenalty   *float64           `toml:"presence_penalty"`
	RepetitionPenalty *float64           `toml:"repetition_penalty"`
	MinP              *float64           `toml:"min_p"`
	Seed              *int               `toml:"seed"`
	User              string             `toml:"user"`
	LogitBias         map[string]float64 `toml:"logit_bias"`
}

// Load reads path (optional), applies env overrides, resolves secrets, fills
// defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.resolveSecrets()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Listen, "CROSSTALK_LISTEN")
	if v := os.Getenv("PROXY_BACKEND"); v != "" {
		c.Backend = BackendKind(strings.ToUpper(v))
	}
	setString(&c.LogLevel, "CROSSTALK_LOG_LEVEL")
	setBool(&c.Debug, "CROSSTALK_DEBUG")
	setString(&c.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	setString(&c.OpenRouter.BaseURL, "OPENROUTER_BASE_URL")
	setString(&c.Databricks.Host, "DATABRICKS_HOST")
	setString(&c.Databricks.Token, "DATABRICKS_TOKEN")
	setString(&c.Databricks.BigEndpoint, "DATABRICKS_BIG_ENDPOINT")
	setString(&c.Databricks.SmallEndpoint, "DATABRICKS_SMALL_ENDPOINT")
	setString(&c.BigModel, "BIG_MODEL")
	setString(&c.SmallModel, "SMALL_MODEL")
	setInt(&c.MaxTokensLimit, "MAX_TOKENS_LIMIT")
	setInt(&c.RequestTimeoutSeconds, "REQUEST_TIMEOUT")
	setInt(&c.Cache.MaxEntries, "CACHE_MAX_ENTRIES")
	setInt(&c.Cache.MaxSizeMB, "CACHE_MAX_SIZE_MB")
	setInt(&c.Cache.DefaultTTLSeconds, "CACHE_DEFAULT_TTL")
	setInt(&c.Cache.CleanupIntervalSeconds, "CACHE_CLEANUP_INTERVAL")
}

// resolveSecrets expands "$VARNAME" values from the environment so config
// files can reference keys without embedding them.
func (c *Config) resolveSecrets() {
	c.OpenRouter.APIKey = expandSecret(c.OpenRouter.APIKey)
	c.Databricks.Token = expandSecret(c.Databricks.Token)
}

func expandSecret(v string) string {
	if strings.HasPrefix(v, "$") {
		return os.Getenv(strings.TrimPrefix(v, "$"))
	}
	return v
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = ":8082"
	}
	if c.Backend == "" {
		c.Backend = BackendOpenRouter
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OpenRouter.BaseURL == "" {
		c.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.BigModel == "" {
		c.BigModel = "anthropic/claude-sonnet-4"
	}
	if c.SmallModel == "" {
		c.SmallModel = "anthropic/claude-3.5-haiku"
	}
	if c.MaxTokensLimit == 0 {
		c.MaxTokensLimit = 8192
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 300
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.Cache.MaxSizeMB == 0 {
		c.Cache.MaxSizeMB = 500
	}
	if c.Cache.DefaultTTLSeconds == 0 {
		c.Cache.DefaultTTLSeconds = 3600
	}
	if c.Cache.CleanupIntervalSeconds == 0 {
		c.Cache.CleanupIntervalSeconds = 60
	}
}

// Validate checks required settings for the selected backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOpenRouter, BackendLiteLLMOpenRouter:
		if c.OpenRouter.APIKey == "" {
			return fmt.Errorf("openrouter api_key is required for backend %s", c.Backend)
		}
	case BackendAzureDatabricks:
		if c.Databricks.Host == "" {
			return fmt.Errorf("databricks host is required for backend %s", c.Backend)
		}
		if c.Databricks.Token == "" {
			return fmt.Errorf("databricks token is required for backend %s", c.Backend)
		}
		if c.Databricks.BigEndpoint == "" || c.Databricks.SmallEndpoint == "" {
			return fmt.Errorf("databricks big_endpoint and small_endpoint are required for backend %s", c.Backend)
		}
	default:
		return fmt.Errorf("unsupported proxy_backend: %q (supported: %s, %s, %s)",
			c.Backend, BackendOpenRouter, BackendLiteLLMOpenRouter, BackendAzureDatabricks)
	}
	if c.MaxTokensLimit < 0 || c.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("max_tokens_limit and request_timeout must be positive")
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxSizeMB < 0 || c.Cache.DefaultTTLSeconds < 0 || c.Cache.CleanupIntervalSeconds < 0 {
		return fmt.Errorf("cache bounds must be positive")
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
