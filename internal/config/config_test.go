package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crosstalk.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8082", cfg.Listen)
	assert.Equal(t, BackendOpenRouter, cfg.Backend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.BigModel)
	assert.Equal(t, "anthropic/claude-3.5-haiku", cfg.SmallModel)
	assert.Equal(t, 8192, cfg.MaxTokensLimit)
	assert.Equal(t, 300, cfg.RequestTimeoutSeconds)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 500, cfg.Cache.MaxSizeMB)
	assert.Equal(t, 3600, cfg.Cache.DefaultTTLSeconds)
	assert.Equal(t, "sk-env", cfg.OpenRouter.APIKey)
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeConfig(t, `
listen = ":9000"
proxy_backend = "OPENROUTER"
big_model = "anthropic/claude-opus-4.1"
max_tokens_limit = 4096

[openrouter]
api_key = "sk-file"

[cache]
max_entries = 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "anthropic/claude-opus-4.1", cfg.BigModel)
	assert.Equal(t, 4096, cfg.MaxTokensLimit)
	assert.Equal(t, "sk-file", cfg.OpenRouter.APIKey)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-env-wins")
	t.Setenv("BIG_MODEL", "anthropic/claude-opus-4.1")
	path := writeConfig(t, `
big_model = "anthropic/claude-sonnet-4"

[openrouter]
api_key = "sk-file"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-env-wins", cfg.OpenRouter.APIKey)
	assert.Equal(t, "anthropic/claude-opus-4.1", cfg.BigModel)
}

func TestSecretIndirection(t *testing.T) {
	t.Setenv("MY_SECRET_KEY", "sk-indirect")
	path := writeConfig(t, `
[openrouter]
api_key = "$MY_SECRET_KEY"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-indirect", cfg.OpenRouter.APIKey)
}

func TestValidateOpenRouterNeedsKey(t *testing.T) {
	cfg := &Config{Backend: BackendOpenRouter}
	cfg.setDefaults()
	cfg.OpenRouter.APIKey = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateDatabricks(t *testing.T) {
	cfg := &Config{
		Backend: BackendAzureDatabricks,
		Databricks: DatabricksConfig{
			Host:  "https://adb-1.azuredatabricks.net",
			Token: "dapi",
		},
	}
	cfg.setDefaults()
	assert.Error(t, cfg.Validate(), "endpoints required")

	cfg.Databricks.BigEndpoint = "databricks-claude-sonnet-4"
	cfg.Databricks.SmallEndpoint = "databricks-claude-3-5-haiku"
	assert.NoError(t, cfg.Validate())
}

func TestValidateUnknownBackend(t *testing.T) {
	cfg := &Config{Backend: "BEDROCK"}
	cfg.setDefaults()
	assert.Error(t, cfg.Validate())
}

func TestBackendFromEnv(t *testing.T) {
	t.Setenv("PROXY_BACKEND", "azure_databricks")
	t.Setenv("DATABRICKS_HOST", "https://adb-1.azuredatabricks.net")
	t.Setenv("DATABRICKS_TOKEN", "dapi")
	t.Setenv("DATABRICKS_BIG_ENDPOINT", "big")
	t.Setenv("DATABRICKS_SMALL_ENDPOINT", "small")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendAzureDatabricks, cfg.Backend)
	assert.Equal(t, "big", cfg.Databricks.BigEndpoint)
}

func TestDebugFlag(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Debug)

	t.Setenv("CROSSTALK_DEBUG", "true")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
