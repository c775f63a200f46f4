package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RECALL_STORE_PATH", "")

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedding:
  model: "all-minilm"

store:
  backend: "postgres"
  url: "postgres://localhost:5432/test"
  table_name: "test_docs"
  vector_dim: 384

corpus:
  path: "corpus/articles.json"

scraper:
  list_url: "https://api.example.com/v1/article/@me"
  article_base_url: "https://example.com/"
  rate_limit: 1.5

retrieval:
  top_k: 3

ui:
  streaming: false
  theme: "light"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "all-minilm", config.Embedding.Model)
	assert.Equal(t, "http://localhost:11434", config.Embedding.BaseURL)
	assert.Equal(t, BackendPostgres, config.Store.Backend)
	assert.Equal(t, "postgres://localhost:5432/test", config.Store.URL)
	assert.Equal(t, 384, config.Store.VectorDim)
	assert.Equal(t, "corpus/articles.json", config.Corpus.Path)
	assert.Equal(t, ".wrap_body", config.Scraper.ContentSelector)
	assert.Equal(t, 3, config.Retrieval.TopK)
	assert.False(t, config.UI.Streaming)
	assert.Empty(t, config.Validate())
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RECALL_STORE_PATH", "")

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendFile, config.Store.Backend)
	assert.Equal(t, "data/embeddings.json", config.Store.Path)
	assert.Equal(t, "data/articles.json", config.Corpus.Path)
	assert.Equal(t, 5, config.Retrieval.TopK)
	assert.Equal(t, "nomic-embed-text:latest", config.Embedding.Model)
	assert.True(t, config.UI.Streaming)
	assert.Empty(t, config.Validate())
}

func TestSQLiteDefaultPath(t *testing.T) {
	config := &Config{}
	config.Store.Backend = BackendSQLite
	applyDefaults(config)

	assert.Equal(t, "data/embeddings.db", config.Store.Path)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("llm: [unclosed"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		applyDefaults(c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid llm",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 5000
				c.LLM.Temperature = 3.0
			},
			errorMessages: []string{
				"llm.max_tokens: max_tokens must be between 1 and 4096",
				"llm.temperature: temperature must be between 0 and 1",
				"llm.base_url: invalid base URL",
			},
		},
		{
			name: "hosted providers need keys",
			mutate: func(c *Config) {
				c.LLM.Provider = "anthropic"
				c.Embedding.Provider = "openai"
			},
			errorMessages: []string{
				"llm.api_key: api_key is required for anthropic",
				"embedding.api_key: api_key is required for openai",
			},
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.Store.Backend = BackendPostgres
				c.Store.VectorDim = -1
			},
			errorMessages: []string{
				"store.url: database URL is required for postgres",
				"store.vector_dim: vector_dim must be positive",
			},
		},
		{
			name: "unknown backend and bad top_k",
			mutate: func(c *Config) {
				c.Store.Backend = "redis"
				c.Retrieval.TopK = -1
			},
			errorMessages: []string{
				`store.backend: unsupported backend "redis"`,
				"retrieval.top_k: top_k must be positive",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			errors := c.Validate()
			require.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("RECALL_STORE_PATH", "/var/lib/recall/embeddings.json")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	config := &Config{}
	config.LLM.Provider = "anthropic"
	mergeWithEnv(config)

	assert.Empty(t, config.LLM.BaseURL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedding.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Store.URL)
	assert.Equal(t, "/var/lib/recall/embeddings.json", config.Store.Path)
	assert.Equal(t, "sk-ant-test", config.LLM.APIKey)
}
