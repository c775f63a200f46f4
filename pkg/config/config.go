package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider       string  `yaml:"provider"`
		BaseURL        string  `yaml:"base_url"`
		Model          string  `yaml:"model"`
		APIKey         string  `yaml:"api_key"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
		SystemTemplate string  `yaml:"system_template"`
	} `yaml:"llm"`

	Embedding struct {
		Provider string `yaml:"provider"`
		BaseURL  string `yaml:"base_url"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"embedding"`

	Store struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"store"`

	Corpus struct {
		Path string `yaml:"path"`
	} `yaml:"corpus"`

	Scraper struct {
		ListURL         string  `yaml:"list_url"`
		ArticleBaseURL  string  `yaml:"article_base_url"`
		ContentSelector string  `yaml:"content_selector"`
		RateLimit       float64 `yaml:"rate_limit"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
	} `yaml:"scraper"`

	Retrieval struct {
		TopK int `yaml:"top_k"`
	} `yaml:"retrieval"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	UI struct {
		Streaming bool   `yaml:"streaming"`
		Theme     string `yaml:"theme"`
	} `yaml:"ui"`
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/recall/config.yaml"),
			"/etc/recall/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	config.UI.Streaming = true
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = config.LLM.BaseURL
		if config.Embedding.BaseURL == "" {
			config.Embedding.BaseURL = "http://localhost:11434"
		}
	}

	if config.Store.Backend == "" {
		config.Store.Backend = BackendFile
	}
	if config.Store.Path == "" {
		switch config.Store.Backend {
		case BackendSQLite:
			config.Store.Path = "data/embeddings.db"
		default:
			config.Store.Path = "data/embeddings.json"
		}
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "article_embeddings"
	}
	if config.Store.VectorDim == 0 {
		config.Store.VectorDim = 768
	}

	if config.Corpus.Path == "" {
		config.Corpus.Path = "data/articles.json"
	}

	if config.Scraper.ContentSelector == "" {
		config.Scraper.ContentSelector = ".wrap_body"
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 1.0
	}
	if config.Scraper.TimeoutSeconds == 0 {
		config.Scraper.TimeoutSeconds = 30
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.UI.Theme == "" {
		config.UI.Theme = "dark"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "" || config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedding.Provider == "" || config.Embedding.Provider == "ollama" {
			config.Embedding.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	if storePath := os.Getenv("RECALL_STORE_PATH"); storePath != "" {
		config.Store.Path = storePath
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if config.Embedding.Provider == "openai" && config.Embedding.APIKey == "" {
			config.Embedding.APIKey = key
		}
		if config.LLM.Provider == "openai" && config.LLM.APIKey == "" {
			config.LLM.APIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if config.LLM.Provider == "anthropic" && config.LLM.APIKey == "" {
			config.LLM.APIKey = key
		}
	}
}
