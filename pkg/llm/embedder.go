package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/recall/internal/models"
	"golang.org/x/sync/singleflight"
)

var ErrEmbedding = errors.New("embedding failed")

// EmbeddingError wraps a failure to load or invoke the embedding model.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// EmbedderConfig selects the embedding model.
type EmbedderConfig struct {
	Provider string // "ollama" or "openai"
	Model    string
	BaseURL  string // Ollama server URL or OpenAI-compatible endpoint
	APIKey   string
}

// ModelLoader builds the underlying embedding model. It is called at most
// once per successful load.
type ModelLoader func(config EmbedderConfig) (embeddings.Embedder, error)

type EmbedderOption func(*Embedder)

func WithModelLoader(loader ModelLoader) EmbedderOption {
	return func(e *Embedder) {
		e.loader = loader
	}
}

// Embedder maps text to vectors. The model is loaded on first use and reused
// afterwards; concurrent first callers share a single load.
type Embedder struct {
	config EmbedderConfig
	loader ModelLoader

	group singleflight.Group
	mu    sync.RWMutex
	model embeddings.Embedder
}

func NewEmbedderWithConfig(config EmbedderConfig, opts ...EmbedderOption) *Embedder {
	// Validate and set default values for config fields if necessary
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" && config.Provider == "ollama" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	e := &Embedder{
		config: config,
		loader: loadModel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func NewEmbedder() *Embedder {
	return NewEmbedderWithConfig(EmbedderConfig{})
}

func (e *Embedder) Config() EmbedderConfig {
	return e.config
}

func loadModel(config EmbedderConfig) (embeddings.Embedder, error) {
	var client embeddings.EmbedderClient

	switch config.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		client = llm
	case "openai":
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}

	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, err
	}
	return emb, nil
}

func (e *Embedder) loaded() embeddings.Embedder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// Model returns the embedding model, loading it on first use. A failed load
// is not remembered so the next call tries again.
func (e *Embedder) Model() (embeddings.Embedder, error) {
	if m := e.loaded(); m != nil {
		return m, nil
	}

	v, err, _ := e.group.Do("model", func() (interface{}, error) {
		if m := e.loaded(); m != nil {
			return m, nil
		}

		log.Printf("[embedding] loading %s model %s", e.config.Provider, e.config.Model)
		m, err := e.loader(e.config)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.model = m
		e.mu.Unlock()
		log.Printf("[embedding] model loaded")
		return m, nil
	})
	if err != nil {
		return nil, &EmbeddingError{Op: "load", Err: err}
	}

	return v.(embeddings.Embedder), nil
}

// Embed returns the vector for text. Identical text yields the same vector
// for a fixed model.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	model, err := e.Model()
	if err != nil {
		return nil, err
	}

	vec, err := model.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Op: "invoke", Err: err}
	}
	if len(vec) == 0 {
		return nil, &EmbeddingError{Op: "invoke", Err: errors.New("model returned an empty vector")}
	}

	return toFloat64(vec), nil
}

// EmbedDocument vectorizes a document the way it is stored: title and
// content together.
func (e *Embedder) EmbedDocument(ctx context.Context, doc models.Document) ([]float64, error) {
	return e.Embed(ctx, models.EmbeddingText(doc))
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
