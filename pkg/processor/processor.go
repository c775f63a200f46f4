package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/store"
)

type ProcessorConfig struct {
	// OnProgress is called after each document is embedded.
	OnProgress func(done, total int, doc models.Document)
}

// Processor turns a document corpus into embedded documents.
type Processor struct {
	config     ProcessorConfig
	vectorizer types.Vectorizer
}

// Summary describes a completed build.
type Summary struct {
	Documents int
	Dimension int
}

func NewWithConfig(vectorizer types.Vectorizer, config ProcessorConfig) Processor {
	return Processor{
		config:     config,
		vectorizer: vectorizer,
	}
}

// Process embeds every document in order. The first failure aborts the run
// and nothing is returned: a partial collection is never produced.
func (p *Processor) Process(ctx context.Context, docs []models.Document) ([]models.EmbeddedDocument, error) {
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if doc.URL == "" {
			return nil, fmt.Errorf("document %q has no url", doc.Title)
		}
		if seen[doc.URL] {
			return nil, fmt.Errorf("duplicate document url %s", doc.URL)
		}
		seen[doc.URL] = true
	}

	processed := make([]models.EmbeddedDocument, 0, len(docs))
	dim := 0

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc.Title = sanitizeUTF8(doc.Title)
		doc.Content = sanitizeUTF8(doc.Content)

		embedding, err := p.embed(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("failed to embed %s (%s): %w", doc.URL, doc.Title, err)
		}

		if i == 0 {
			dim = len(embedding)
		} else if len(embedding) != dim {
			return nil, fmt.Errorf("embedding for %s has dimension %d, expected %d", doc.URL, len(embedding), dim)
		}

		processed = append(processed, models.EmbeddedDocument{
			Document:  doc,
			Embedding: embedding,
		})

		if p.config.OnProgress != nil {
			p.config.OnProgress(i+1, len(docs), doc)
		}
	}

	return processed, nil
}

// documentEmbedder is implemented by vectorizers that know how documents
// are turned into text.
type documentEmbedder interface {
	EmbedDocument(ctx context.Context, doc models.Document) ([]float64, error)
}

func (p *Processor) embed(ctx context.Context, doc models.Document) ([]float64, error) {
	if de, ok := p.vectorizer.(documentEmbedder); ok {
		return de.EmbedDocument(ctx, doc)
	}
	return p.vectorizer.Embed(ctx, models.EmbeddingText(doc))
}

// Build embeds the corpus at corpusPath and replaces the contents of s.
// On any error s is left as it was.
func (p *Processor) Build(ctx context.Context, corpusPath string, s types.VectorStore) (Summary, error) {
	docs, err := LoadCorpus(corpusPath)
	if err != nil {
		return Summary{}, err
	}

	embedded, err := p.Process(ctx, docs)
	if err != nil {
		return Summary{}, err
	}

	if err := s.Save(ctx, embedded); err != nil {
		return Summary{}, fmt.Errorf("failed to save embeddings: %w", err)
	}

	dim, _ := store.Dimension(embedded)
	return Summary{Documents: len(embedded), Dimension: dim}, nil
}

// LoadCorpus reads a JSON array of documents.
func LoadCorpus(path string) ([]models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	var docs []models.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	return docs, nil
}

// SaveCorpus writes docs as an indented JSON array, creating the directory
// if needed.
func SaveCorpus(path string, docs []models.Document) error {
	if docs == nil {
		docs = []models.Document{}
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode corpus: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write corpus: %w", err)
	}
	return nil
}

// sanitizeUTF8 drops invalid byte sequences.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
