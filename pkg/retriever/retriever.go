package retriever

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/similarity"
	"github.com/xhad/recall/pkg/store"
)

const DefaultTopK = 5

type RetrieverConfig struct {
	TopK int
}

// Retriever answers "which stored documents are closest to this question".
// It holds no per-call state and is safe for concurrent use.
type Retriever struct {
	config     RetrieverConfig
	store      types.VectorStore
	vectorizer types.Vectorizer
}

func NewWithConfig(s types.VectorStore, v types.Vectorizer, config RetrieverConfig) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	return &Retriever{
		config:     config,
		store:      s,
		vectorizer: v,
	}
}

// Retrieve returns up to k documents ranked by similarity to question.
// A k of zero or less uses the configured default.
//
// An index that is missing or unreadable yields an empty result with no
// error. A failure to embed the question is returned as an error so callers
// can tell "nothing relevant" apart from "retrieval broke".
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]models.Document, error) {
	ranked, err := r.rank(ctx, question, k)
	if err != nil {
		return nil, err
	}

	items := make([]models.EmbeddedDocument, 0, len(ranked))
	for _, res := range ranked {
		items = append(items, res.Item)
	}
	return models.StripAll(items), nil
}

// Search is Retrieve with similarity scores kept.
func (r *Retriever) Search(ctx context.Context, question string, k int) ([]similarity.Result[models.Document], error) {
	ranked, err := r.rank(ctx, question, k)
	if err != nil {
		return nil, err
	}

	results := make([]similarity.Result[models.Document], 0, len(ranked))
	for _, res := range ranked {
		results = append(results, similarity.Result[models.Document]{
			Item:  res.Item.Strip(),
			Score: res.Score,
		})
	}
	return results, nil
}

func (r *Retriever) rank(ctx context.Context, question string, k int) ([]similarity.Result[models.EmbeddedDocument], error) {
	if k <= 0 {
		k = r.config.TopK
	}

	stored, err := r.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			return nil, fmt.Errorf("failed to load embeddings: %w", err)
		}
		log.Printf("[retrieval] warning: %v; returning no documents", err)
		return nil, nil
	}
	if len(stored) == 0 {
		log.Printf("[retrieval] warning: no embeddings found, returning no documents")
		return nil, nil
	}

	query, err := r.vectorizer.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	ranked, err := similarity.TopK(query, stored, k, embeddingOf)
	if err != nil {
		return nil, fmt.Errorf("failed to rank documents: %w", err)
	}
	return ranked, nil
}

func embeddingOf(d models.EmbeddedDocument) []float64 {
	return d.Embedding
}
