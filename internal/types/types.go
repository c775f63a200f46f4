package types

import (
	"context"

	"github.com/xhad/recall/internal/models"
)

// Core interfaces
type Vectorizer interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type VectorStore interface {
	Save(ctx context.Context, docs []models.EmbeddedDocument) error
	Load(ctx context.Context) ([]models.EmbeddedDocument, error)
	Close() error
}

type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]models.Document, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Generator interface {
	Chat(ctx context.Context, question string, history []Message, docs []models.Document) (string, error)
	ChatStream(ctx context.Context, question string, history []Message, docs []models.Document) (<-chan string, error)
}
