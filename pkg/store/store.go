package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

// ErrUnavailable marks a store that has not been built yet or cannot be
// parsed. Readers treat it as "no index" rather than as a failure.
var ErrUnavailable = errors.New("vector store missing or corrupt")

// UnavailableError carries the reason a store could not be read.
type UnavailableError struct {
	Location string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vector store %s unavailable: %v", e.Location, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

type Config struct {
	Backend   string // "file", "postgres" or "sqlite"
	Path      string
	URL       string
	TableName string
	VectorDim int
}

// Open returns the configured backend.
func Open(ctx context.Context, config Config) (types.VectorStore, error) {
	switch config.Backend {
	case "", "file":
		return NewFileStore(config.Path), nil
	case "postgres":
		return NewWithConfig(ctx, VectorStoreConfig{
			ConnString: config.URL,
			TableName:  config.TableName,
			VectorDim:  config.VectorDim,
		})
	case "sqlite":
		return NewSQLiteStore(config.Path, config.TableName)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", config.Backend)
	}
}

// Dimension returns the vector length shared by all docs, or an error if the
// lengths differ or any vector is empty. An empty slice has dimension 0.
func Dimension(docs []models.EmbeddedDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	dim := len(docs[0].Embedding)
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return 0, fmt.Errorf("document %s has no embedding", doc.URL)
		}
		if len(doc.Embedding) != dim {
			return 0, fmt.Errorf("document %s has dimension %d, expected %d", doc.URL, len(doc.Embedding), dim)
		}
	}
	return dim, nil
}
