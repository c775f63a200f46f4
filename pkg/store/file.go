package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xhad/recall/internal/models"
)

// FileStore keeps the whole collection in one JSON array on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save replaces the file with docs. The data is written to a temporary file
// in the same directory and renamed over the target, so readers see either
// the old collection or the new one.
func (s *FileStore) Save(_ context.Context, docs []models.EmbeddedDocument) error {
	if _, err := Dimension(docs); err != nil {
		return fmt.Errorf("refusing to save inconsistent store: %w", err)
	}
	if docs == nil {
		docs = []models.EmbeddedDocument{}
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write embeddings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync embeddings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Load reads the collection. A missing or unparsable file, or one whose
// vectors disagree on dimension, yields an *UnavailableError.
func (s *FileStore) Load(_ context.Context) ([]models.EmbeddedDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &UnavailableError{Location: s.path, Err: err}
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var docs []models.EmbeddedDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, &UnavailableError{Location: s.path, Err: err}
	}

	if _, err := Dimension(docs); err != nil {
		return nil, &UnavailableError{Location: s.path, Err: err}
	}

	return docs, nil
}

func (s *FileStore) Close() error {
	return nil
}
