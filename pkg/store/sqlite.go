package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/xhad/recall/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the collection in a single SQLite table. Vectors are
// stored as little-endian float64 blobs so no precision is lost.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	table string
}

func NewSQLiteStore(path, table string) (*SQLiteStore, error) {
	if table == "" {
		table = "article_embeddings"
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{
		db:    db,
		path:  path,
		table: `"` + table + `"`,
	}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, docs []models.EmbeddedDocument) error {
	if _, err := Dimension(docs); err != nil {
		return fmt.Errorf("refusing to save inconsistent store: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position INTEGER PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			date TEXT,
			thumbnail TEXT,
			sub_title TEXT,
			dimension INTEGER NOT NULL,
			embedding BLOB NOT NULL
		)`, s.table)
	if _, err := tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (position, url, title, content, date, thumbnail, sub_title, dimension, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		var date sql.NullString
		if doc.Date != nil {
			date = sql.NullString{String: doc.Date.UTC().Format(time.RFC3339Nano), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			i,
			doc.URL,
			doc.Title,
			doc.Content,
			date,
			nullString(doc.Thumbnail),
			nullString(doc.SubTitle),
			len(doc.Embedding),
			vectorToBlob(doc.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]models.EmbeddedDocument, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		s.table[1:len(s.table)-1],
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if count == 0 {
		return nil, &UnavailableError{Location: s.path, Err: errors.New("embeddings table not found")}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT url, title, content, date, thumbnail, sub_title, dimension, embedding
		FROM %s
		ORDER BY position`, s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.EmbeddedDocument
	for rows.Next() {
		var (
			doc                       models.EmbeddedDocument
			date, thumbnail, subTitle sql.NullString
			dimension                 int
			blob                      []byte
		)
		if err := rows.Scan(&doc.URL, &doc.Title, &doc.Content, &date, &thumbnail, &subTitle, &dimension, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		vec, err := blobToVector(blob)
		if err != nil || len(vec) != dimension {
			return nil, &UnavailableError{Location: s.path, Err: fmt.Errorf("corrupt embedding for %s", doc.URL)}
		}
		doc.Embedding = vec

		if date.Valid {
			doc.Date = models.ParseDate(date.String)
		}
		if thumbnail.Valid {
			doc.Thumbnail = &thumbnail.String
		}
		if subTitle.Valid {
			doc.SubTitle = &subTitle.String
		}

		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	if _, err := Dimension(docs); err != nil {
		return nil, &UnavailableError{Location: s.path, Err: err}
	}
	return docs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// vectorToBlob converts a float64 slice to a binary blob
func vectorToBlob(vector []float64) []byte {
	blob := make([]byte, len(vector)*8)
	for i, v := range vector {
		binary.LittleEndian.PutUint64(blob[i*8:i*8+8], math.Float64bits(v))
	}
	return blob
}

// blobToVector converts a binary blob to a float64 slice
func blobToVector(blob []byte) ([]float64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("blob size %d is not a multiple of 8", len(blob))
	}

	vector := make([]float64, len(blob)/8)
	for i := range vector {
		vector[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8 : i*8+8]))
	}
	return vector, nil
}
