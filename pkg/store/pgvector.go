package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/recall/internal/models"
)

// undefinedTable is the Postgres error code for a missing relation.
const undefinedTable = "42P01"

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// VectorStore keeps the collection in a Postgres table with a pgvector
// column. Rows are only used as records; ranking happens in process.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	table  string
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "article_embeddings"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position INTEGER PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			date TIMESTAMPTZ,
			thumbnail TEXT,
			sub_title TEXT,
			embedding vector(%d) NOT NULL
		)`, vs.table, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

// Save replaces every row in one transaction.
func (vs *VectorStore) Save(ctx context.Context, docs []models.EmbeddedDocument) error {
	dim, err := Dimension(docs)
	if err != nil {
		return fmt.Errorf("refusing to save inconsistent store: %w", err)
	}
	if len(docs) > 0 && dim != vs.config.VectorDim {
		return fmt.Errorf("embedding dimension %d does not match column dimension %d", dim, vs.config.VectorDim)
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", vs.table)); err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (position, url, title, content, date, thumbnail, sub_title, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		vs.table)

	// Insert documents in batches
	for start := 0; start < len(docs); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			doc := docs[i]
			batch.Queue(stmt,
				i,
				doc.URL,
				doc.Title,
				doc.Content,
				doc.Date,
				doc.Thumbnail,
				doc.SubTitle,
				pgvector.NewVector(toFloat32(doc.Embedding)),
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert documents %d-%d: %w", start, end, err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (vs *VectorStore) Load(ctx context.Context) ([]models.EmbeddedDocument, error) {
	query := fmt.Sprintf(`
		SELECT url, title, content, date, thumbnail, sub_title, embedding
		FROM %s
		ORDER BY position`,
		vs.table)

	rows, err := vs.pool.Query(ctx, query)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			return nil, &UnavailableError{Location: vs.config.TableName, Err: err}
		}
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.EmbeddedDocument
	for rows.Next() {
		var doc models.EmbeddedDocument
		var vec pgvector.Vector
		err := rows.Scan(
			&doc.URL,
			&doc.Title,
			&doc.Content,
			&doc.Date,
			&doc.Thumbnail,
			&doc.SubTitle,
			&vec,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc.Embedding = toFloat64(vec.Slice())
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			return nil, &UnavailableError{Location: vs.config.TableName, Err: err}
		}
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return docs, nil
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
