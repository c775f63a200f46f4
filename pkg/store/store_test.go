package store_test

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/similarity"
	"github.com/xhad/recall/pkg/store"
)

func strPtr(s string) *string { return &s }

// testCorpus returns documents with 8-dimensional vectors whose components
// are irrational enough to exercise float round-tripping.
func testCorpus() []models.EmbeddedDocument {
	published := time.Date(2024, 5, 17, 8, 30, 0, 0, time.UTC)
	docs := []models.EmbeddedDocument{
		{Document: models.Document{Title: "Hackathons", URL: "https://example.com/1", Content: "won 25 times", Date: &published, SubTitle: strPtr("lessons")}},
		{Document: models.Document{Title: "Rejections", URL: "https://example.com/2", Content: "failed 100 interviews", Thumbnail: strPtr("https://img.example.com/2.png")}},
		{Document: models.Document{Title: "Design to PM", URL: "https://example.com/3", Content: "career switch"}},
		{Document: models.Document{Title: "Roadmaps", URL: "https://example.com/4", Content: "planning"}},
	}
	for i := range docs {
		vec := make([]float64, 8)
		for j := range vec {
			vec[j] = math.Sin(float64((i+1)*(j+3))) / 3
		}
		docs[i].Embedding = vec
	}
	return docs
}

func rankURLs(t *testing.T, query []float64, docs []models.EmbeddedDocument) []string {
	t.Helper()
	ranked, err := similarity.FindTopK(query, docs, len(docs), func(d models.EmbeddedDocument) []float64 { return d.Embedding })
	require.NoError(t, err)
	out := make([]string, 0, len(ranked))
	for _, d := range ranked {
		out = append(out, d.URL)
	}
	return out
}

func testRoundTrip(t *testing.T, s types.VectorStore, exact bool) {
	ctx := context.Background()
	docs := testCorpus()

	require.NoError(t, s.Save(ctx, docs))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, len(docs))

	for i := range docs {
		assert.Equal(t, docs[i].Document.URL, loaded[i].URL)
		assert.Equal(t, docs[i].Title, loaded[i].Title)
		assert.Equal(t, docs[i].Content, loaded[i].Content)
		assert.Equal(t, docs[i].Thumbnail, loaded[i].Thumbnail)
		assert.Equal(t, docs[i].SubTitle, loaded[i].SubTitle)
		if docs[i].Date == nil {
			assert.Nil(t, loaded[i].Date)
		} else {
			require.NotNil(t, loaded[i].Date)
			assert.True(t, docs[i].Date.Equal(*loaded[i].Date))
		}
		if exact {
			assert.Equal(t, docs[i].Embedding, loaded[i].Embedding)
		} else {
			assert.InDeltaSlice(t, docs[i].Embedding, loaded[i].Embedding, 1e-6)
		}
	}

	query := []float64{0.2, -0.1, 0.4, 0.05, -0.3, 0.25, 0.1, -0.2}
	assert.Equal(t, rankURLs(t, query, docs), rankURLs(t, query, loaded))

	// Saving again replaces rather than appends
	require.NoError(t, s.Save(ctx, docs[:2]))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := store.NewFileStore(filepath.Join(t.TempDir(), "data", "embeddings.json"))
	testRoundTrip(t, s, true)
}

func TestFileStoreMissing(t *testing.T) {
	s := store.NewFileStore(filepath.Join(t.TempDir(), "embeddings.json"))

	docs, err := s.Load(context.Background())
	assert.Nil(t, docs)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title": "broken"`), 0644))

	_, err := store.NewFileStore(path).Load(context.Background())
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestFileStoreMixedDimensionsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	raw := `[{"title":"a","url":"a","content":"","embedding":[1,0]},{"title":"b","url":"b","content":"","embedding":[1,0,0]}]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	_, err := store.NewFileStore(path).Load(context.Background())
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestFileStoreLoadsWithoutOptionalFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	raw := `[{"title":"a","url":"https://example.com/a","content":"body","embedding":[0.1,0.2,0.3]}]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	docs, err := store.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Nil(t, docs[0].Date)
	assert.Nil(t, docs[0].Thumbnail)
	assert.Nil(t, docs[0].SubTitle)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, docs[0].Embedding)
}

func TestFileStoreRejectsInconsistentSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.json")
	s := store.NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testCorpus()))

	bad := testCorpus()
	bad[2].Embedding = bad[2].Embedding[:3]
	require.Error(t, s.Save(ctx, bad))

	// The previous store is untouched and no temp files remain
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 4)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "embeddings.json", entries[0].Name())
}

func TestFileStoreSaveEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	s := store.NewFileStore(path)

	require.NoError(t, s.Save(context.Background(), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	docs, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "embeddings.db"), "")
	require.NoError(t, err)
	defer s.Close()

	testRoundTrip(t, s, true)
}

func TestSQLiteStoreMissingTable(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "embeddings.db"), "")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(context.Background())
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestSQLiteStoreRejectsInconsistentSave(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "embeddings.db"), "docs")
	require.NoError(t, err)
	defer s.Close()

	bad := testCorpus()
	bad[0].Embedding = nil
	require.Error(t, s.Save(context.Background(), bad))

	_, err = s.Load(context.Background())
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.Open(ctx, store.Config{Path: filepath.Join(dir, "e.json")})
	require.NoError(t, err)
	assert.IsType(t, &store.FileStore{}, s)

	s, err = store.Open(ctx, store.Config{Backend: "sqlite", Path: filepath.Join(dir, "e.db")})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = store.Open(ctx, store.Config{Backend: "redis"})
	assert.Error(t, err)
}

func TestDimension(t *testing.T) {
	dim, err := store.Dimension(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, dim)

	dim, err = store.Dimension(testCorpus())
	require.NoError(t, err)
	assert.Equal(t, 8, dim)

	bad := testCorpus()
	bad[1].Embedding = append(bad[1].Embedding, 1)
	_, err = store.Dimension(bad)
	assert.Error(t, err)
}

func TestFileStoreToleratesForeignDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	raw := `[
		{"title":"a","url":"https://example.com/a","content":"one","embedding":[1,0]},
		{"title":"b","url":"https://example.com/b","content":"two","date":"2024-03-01","thumbnail":null,"embedding":[0,1]},
		{"title":"c","url":"https://example.com/c","content":"three","date":"sometime in May","embedding":[1,1]}
	]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	docs, err := store.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Nil(t, docs[0].Date)
	require.NotNil(t, docs[1].Date)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), docs[1].Date.UTC())
	assert.Nil(t, docs[1].Thumbnail)
	assert.Nil(t, docs[2].Date)
	assert.Equal(t, []float64{1, 1}, docs[2].Embedding)
}

func TestSQLiteStoreToleratesForeignDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")
	s, err := store.NewSQLiteStore(path, "docs")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, testCorpus()))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`UPDATE "docs" SET date = '2024-03-01' WHERE position = 1`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE "docs" SET date = 'not a date' WHERE position = 2`)
	require.NoError(t, err)

	docs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 4)

	require.NotNil(t, docs[0].Date)
	require.NotNil(t, docs[1].Date)
	assert.Equal(t, 2024, docs[1].Date.Year())
	assert.Nil(t, docs[2].Date)
}
