package processor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/processor"
	"github.com/xhad/recall/pkg/store"
)

// mockVectorizer returns a vector derived from the text and can be told to
// fail on a specific input.
type mockVectorizer struct {
	texts  []string
	failOn string
	dims   map[string]int
}

func (m *mockVectorizer) Embed(_ context.Context, text string) ([]float64, error) {
	m.texts = append(m.texts, text)
	if text == m.failOn {
		return nil, errors.New("model unavailable")
	}
	dim := 3
	if d, ok := m.dims[text]; ok {
		dim = d
	}
	v := make([]float64, dim)
	v[0] = float64(len(text))
	return v, nil
}

func corpus() []models.Document {
	return []models.Document{
		{Title: "One", URL: "https://example.com/1", Content: "first article"},
		{Title: "Two", URL: "https://example.com/2", Content: "second article"},
		{Title: "Three", URL: "https://example.com/3", Content: "third article"},
	}
}

func TestProcessor_Process(t *testing.T) {
	vec := &mockVectorizer{}
	var progress []int
	p := processor.NewWithConfig(vec, processor.ProcessorConfig{
		OnProgress: func(done, total int, doc models.Document) {
			assert.Equal(t, 3, total)
			progress = append(progress, done)
		},
	})

	docs := corpus()
	out, err := p.Process(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, []string{"One\n\nfirst article", "Two\n\nsecond article", "Three\n\nthird article"}, vec.texts)
	assert.Equal(t, []int{1, 2, 3}, progress)
	for i := range docs {
		assert.Equal(t, docs[i], out[i].Document)
		assert.Len(t, out[i].Embedding, 3)
	}
}

func TestProcessor_AbortsOnFailure(t *testing.T) {
	vec := &mockVectorizer{failOn: "Two\n\nsecond article"}
	p := processor.NewWithConfig(vec, processor.ProcessorConfig{})

	out, err := p.Process(context.Background(), corpus())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "https://example.com/2")

	// The third document is never attempted
	assert.Len(t, vec.texts, 2)
}

func TestProcessor_DimensionDrift(t *testing.T) {
	vec := &mockVectorizer{dims: map[string]int{"Three\n\nthird article": 4}}
	p := processor.NewWithConfig(vec, processor.ProcessorConfig{})

	_, err := p.Process(context.Background(), corpus())
	assert.ErrorContains(t, err, "dimension 4, expected 3")
}

func TestProcessor_RejectsDuplicateURLs(t *testing.T) {
	vec := &mockVectorizer{}
	p := processor.NewWithConfig(vec, processor.ProcessorConfig{})

	docs := corpus()
	docs[2].URL = docs[0].URL

	_, err := p.Process(context.Background(), docs)
	assert.ErrorContains(t, err, "duplicate")
	assert.Empty(t, vec.texts)
}

func TestProcessor_SanitizesText(t *testing.T) {
	vec := &mockVectorizer{}
	p := processor.NewWithConfig(vec, processor.ProcessorConfig{})

	docs := []models.Document{{Title: "Bad\xffTitle", URL: "u", Content: "ok"}}
	out, err := p.Process(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, "BadTitle", out[0].Title)
	assert.Equal(t, "BadTitle\n\nok", vec.texts[0])
}

func TestProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := processor.NewWithConfig(&mockVectorizer{}, processor.ProcessorConfig{})
	_, err := p.Process(ctx, corpus())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "articles.json")
	require.NoError(t, processor.SaveCorpus(corpusPath, corpus()))

	s := store.NewFileStore(filepath.Join(dir, "embeddings.json"))
	p := processor.NewWithConfig(&mockVectorizer{}, processor.ProcessorConfig{})

	summary, err := p.Build(context.Background(), corpusPath, s)
	require.NoError(t, err)
	assert.Equal(t, processor.Summary{Documents: 3, Dimension: 3}, summary)

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestBuildFailureLeavesStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "articles.json")
	require.NoError(t, processor.SaveCorpus(corpusPath, corpus()))
	storePath := filepath.Join(dir, "embeddings.json")
	s := store.NewFileStore(storePath)

	p := processor.NewWithConfig(&mockVectorizer{failOn: "Three\n\nthird article"}, processor.ProcessorConfig{})
	_, err := p.Build(context.Background(), corpusPath, s)
	require.Error(t, err)

	_, statErr := os.Stat(storePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadCorpusErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := processor.LoadCorpus(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = processor.LoadCorpus(bad)
	assert.Error(t, err)
}

// documentVectorizer also embeds whole documents, the way llm.Embedder does.
type documentVectorizer struct {
	mockVectorizer
	docs []string
}

func (d *documentVectorizer) EmbedDocument(ctx context.Context, doc models.Document) ([]float64, error) {
	d.docs = append(d.docs, doc.URL)
	return d.Embed(ctx, models.EmbeddingText(doc))
}

func TestProcessorPrefersDocumentEmbedding(t *testing.T) {
	vec := &documentVectorizer{}
	p := processor.NewWithConfig(vec, processor.ProcessorConfig{})

	out, err := p.Process(context.Background(), corpus())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}, vec.docs)
	assert.Equal(t, "One\n\nfirst article", vec.texts[0])
}
