package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infosec-rag/internal/corpus"
	"infosec-rag/internal/index"
	"infosec-rag/internal/model"
)

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	return s.vec, s.err
}

// recordingIndex wraps a real index and remembers the requested k.
type recordingIndex struct {
	*index.Flat
	lastK int
	extra []index.Hit
}

func (r *recordingIndex) Search(q []float32, k int) ([]index.Hit, error) {
	r.lastK = k
	hits, err := r.Flat.Search(q, k)
	return append(r.extra, hits...), err
}

func testStore() *corpus.Store {
	return corpus.NewStore([]corpus.DocumentRecord{
		{PDFName: "Luat_An_toan_thong_tin.pdf", Chunks: []string{"legal a", "legal b"}},
		{PDFName: "NIST_framework.pdf", Chunks: []string{"english a"}},
		{PDFName: "giao_trinh.pdf", Chunks: []string{"viet a"}},
	}, nil)
}

func testIndex(t *testing.T) *index.Flat {
	t.Helper()
	idx, err := index.NewFlat(2, index.MetricIP)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{
		{0.9, 0.1}, // legal a
		{0.6, 0.4}, // legal b
		{0.8, 0.2}, // english a
		{0.1, 0.9}, // viet a
	}))
	return idx
}

func TestRetrieverRanksAndTruncates(t *testing.T) {
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, testIndex(t), testStore(), false)
	require.NoError(t, err)

	results, err := r.Search(context.Background(), "q", 2, "", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "legal a", results[0].Chunk.Content)
	assert.Equal(t, "english a", results[1].Chunk.Content)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestRetrieverCategoryFilter(t *testing.T) {
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, testIndex(t), testStore(), false)
	require.NoError(t, err)

	results, err := r.Search(context.Background(), "q", 5, model.CategoryLegal, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, model.CategoryLegal, res.Category)
	}
}

func TestRetrieverThreshold(t *testing.T) {
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, testIndex(t), testStore(), false)
	require.NoError(t, err)

	results, err := r.Search(context.Background(), "q", 5, "", 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.GreaterOrEqual(t, res.Score, 0.7)
	}

	results, err = r.Search(context.Background(), "q", 5, "", 0.99)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieverThresholdIsMaxDistanceForL2(t *testing.T) {
	idx, err := index.NewFlat(2, index.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{
		{0.9, 0.1}, // legal a, 0.02
		{0.6, 0.4}, // legal b, 0.32
		{0.8, 0.2}, // english a, 0.08
		{0.1, 0.9}, // viet a, 1.62
	}))
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, idx, testStore(), false)
	require.NoError(t, err)

	results, err := r.Search(context.Background(), "q", 5, "", 0.3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "legal a", results[0].Chunk.Content)
	assert.Equal(t, "english a", results[1].Chunk.Content)
	for _, res := range results {
		assert.LessOrEqual(t, res.Score, 0.3)
	}

	results, err = r.Search(context.Background(), "q", 5, "", 0)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "viet a", results[3].Chunk.Content)
}

func TestRetrieverOverFetch(t *testing.T) {
	idx := &recordingIndex{Flat: testIndex(t)}
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, idx, testStore(), false)
	require.NoError(t, err)

	_, err = r.Search(context.Background(), "q", 5, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 15, idx.lastK)

	_, err = r.Search(context.Background(), "q", 40, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 50, idx.lastK)
}

func TestRetrieverSkipsOutOfRangePositions(t *testing.T) {
	idx := &recordingIndex{Flat: testIndex(t), extra: []index.Hit{{Position: 99, Score: 5}}}
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, idx, testStore(), false)
	require.NoError(t, err)

	results, err := r.Search(context.Background(), "q", 5, "", 0)
	require.NoError(t, err)
	assert.Len(t, results, 4)
	for _, res := range results {
		assert.NotEqual(t, 5.0, res.Score)
	}
}

func TestRetrieverEmbeddingFailure(t *testing.T) {
	r, err := NewRetriever(&stubEmbedder{err: errors.New("down")}, testIndex(t), testStore(), false)
	require.NoError(t, err)

	_, err = r.Search(context.Background(), "q", 5, "", 0)
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestNewRetrieverRejectsMisalignedIndex(t *testing.T) {
	idx, err := index.NewFlat(2, index.MetricIP)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1, 0}}))

	_, err = NewRetriever(&stubEmbedder{}, idx, testStore(), false)
	assert.ErrorIs(t, err, ErrIndexCorruption)
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, model.Category(""), NormalizeCategory(""))
	assert.Equal(t, model.Category(""), NormalizeCategory("All"))
	assert.Equal(t, model.CategoryLegal, NormalizeCategory("luat"))
	assert.Equal(t, model.CategoryEnglish, NormalizeCategory(" english "))
}
