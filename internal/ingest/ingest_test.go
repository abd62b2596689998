package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infosec-rag/internal/corpus"
	"infosec-rag/internal/index"
)

func numberedSentences(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Câu số %02d nói về an toàn thông tin mạng.", i)
	}
	return out
}

func TestChunkTextRespectsSizeAndOverlap(t *testing.T) {
	sentences := numberedSentences(30)
	chunks := ChunkText(strings.Join(sentences, " "), 120, 50)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 120)
		if i > 0 {
			prev := chunks[i-1]
			last := prev[strings.LastIndex(prev, "Câu số"):]
			assert.True(t, strings.HasPrefix(c, last), "chunk %d should start with %q", i, last)
		}
	}
	joined := strings.Join(chunks, " ")
	for _, s := range sentences {
		assert.Contains(t, joined, s)
	}
}

func TestChunkTextShortAndEmpty(t *testing.T) {
	assert.Equal(t, []string{"Một câu ngắn."}, ChunkText("  Một   câu\nngắn.  ", 512, 64))
	assert.Empty(t, ChunkText(" \n\n ", 512, 64))
}

func TestChunkTextWindowsLongSentence(t *testing.T) {
	chunks := ChunkText(strings.Repeat("a", 1000), 512, 64)
	require.Len(t, chunks, 3)
	assert.Equal(t, 512, len(chunks[0]))
	assert.Equal(t, 512, len(chunks[1]))
	assert.Equal(t, 104, len(chunks[2]))
}

func TestSplitSentencesRejoinsHyphenation(t *testing.T) {
	got := splitSentences("Bảo mật thông tin là ưu tiên hàng đầu. Hệ thống phát hiện xâm nhập giám sát mạng-\nlưới.\n\nMục 2")
	assert.Equal(t, []string{
		"Bảo mật thông tin là ưu tiên hàng đầu.",
		"Hệ thống phát hiện xâm nhập giám sát mạnglưới.",
		"Mục 2",
	}, got)
}

// orderEmbedder returns [position, 1] so tests can check which chunk landed
// where.
type orderEmbedder struct {
	seen    []string
	batches []int
	err     error
}

func (e *orderEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.batches = append(e.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(e.seen)), 1}
		e.seen = append(e.seen, text)
	}
	return out, nil
}

func testDocs() []Document {
	return []Document{
		{Name: "Luat_An_toan_thong_tin.pdf", Text: strings.Join(numberedSentences(20), " ")},
		{Name: "empty.txt", Text: "   "},
		{Name: "NIST_CSF.pdf", Text: strings.Join(numberedSentences(12), " ")},
	}
}

func TestBuildKeepsDumpAndIndexAligned(t *testing.T) {
	emb := &orderEmbedder{}
	b := NewBuilder(emb, Options{ChunkSize: 120, Overlap: 50, BatchSize: 4, Metric: index.MetricL2})

	res, err := b.Build(context.Background(), testDocs())
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Luat_An_toan_thong_tin.pdf", res.Records[0].PDFName)
	assert.Equal(t, "NIST_CSF.pdf", res.Records[1].PDFName)

	var flat []string
	for _, r := range res.Records {
		flat = append(flat, r.Chunks...)
	}
	assert.Equal(t, flat, emb.seen)
	assert.Equal(t, len(flat), res.Index.Size())
	for _, n := range emb.batches {
		assert.LessOrEqual(t, n, 4)
	}

	// With l2 and unnormalized vectors the nearest neighbour of [i, 1] is
	// position i.
	hits, err := res.Index.Search([]float32{5, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 5, hits[0].Position)

	store := corpus.NewStore(res.Records, nil)
	c, ok := store.At(5)
	require.True(t, ok)
	assert.Equal(t, flat[5], c.Content)
}

func TestBuildErrors(t *testing.T) {
	_, err := NewBuilder(&orderEmbedder{}, DefaultOptions()).Build(context.Background(), []Document{{Name: "x.txt", Text: " "}})
	assert.ErrorIs(t, err, ErrNoChunks)

	_, err = NewBuilder(&orderEmbedder{err: errors.New("model down")}, DefaultOptions()).Build(context.Background(), testDocs())
	assert.ErrorContains(t, err, "model down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewBuilder(&orderEmbedder{}, DefaultOptions()).Build(ctx, testDocs())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadDocumentsAndSave(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_mat_ma.txt"), []byte("Mật mã học bảo vệ dữ liệu."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c_tcvn.md"), []byte("Tiêu chuẩn quốc gia."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_blank.txt"), []byte("\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.docx"), []byte("ignored"), 0o644))

	docs, err := ReadDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b_mat_ma.txt", docs[0].Name)
	assert.Equal(t, "c_tcvn.md", docs[1].Name)

	res, err := NewBuilder(&orderEmbedder{}, DefaultOptions()).Build(context.Background(), docs)
	require.NoError(t, err)

	chunksPath := filepath.Join(dir, "out", "chunks.json")
	indexPath := filepath.Join(dir, "out", "index.bin")
	require.NoError(t, res.Save(chunksPath, indexPath))

	store, err := corpus.Load(chunksPath, nil)
	require.NoError(t, err)
	idx, err := index.Load(indexPath)
	require.NoError(t, err)
	assert.Equal(t, store.Len(), idx.Size())
	assert.Equal(t, index.MetricIP, idx.Metric())
	assert.Equal(t, 1, store.Stats().Categories["legal"].Chunks)
}
