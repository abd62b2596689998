// Package ingest builds the chunk dump and the paired vector index from a
// directory of source documents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"infosec-rag/internal/corpus"
	"infosec-rag/internal/index"
	"infosec-rag/internal/pkg/pdfextract"
)

var ErrNoChunks = errors.New("no text to index")

type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	ChunkSize int
	Overlap   int
	BatchSize int
	Metric    index.Metric
	Normalize bool
}

func DefaultOptions() Options {
	return Options{
		ChunkSize: 512,
		Overlap:   64,
		BatchSize: 10,
		Metric:    index.MetricIP,
		Normalize: true,
	}
}

type Document struct {
	Name string
	Text string
}

// Result is a chunk dump and the index built from it, position-aligned.
type Result struct {
	Records []corpus.DocumentRecord
	Index   *index.Flat
}

type Builder struct {
	embedder DocumentEmbedder
	opts     Options
}

func NewBuilder(embedder DocumentEmbedder, opts Options) *Builder {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = opts.ChunkSize / 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Metric == "" {
		opts.Metric = def.Metric
	}
	return &Builder{embedder: embedder, opts: opts}
}

// ReadDocuments loads every .pdf, .txt and .md file under dir, ordered by path.
func ReadDocuments(dir string) ([]Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf", ".txt", ".md":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s failed: %w", dir, err)
	}
	sort.Strings(paths)

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		text, err := readText(path)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			log.Printf("ingest: %s has no extractable text, skipped", path)
			continue
		}
		docs = append(docs, Document{Name: filepath.Base(path), Text: text})
	}
	return docs, nil
}

func readText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s failed: %w", path, err)
		}
		defer f.Close()
		text, err := pdfextract.ExtractText(f)
		if err != nil {
			return "", fmt.Errorf("extract %s failed: %w", path, err)
		}
		return text, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s failed: %w", path, err)
	}
	return string(b), nil
}

// Build chunks the documents and embeds the chunks in dump order, which is the
// order the chunk store flattens them in at load time.
func (b *Builder) Build(ctx context.Context, docs []Document) (*Result, error) {
	var (
		records []corpus.DocumentRecord
		texts   []string
	)
	for _, doc := range docs {
		chunks := ChunkText(doc.Text, b.opts.ChunkSize, b.opts.Overlap)
		if len(chunks) == 0 {
			continue
		}
		records = append(records, corpus.DocumentRecord{PDFName: doc.Name, Chunks: chunks})
		texts = append(texts, chunks...)
		log.Printf("ingest: %s -> %d chunks", doc.Name, len(chunks))
	}
	if len(texts) == 0 {
		return nil, ErrNoChunks
	}

	var idx *index.Flat
	for start := 0; start < len(texts); start += b.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + b.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := b.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d failed: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed chunks %d-%d failed: got %d vectors", start, end, len(vectors))
		}
		if idx == nil {
			idx, err = index.NewFlat(len(vectors[0]), b.opts.Metric)
			if err != nil {
				return nil, err
			}
		}
		if b.opts.Normalize {
			for i := range vectors {
				vectors[i] = index.Normalize(vectors[i])
			}
		}
		if err := idx.Add(vectors); err != nil {
			return nil, fmt.Errorf("add chunks %d-%d failed: %w", start, end, err)
		}
	}
	return &Result{Records: records, Index: idx}, nil
}

// Save writes the dump and the index. The index goes last: a reader seeing a
// new index file can rely on the matching dump being in place.
func (r *Result) Save(chunksPath, indexPath string) error {
	if err := corpus.SaveRecords(chunksPath, r.Records); err != nil {
		return err
	}
	return r.Index.Save(indexPath)
}
