package rag

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"infosec-rag/internal/index"
	"infosec-rag/internal/model"
)

const maxFetch = 50

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Search(query []float32, k int) ([]index.Hit, error)
	Metric() index.Metric
	Size() int
}

type ChunkSource interface {
	At(pos int) (model.Chunk, bool)
	Len() int
}

// Retriever embeds a query, over-fetches neighbours and filters them.
type Retriever struct {
	embedder  QueryEmbedder
	index     VectorSearcher
	chunks    ChunkSource
	normalize bool
}

// NewRetriever refuses an index and chunk store of different sizes, since
// positions are the only join key between them.
func NewRetriever(embedder QueryEmbedder, idx VectorSearcher, chunks ChunkSource, normalize bool) (*Retriever, error) {
	if idx.Size() != chunks.Len() {
		return nil, fmt.Errorf("%w: index has %d vectors, store has %d chunks", ErrIndexCorruption, idx.Size(), chunks.Len())
	}
	return &Retriever{
		embedder:  embedder,
		index:     idx,
		chunks:    chunks,
		normalize: normalize,
	}, nil
}

// NormalizeCategory maps a caller-supplied filter to a category. The empty
// category means no filter. "luat" is the legacy tag for legal.
func NormalizeCategory(filter string) model.Category {
	f := strings.ToLower(strings.TrimSpace(filter))
	switch f {
	case "", "all":
		return ""
	case "luat":
		return model.CategoryLegal
	}
	return model.Category(f)
}

// Search returns at most topK results whose category matches filter (when
// set) and whose score passes threshold for the index metric, best first.
func (r *Retriever) Search(ctx context.Context, query string, topK int, filter model.Category, threshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if r.normalize && r.index.Metric() == index.MetricIP {
		vec = index.Normalize(vec)
	}

	metric := r.index.Metric()
	fetch := topK * 3
	if fetch > maxFetch {
		fetch = maxFetch
	}
	hits, err := r.index.Search(vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	results := make([]SearchResult, 0, len(hits))
	skipped := 0
	for _, hit := range hits {
		chunk, ok := r.chunks.At(hit.Position)
		if !ok {
			skipped++
			continue
		}
		if filter != "" && chunk.Category != filter {
			continue
		}
		if !metric.Admits(hit.Score, threshold) {
			continue
		}
		results = append(results, SearchResult{
			Chunk:    chunk,
			Score:    hit.Score,
			Category: chunk.Category,
		})
	}
	if skipped > 0 {
		log.Printf("retriever skipped %d out-of-range positions", skipped)
		if len(results) == 0 && skipped == len(hits) {
			return nil, ErrIndexCorruption
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return metric.Better(results[i].Score, results[j].Score)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
