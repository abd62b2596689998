// Package index implements an exact (brute-force) nearest-neighbour index over
// fixed-length float32 vectors. Positions are assigned in insertion order and
// are the join key to the chunk store.
package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type Metric string

const (
	// MetricIP scores by inner product; higher is closer.
	MetricIP Metric = "ip"
	// MetricL2 scores by squared euclidean distance; lower is closer.
	MetricL2 Metric = "l2"
)

// readBatch is how many float32 values Read decodes at a time.
const readBatch = 1 << 16

var fileMagic = [8]byte{'R', 'A', 'G', 'F', 'L', 'A', 'T', '1'}

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidMetric     = errors.New("invalid index metric")
	ErrCorruptFile       = errors.New("corrupt index file")
)

// ParseMetric accepts "ip" or "l2", in any case.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MetricIP, MetricL2:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
}

// Better reports whether score a ranks ahead of score b under m.
func (m Metric) Better(a, b float64) bool {
	if m == MetricL2 {
		return a < b
	}
	return a > b
}

// Admits reports whether score passes threshold under m. For ip the
// threshold is a minimum similarity; for l2 it is a maximum distance, and a
// non-positive one admits everything.
func (m Metric) Admits(score, threshold float64) bool {
	if m == MetricL2 {
		return threshold <= 0 || score <= threshold
	}
	return score >= threshold
}

// Hit is one search result: an ordinal position and its raw metric score.
type Hit struct {
	Position int
	Score    float64
}

// Flat stores vectors contiguously and scans all of them on every search.
type Flat struct {
	mu     sync.RWMutex
	metric Metric
	dim    int
	data   []float32
}

func NewFlat(dim int, metric Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", dim)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return &Flat{metric: metric, dim: dim}, nil
}

func (f *Flat) Dim() int       { return f.dim }
func (f *Flat) Metric() Metric { return f.metric }

// Size returns the number of stored vectors.
func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dim
}

// Add appends vectors; the first new vector takes position Size().
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d, index has %d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search returns up to k hits ordered best-first for the index metric.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.data) / f.dim
	hits := make([]Hit, n)
	for pos := 0; pos < n; pos++ {
		vec := f.data[pos*f.dim : (pos+1)*f.dim]
		hits[pos] = Hit{Position: pos, Score: f.score(query, vec)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return f.metric.Better(hits[i].Score, hits[j].Score)
	})
	if k > n {
		k = n
	}
	return hits[:k], nil
}

func (f *Flat) score(a, b []float32) float64 {
	var sum float64
	if f.metric == MetricL2 {
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return sum
	}
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize returns v scaled to unit length. Zero vectors are returned as-is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Save writes the index to path, replacing any existing file.
func (f *Flat) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index dir failed: %w", err)
		}
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file failed: %w", err)
	}
	if _, err := f.WriteTo(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index file failed: %w", err)
	}
	return nil
}

// WriteTo encodes the index as: magic, metric length + bytes, dim (u32),
// count (u64), then count*dim little-endian float32 values.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}
	header := []any{
		fileMagic,
		uint8(len(f.metric)),
		[]byte(f.metric),
		uint32(f.dim),
		uint64(len(f.data) / f.dim),
	}
	for _, field := range header {
		if err := binary.Write(cw, binary.LittleEndian, field); err != nil {
			return cw.n, fmt.Errorf("write index header failed: %w", err)
		}
	}
	if err := binary.Write(cw, binary.LittleEndian, f.data); err != nil {
		return cw.n, fmt.Errorf("write index vectors failed: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("flush index failed: %w", err)
	}
	return cw.n, nil
}

// Load reads an index written by Save.
func Load(path string) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file failed: %w", err)
	}
	defer file.Close()
	return Read(bufio.NewReader(file))
}

func Read(r io.Reader) (*Flat, error) {
	var magic [8]byte
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrCorruptFile, err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptFile)
	}
	var metricLen uint8
	if err := binary.Read(r, binary.LittleEndian, &metricLen); err != nil {
		return nil, fmt.Errorf("%w: read metric: %v", ErrCorruptFile, err)
	}
	metricBytes := make([]byte, metricLen)
	if _, err := io.ReadFull(r, metricBytes); err != nil {
		return nil, fmt.Errorf("%w: read metric: %v", ErrCorruptFile, err)
	}
	var dim uint32
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("%w: read dim: %v", ErrCorruptFile, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: read count: %v", ErrCorruptFile, err)
	}

	idx, err := NewFlat(int(dim), Metric(metricBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	if count > uint64(math.MaxInt/4/int(dim)) {
		return nil, fmt.Errorf("%w: %d vectors of dim %d", ErrCorruptFile, count, dim)
	}
	// The count is untrusted: grow with the bytes actually read.
	total := int(count) * int(dim)
	idx.data = make([]float32, 0, min(total, readBatch))
	buf := make([]float32, readBatch)
	for len(idx.data) < total {
		n := min(total-len(idx.data), readBatch)
		if err := binary.Read(r, binary.LittleEndian, buf[:n]); err != nil {
			return nil, fmt.Errorf("%w: read vectors: %v", ErrCorruptFile, err)
		}
		idx.data = append(idx.data, buf[:n]...)
	}
	return idx, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
