// Package corpus holds the position-aligned chunk collection that backs the
// vector index. Chunks are produced by flattening document records in order:
// document 0's chunks first, then document 1's, and so on. The same order must
// have been used when the paired index was built.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"infosec-rag/internal/model"
)

// DocumentRecord is one entry of the persisted chunk dump.
type DocumentRecord struct {
	PDFName string   `json:"pdf_name"`
	Chunks  []string `json:"chunks"`
}

// CategoryRule maps file-name markers to a category. Rules are tried in order.
type CategoryRule struct {
	Category model.Category `toml:"category"`
	Markers  []string       `toml:"markers"`
}

var DefaultCategoryRules = []CategoryRule{
	{Category: model.CategoryLegal, Markers: []string{"luat", "nghi_dinh", "quyet_dinh", "thong_tu", "tcvn"}},
	{Category: model.CategoryEnglish, Markers: []string{"nist", "iso", "cybersecurity", "framework"}},
}

// Categorize picks the category of a source file; unmatched names are vietnamese.
func Categorize(name string, rules []CategoryRule) model.Category {
	lower := strings.ToLower(name)
	for _, rule := range rules {
		for _, marker := range rule.Markers {
			if strings.Contains(lower, marker) {
				return rule.Category
			}
		}
	}
	return model.CategoryVietnamese
}

// DisplayName turns "luat_an_toan_thong_tin.pdf" into "Luat An Toan Thong Tin".
func DisplayName(filename string) string {
	name := strings.ReplaceAll(filename, ".pdf", "")
	name = strings.ReplaceAll(name, ".PDF", "")
	name = strings.ReplaceAll(name, "_", " ")
	return cases.Title(language.Und).String(name)
}

type CategoryStats struct {
	Chunks      int `json:"chunks"`
	TotalLength int `json:"total_length"`
}

type Stats struct {
	TotalDocuments int                      `json:"total_documents"`
	TotalChunks    int                      `json:"total_chunks"`
	Categories     map[string]CategoryStats `json:"categories"`
}

// Store is immutable once built and safe for concurrent readers.
type Store struct {
	chunks    []model.Chunk
	documents int
}

func NewStore(records []DocumentRecord, rules []CategoryRule) *Store {
	if rules == nil {
		rules = DefaultCategoryRules
	}
	total := 0
	for _, rec := range records {
		total += len(rec.Chunks)
	}
	chunks := make([]model.Chunk, 0, total)
	for docIdx, rec := range records {
		name := rec.PDFName
		if name == "" {
			name = "Unknown"
		}
		category := Categorize(name, rules)
		for chunkIdx, text := range rec.Chunks {
			chunks = append(chunks, model.Chunk{
				Content:        text,
				SourceDocument: name,
				Category:       category,
				ContentLength:  utf8.RuneCountInString(text),
				DocumentIndex:  docIdx,
				ChunkIndex:     chunkIdx,
			})
		}
	}
	return &Store{chunks: chunks, documents: len(records)}
}

// Load reads a chunk dump and flattens it.
func Load(path string, rules []CategoryRule) (*Store, error) {
	records, err := LoadRecords(path)
	if err != nil {
		return nil, err
	}
	return NewStore(records, rules), nil
}

func LoadRecords(path string) ([]DocumentRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk dump failed: %w", err)
	}
	var records []DocumentRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse chunk dump failed: %w", err)
	}
	return records, nil
}

func SaveRecords(path string, records []DocumentRecord) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create chunk dump dir failed: %w", err)
		}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal chunk dump failed: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write chunk dump failed: %w", err)
	}
	return nil
}

func (s *Store) Len() int { return len(s.chunks) }

// At resolves an ordinal position; ok is false when pos is out of range.
func (s *Store) At(pos int) (model.Chunk, bool) {
	if pos < 0 || pos >= len(s.chunks) {
		return model.Chunk{}, false
	}
	return s.chunks[pos], true
}

func (s *Store) Stats() Stats {
	stats := Stats{
		TotalDocuments: s.documents,
		TotalChunks:    len(s.chunks),
		Categories:     make(map[string]CategoryStats),
	}
	for _, c := range s.chunks {
		cat := stats.Categories[string(c.Category)]
		cat.Chunks++
		cat.TotalLength += c.ContentLength
		stats.Categories[string(c.Category)] = cat
	}
	return stats
}
