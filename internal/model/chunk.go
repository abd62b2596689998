package model

// Category groups source documents for filtering.
type Category string

const (
	CategoryLegal      Category = "legal"
	CategoryEnglish    Category = "english"
	CategoryVietnamese Category = "vietnamese"
)

// Chunk is a span of extracted document text. Its position in the corpus is
// the join key to the vector index.
type Chunk struct {
	Content        string   `json:"content"`
	SourceDocument string   `json:"source_document"`
	Category       Category `json:"category"`
	ContentLength  int      `json:"content_length"`
	DocumentIndex  int      `json:"document_index"`
	ChunkIndex     int      `json:"chunk_index"`
}
