package models

// PageRecord is the plain text of one source page.
type PageRecord struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// Chunk is a slice of the flattened document text with its provenance.
// CharStart and CharEnd are byte offsets into the flattened text, end exclusive.
type Chunk struct {
	Content   string `json:"content"`
	Phrase    string `json:"phrase"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// EmbeddedChunk pairs a chunk with the vector of its content.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32 `json:"embedding,omitempty"`
}

// StoredChunk is a persisted chunk row.
type StoredChunk struct {
	ID         int64 `json:"id"`
	DocumentID int64 `json:"document_id"`
	Chunk
}

// SearchResult is a chunk matched by a similarity query.
type SearchResult struct {
	ID         int64   `json:"id"`
	DocumentID int64   `json:"document_id"`
	Content    string  `json:"content"`
	Phrase     string  `json:"phrase"`
	PageStart  int     `json:"page_start"`
	PageEnd    int     `json:"page_end"`
	Score      float64 `json:"score"`
}

// Document is the subset of the repository's document record used by ingestion.
type Document struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	FilePath  string `json:"file_path"`
	FileHash  string `json:"file_hash"`
	AISummary string `json:"ai_summary"`
}

type PromptResponse struct {
	Query   string         `json:"query"`
	Prompt  string         `json:"prompt"`
	Sources []SearchResult `json:"sources"`
	Content string         `json:"content,omitempty"`
}
