package types

// SchemaVersion identifies the search response serialization format.
const SchemaVersion = 2

// SearchResult is one ranked hit in a search response.
type SearchResult struct {
	ChunkID   string  `json:"chunk_id"`
	Path      string  `json:"path"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	PageStart *int    `json:"page_start"`
	PageEnd   *int    `json:"page_end"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
}

// Timing reports per-phase durations in milliseconds. Reranking is nil
// when no reranker ran.
type Timing struct {
	Search    int64  `json:"search"`
	Reranking *int64 `json:"reranking,omitempty"`
}

// SearchResponse is the serialization contract for downstream consumers.
// NextCursor is nil on the last page.
type SearchResponse struct {
	SchemaVersion int            `json:"schema_version"`
	ProjectID     string         `json:"project_id"`
	Query         string         `json:"query"`
	IndexState    string         `json:"index_state"`
	Confidence    float64        `json:"confidence"`
	Results       []SearchResult `json:"results"`
	NextCursor    *string        `json:"next_cursor"`
	PIIRedacted   bool           `json:"pii_redacted"`
	TimingMS      Timing         `json:"timing_ms"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// FileResult is the outcome of indexing a single file. A failed file
// carries Error and leaves Chunks at zero; an unchanged file is reported
// as Skipped with zero chunks.
type FileResult struct {
	Path    string
	Success bool
	Skipped bool
	Chunks  int
	Error   string
}

// SourceResult aggregates per-file outcomes for one source run. Errors
// holds "path: message" entries; a failing file never aborts the run.
type SourceResult struct {
	Indexed int
	Skipped int
	Errors  []string
}

// IndexStats summarizes the persisted index.
type IndexStats struct {
	Documents   int
	Chunks      int
	Embeddings  int
	IndexSizeMB float64
	LastEvent   *IndexEvent
}
