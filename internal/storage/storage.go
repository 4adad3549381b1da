package storage

import (
	"context"

	"github.com/docdex/docdex/pkg/types"
)

// Store defines the interface for persisting and querying indexed documents
type Store interface {
	// Chunk operations
	InsertChunks(ctx context.Context, chunks []*types.Chunk) error
	DeleteChunksByDoc(ctx context.Context, docID string) (int, error)

	// Document operations
	UpsertDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, docID string) (*types.Document, error)
	ListDocuments(ctx context.Context) ([]*types.Document, error)
	DeleteByPrefix(ctx context.Context, id string) (docs int, chunks int, err error)

	// Search operations
	HybridSearch(ctx context.Context, opts SearchOptions) (*SearchOutput, error)

	// Event log
	AppendEvent(ctx context.Context, event *types.IndexEvent) error
	LastEvent(ctx context.Context) (*types.IndexEvent, error)

	// Metadata
	IndexVersion(ctx context.Context) (string, error)
	Stats(ctx context.Context) (*types.IndexStats, error)

	Close() error
}

// SearchOptions are the inputs to a hybrid search.
type SearchOptions struct {
	// Query is the raw query text. Empty means pure vector search.
	Query string
	// Embedding is the query embedding; nil disables the vector leg.
	Embedding []float32
	Limit     int
	Offset    int

	KeywordWeight  float64
	SemanticWeight float64
	// RRFConstant damps rank differences in reciprocal rank fusion.
	RRFConstant float64
	// MinSimilarity is the hard floor applied on the empty-query path.
	MinSimilarity float64
}

// Hit is one ranked chunk returned from hybrid search. Text is carried
// alongside the snippet so rerankers can score full chunk content.
type Hit struct {
	ChunkID   string
	DocID     string
	Text      string
	Snippet   string
	LineStart int
	LineEnd   int
	PageStart *int
	PageEnd   *int
	Score     float64
}

// SearchOutput wraps the ranked hits plus non-fatal search diagnostics.
type SearchOutput struct {
	Hits []Hit
	// KeywordFallback is set when the keyword query could not be parsed
	// and search silently fell back to the vector-only path.
	KeywordFallback bool
	// Total is the size of the fused candidate pool before paging.
	Total int
}
