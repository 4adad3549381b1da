package types

import "fmt"

// ChunkingStrategy selects how a document is split into chunks.
type ChunkingStrategy string

const (
	// StrategyStructural splits markdown-like input on heading boundaries.
	StrategyStructural ChunkingStrategy = "structural"
	// StrategyFixed splits any text into fixed-size overlapping chunks.
	StrategyFixed ChunkingStrategy = "fixed"
)

// ChunkingConfig controls the chunking engine.
type ChunkingConfig struct {
	Strategy ChunkingStrategy `yaml:"strategy"`
	// ChunkSize is the target chunk size in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the tail/head overlap for the fixed strategy.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// SnippetLength caps stored snippets.
	SnippetLength int `yaml:"snippet_length"`
	// SnippetMinFraction rejects sentence boundaries earlier than this
	// fraction of the snippet cap.
	SnippetMinFraction float64 `yaml:"snippet_min_fraction"`
}

// DefaultChunkingConfig returns the chunking defaults.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Strategy:           StrategyStructural,
		ChunkSize:          1000,
		ChunkOverlap:       200,
		SnippetLength:      300,
		SnippetMinFraction: 0.6,
	}
}

// RetrievalConfig controls hybrid search and result post-processing.
// The confidence weights are configuration on purpose: the formula can
// rank many mediocre results above one excellent result, and changing it
// silently would change ranking behavior under callers.
type RetrievalConfig struct {
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	// RRFConstant damps the influence of rank differences among top results.
	RRFConstant float64 `yaml:"rrf_constant"`
	// MinSimilarity is the hard floor applied to empty-query vector search.
	MinSimilarity float64 `yaml:"min_similarity"`
	Pagination    bool    `yaml:"pagination"`
	Rerank        bool    `yaml:"rerank"`
	RerankWeight  float64 `yaml:"rerank_weight"`
	RedactPII     bool    `yaml:"redact_pii"`

	ConfidenceScoreWeight float64 `yaml:"confidence_score_weight"`
	ConfidenceCountWeight float64 `yaml:"confidence_count_weight"`
	ConfidenceCountCap    float64 `yaml:"confidence_count_cap"`
}

// DefaultRetrievalConfig returns the retrieval defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		KeywordWeight:         1.0,
		SemanticWeight:        1.0,
		RRFConstant:           60,
		MinSimilarity:         0.6,
		Pagination:            true,
		Rerank:                false,
		RerankWeight:          0.7,
		ConfidenceScoreWeight: 0.7,
		ConfidenceCountWeight: 0.3,
		ConfidenceCountCap:    10,
	}
}

// IndexingConfig controls the indexing pipeline.
type IndexingConfig struct {
	// MaxFileSize is the per-file size ceiling in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`
	// BatchSize bounds how many files are processed concurrently.
	BatchSize int `yaml:"batch_size"`
	// Ignore patterns are matched against root-relative paths with
	// substring or simple-glob semantics, not full ignore-file semantics.
	Ignore []string `yaml:"ignore"`
}

// DefaultIndexingConfig returns the indexing defaults.
func DefaultIndexingConfig() IndexingConfig {
	return IndexingConfig{
		MaxFileSize: 10 * 1024 * 1024,
		BatchSize:   4,
	}
}

// Config is the full application configuration, loaded from YAML.
type Config struct {
	StateDir  string          `yaml:"state_dir"`
	Sources   []Source        `yaml:"sources"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Indexing  IndexingConfig  `yaml:"indexing"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() Config {
	return Config{
		Chunking:  DefaultChunkingConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Indexing:  DefaultIndexingConfig(),
	}
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.SemanticWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if src.Path == "" {
			return fmt.Errorf("sources[%d]: path is required", i)
		}
	}
	return nil
}
