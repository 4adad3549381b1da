package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EmbeddingDimension is the fixed vector dimension used across the whole
// corpus. Every stored embedding and every query embedding must have
// exactly this many components.
const EmbeddingDimension = 768

// Chunk is a retrievable unit of document text. Its identity is a pure
// function of content and position: two indexing runs over unchanged
// content produce byte-identical chunk IDs.
type Chunk struct {
	ChunkID   string
	DocID     string
	Text      string
	Snippet   string
	LineStart int // 1-based, inclusive
	LineEnd   int // 1-based, inclusive
	PageStart *int
	PageEnd   *int
	Embedding []float32
}

// Document is one indexed source file. DocID is the path relative to the
// project root and acts as the primary key.
type Document struct {
	DocID       string
	SourceName  string
	Format      string
	ContentHash string
	UpdatedAt   time.Time
	SizeBytes   int64
}

// EventType classifies index lifecycle events.
type EventType string

const (
	EventAdd    EventType = "add"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
)

// IndexEvent is an append-only lifecycle record. Events are never mutated
// or deleted; they exist for status reporting only.
type IndexEvent struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// Source is a configured indexing root. Sources are owned by configuration
// and consumed by the indexing pipeline; they are not persisted.
type Source struct {
	Name    string   `yaml:"name"`
	Path    string   `yaml:"path"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	Watch   bool     `yaml:"watch"`
}

// ChunkID derives the stable identity for a chunk from its owning document,
// line range, and the first 8 hex characters of the SHA-256 of its trimmed
// text.
func ChunkID(docID string, lineStart, lineEnd int, trimmedText string) string {
	sum := sha256.Sum256([]byte(trimmedText))
	return fmt.Sprintf("%s:%d-%d:%s", docID, lineStart, lineEnd, hex.EncodeToString(sum[:])[:8])
}

// HashContent returns the hex-encoded SHA-256 of raw document bytes. The
// stored hash is the sole signal for the skip-vs-reindex decision, so it
// must be an exact byte-for-byte digest.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
