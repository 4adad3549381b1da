// Package chunker divides document text into retrievable chunks with stable
// identities and exact line provenance.
//
// Two strategies are available:
//   - Structural: markdown-like input is split on heading boundaries, with
//     fenced code blocks tracked so a "#" line inside a fence never starts a
//     new section. Oversized sections are re-split on paragraph boundaries.
//   - Fixed: any text is split into fixed-size chunks with a configurable
//     tail/head overlap between consecutive chunks.
//
// # Chunk Identity
//
// Chunk IDs are a pure function of content and position:
//
//	docID:lineStart-lineEnd:hash8
//
// where hash8 is the first 8 hex characters of the SHA-256 of the chunk's
// trimmed text. Two runs over unchanged content produce byte-identical IDs,
// and any content change produces a different ID.
//
// # Basic Usage
//
//	chunks := chunker.Chunk(content, "docs/guide.md", "markdown", types.DefaultChunkingConfig())
//	for _, c := range chunks {
//	    fmt.Printf("%s lines %d-%d\n", c.ChunkID, c.LineStart, c.LineEnd)
//	}
package chunker
