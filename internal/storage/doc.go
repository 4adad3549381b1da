// Package storage owns the persisted index: chunk and document tables, the
// FTS5 full-text index, the embedding vector index, the append-only event
// log, and versioned metadata, all in one SQLite database under the project
// state directory.
//
// # Schema
//
// The chunks table carries both an INTEGER rowid (anchoring the FTS index
// and the embeddings table) and the stable content-derived chunk_id.
// Triggers keep chunks_fts in sync with chunk rows; updates delete then
// reinsert postings so stale entries never survive a chunk removal. The
// embeddings table is 1:1 with chunk rows: embedding rows are written right
// after their chunk row inside the same transaction and removed before it.
//
// # Hybrid Search
//
// HybridSearch fetches a keyword-ranked list (BM25 over FTS5) and a
// vector-ranked list (cosine similarity), then fuses them with weighted
// reciprocal rank fusion. An empty query text selects a pure vector path
// with a hard similarity floor. A keyword query FTS5 cannot parse falls
// back to the vector path with a non-fatal flag.
//
// # Index Version
//
// Every mutating transaction regenerates an opaque index version token in
// the meta table. Callers use it to detect that the index changed under a
// pagination cursor; it is not enforced transactionally.
//
// # Drivers
//
// Builds with the sqlite_vec tag link github.com/mattn/go-sqlite3 and push
// distance computation into SQL; default builds use the pure Go
// modernc.org/sqlite driver and compute similarity in Go.
package storage
