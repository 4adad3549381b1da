// Package indexer is the incremental indexing pipeline: it resolves files
// to root-relative document ids, decides skip-vs-reindex by exact content
// hash, chunks and embeds changed documents, and writes them through the
// storage layer with lifecycle events.
//
// Source indexing processes files in fixed-size concurrent batches with a
// barrier between batches, bounding peak embedding and storage load while
// overlapping I/O. Every per-file failure is collected and reported; no
// single file can abort a source run. Deletion takes directory semantics:
// deleting "docs" removes "docs/a.md" and "docs/sub/b.md" but not
// "docsother/c.md".
package indexer
