// Package types defines the shared domain types for the document search
// engine: chunks, documents, index events, configured sources, and the
// serialized search response contract consumed by downstream tooling.
//
// The package has no dependencies on the rest of the codebase so that
// every layer (chunker, storage, indexer, searcher, MCP surface) can
// exchange values without import cycles.
package types
