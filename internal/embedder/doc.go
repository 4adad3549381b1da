// Package embedder generates fixed-dimension text embeddings for chunks
// and queries.
//
// Three providers are available: ollama (local model server), openai
// (remote API with the output dimension pinned), and local (deterministic
// hash-seeded vectors for offline use and tests). Provider selection comes
// from explicit config or environment variables; see NewFromEnv.
//
// All providers share an LRU cache keyed by content hash, truncate
// oversized input at a token boundary, and retry transient API failures
// with exponential backoff. Service wraps a provider in a lazy
// once-per-process handle for callers that must not pay model startup cost
// until first use.
package embedder
