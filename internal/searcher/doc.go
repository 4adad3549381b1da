// Package searcher orchestrates retrieval on top of the storage layer's
// hybrid search: it embeds the query, applies optional cross-encoder
// reranking to the returned page, computes a confidence score, redacts
// PII from snippets when configured, and issues opaque pagination
// cursors bound to both the query and the index version.
//
// Degradation is deliberate: rerank failures, unparseable cursors, and
// stale cursors never fail a search. They reset or fall back and leave a
// warning on the response instead.
package searcher
