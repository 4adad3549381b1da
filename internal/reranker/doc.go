// Package reranker scores search candidates against a query with a
// cross-encoder relevance model, reached over HTTP. Scores land in [0,1];
// a candidate missing from the model's output was excluded, not zeroed,
// and callers must handle that. Service provides the lazy once-per-process
// handle used by the retrieval orchestrator.
package reranker
