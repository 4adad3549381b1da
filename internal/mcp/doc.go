// Package mcp exposes the document index over the Model Context Protocol
// on stdio. Four tools cover the index lifecycle: index_source runs the
// indexing pipeline over configured sources, search_docs answers hybrid
// queries with the full response envelope, delete_document removes a
// document or directory subtree, and get_status reports index statistics.
//
// Tool handlers validate parameters and translate application errors into
// JSON-RPC error codes; they hold no state of their own.
package mcp
