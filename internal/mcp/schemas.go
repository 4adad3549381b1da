package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexSourceTool returns the tool definition for index_source
func indexSourceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_source",
		Description: "Index one configured document source, or all sources, into the search index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Name of a configured source to index; omit to index every source",
				},
			},
		},
	}
}

// searchDocsTool returns the tool definition for search_docs
func searchDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_docs",
		Description: "Search indexed documents with hybrid keyword and semantic retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"cursor": map[string]interface{}{
					"type":        "string",
					"description": "Opaque pagination cursor from a previous response's next_cursor",
				},
			},
			Required: []string{"query"},
		},
	}
}

// deleteDocumentTool returns the tool definition for delete_document
func deleteDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_document",
		Description: "Remove a document, or a whole directory of documents, from the index by root-relative path",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Root-relative document path; a directory path removes every document under it",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics, the current index version, and the last lifecycle event",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
