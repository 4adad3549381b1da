package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/docdex/docdex/internal/searcher"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeUnknownSource  = -32001 // Named source is not configured
	ErrorCodeEmptyQuery     = -32004 // Query parameter is empty
	maxReportedSourceErrors = 5
)

// handleIndexSource handles the index_source tool invocation
func (s *Server) handleIndexSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	name := getStringDefault(args, "source", "")
	sources := s.cfg.Sources
	if name != "" {
		src, found := s.findSource(name)
		if !found {
			return nil, newMCPError(ErrorCodeUnknownSource, "source not configured", map[string]interface{}{
				"param": "source",
				"value": name,
			})
		}
		sources = []types.Source{src}
	}
	if len(sources) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "no sources configured", nil)
	}

	perSource := make([]map[string]interface{}, 0, len(sources))
	totalIndexed, totalSkipped, totalErrors := 0, 0, 0
	for _, src := range sources {
		result := s.pipeline.IndexSource(ctx, src)
		totalIndexed += result.Indexed
		totalSkipped += result.Skipped
		totalErrors += len(result.Errors)

		entry := map[string]interface{}{
			"source":  src.Name,
			"indexed": result.Indexed,
			"skipped": result.Skipped,
		}
		if len(result.Errors) > 0 {
			reported := result.Errors
			if len(reported) > maxReportedSourceErrors {
				reported = reported[:maxReportedSourceErrors]
			}
			entry["errors"] = reported
			entry["error_count"] = len(result.Errors)
		}
		perSource = append(perSource, entry)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"indexed": totalIndexed,
		"skipped": totalSkipped,
		"errors":  totalErrors,
		"sources": perSource,
	})), nil
}

// handleSearchDocs handles the search_docs tool invocation
func (s *Server) handleSearchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		Query:  query,
		Limit:  limit,
		Cursor: getStringDefault(args, "cursor", ""),
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "encode response failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleDeleteDocument handles the delete_document tool invocation
func (s *Server) handleDeleteDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	deleted, err := s.pipeline.DeleteDocument(ctx, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "delete failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted": deleted,
		"path":    path,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	version, err := s.store.IndexVersion(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get index version", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"schema_version": types.SchemaVersion,
		"index_version":  version,
		"build_mode":     storage.BuildMode,
		"statistics": map[string]interface{}{
			"documents":     stats.Documents,
			"chunks":        stats.Chunks,
			"embeddings":    stats.Embeddings,
			"index_size_mb": fmt.Sprintf("%.2f", stats.IndexSizeMB),
		},
	}
	if stats.LastEvent != nil {
		response["last_event"] = map[string]interface{}{
			"type":      string(stats.LastEvent.Type),
			"path":      stats.LastEvent.Path,
			"timestamp": stats.LastEvent.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func (s *Server) findSource(name string) (types.Source, bool) {
	for _, src := range s.cfg.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return types.Source{}, false
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
