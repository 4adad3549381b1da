package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/embedder"
	"github.com/docdex/docdex/internal/indexer"
	"github.com/docdex/docdex/internal/searcher"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

type testServer struct {
	srv  *Server
	root string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	root := t.TempDir()
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embedders := embedder.NewService(func() (embedder.Embedder, error) {
		return embedder.NewLocalProvider(nil)
	})

	cfg := types.DefaultConfig()
	cfg.Sources = []types.Source{{Name: "docs", Path: root}}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	pipeline := indexer.New(store, embedders, root, &cfg, logger)
	orch := searcher.New(store, embedders, nil, cfg.Retrieval, "test-project", logger)

	return &testServer{
		srv:  NewServer(store, pipeline, orch, &cfg, logger),
		root: root,
	}
}

func (ts *testServer) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(ts.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, r.Content)
	tc, ok := r.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func resultJSON(t *testing.T, r *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, r)), &decoded))
	return decoded
}

func TestIndexSourceAndSearch(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.writeFile(t, "guide.md", "# Deployment\n\nhow to deploy the service to production")
	ts.writeFile(t, "notes.md", "# Gardening\n\nwatering schedule for succulents")

	result, err := ts.srv.handleIndexSource(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	indexed := resultJSON(t, result)
	assert.Equal(t, float64(2), indexed["indexed"])
	assert.Equal(t, float64(0), indexed["errors"])

	result, err = ts.srv.handleSearchDocs(ctx, toolRequest(map[string]interface{}{
		"query": "deploy production",
	}))
	require.NoError(t, err)

	var resp types.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "guide.md", resp.Results[0].Path)
	assert.Equal(t, types.SchemaVersion, resp.SchemaVersion)
	assert.Equal(t, "ready", resp.IndexState)
}

func TestIndexSource_NamedAndUnknown(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.writeFile(t, "a.md", "# A\n\ncontent")

	result, err := ts.srv.handleIndexSource(ctx, toolRequest(map[string]interface{}{
		"source": "docs",
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(1), resultJSON(t, result)["indexed"])

	_, err = ts.srv.handleIndexSource(ctx, toolRequest(map[string]interface{}{
		"source": "nope",
	}))
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeUnknownSource, mcpErr.Code)
}

func TestSearchDocs_Validation(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.srv.handleSearchDocs(ctx, toolRequest(map[string]interface{}{"query": "   "}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeEmptyQuery, mcpErr.Code)

	_, err = ts.srv.handleSearchDocs(ctx, toolRequest(map[string]interface{}{
		"query": "ok",
		"limit": float64(500),
	}))
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestDeleteDocument(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.writeFile(t, "docs/a.md", "# A\n\nalpha")
	_, err := ts.srv.handleIndexSource(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)

	result, err := ts.srv.handleDeleteDocument(ctx, toolRequest(map[string]interface{}{
		"path": "docs/a.md",
	}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, result)["deleted"])

	result, err = ts.srv.handleDeleteDocument(ctx, toolRequest(map[string]interface{}{
		"path": "docs/a.md",
	}))
	require.NoError(t, err)
	assert.Equal(t, false, resultJSON(t, result)["deleted"])

	_, err = ts.srv.handleDeleteDocument(ctx, toolRequest(map[string]interface{}{}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestGetStatus(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	result, err := ts.srv.handleGetStatus(ctx, toolRequest(nil))
	require.NoError(t, err)
	status := resultJSON(t, result)
	stats := status["statistics"].(map[string]interface{})
	assert.Equal(t, float64(0), stats["documents"])
	assert.NotEmpty(t, status["index_version"])

	ts.writeFile(t, "a.md", "# A\n\ncontent here")
	_, err = ts.srv.handleIndexSource(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)

	result, err = ts.srv.handleGetStatus(ctx, toolRequest(nil))
	require.NoError(t, err)
	status = resultJSON(t, result)
	stats = status["statistics"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["documents"])
	last := status["last_event"].(map[string]interface{})
	assert.Equal(t, "add", last["type"])
}
