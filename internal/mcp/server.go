package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/docdex/docdex/internal/indexer"
	"github.com/docdex/docdex/internal/searcher"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docdex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    storage.Store
	pipeline *indexer.Pipeline
	searcher *searcher.Orchestrator
	cfg      *types.Config
	logger   *slog.Logger
}

// NewServer assembles the MCP server around already-initialized
// application components. The caller owns the store's lifecycle.
func NewServer(store storage.Store, pipeline *indexer.Pipeline, orch *searcher.Orchestrator,
	cfg *types.Config, logger *slog.Logger) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		store:    store,
		pipeline: pipeline,
		searcher: orch,
		cfg:      cfg,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server starting", "name", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexSourceTool(), s.handleIndexSource)
	s.mcp.AddTool(searchDocsTool(), s.handleSearchDocs)
	s.mcp.AddTool(deleteDocumentTool(), s.handleDeleteDocument)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
