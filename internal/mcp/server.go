package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/semindex-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "semindex-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Pipeline is the slice of the indexing service the MCP tools need.
type Pipeline interface {
	IndexWorkspace(ctx context.Context, workspace string) (*types.IndexResult, error)
	CancelIndexing(ctx context.Context, workspace string) (bool, error)
	Retrieve(ctx context.Context, workspace, query string, topK int) ([]types.RetrievalResult, error)
	GetIndexStatus(ctx context.Context, workspace string) (*types.IndexStatus, error)
	GetIndexStats(ctx context.Context, workspace string) (*types.IndexStats, error)
	HasIndex(ctx context.Context, workspace string) (bool, error)
	DeleteIndex(ctx context.Context, workspace string) error
	Dispose(ctx context.Context) error
}

// Server wraps the MCP server with the indexing pipeline.
type Server struct {
	mcp      *server.MCPServer
	pipeline Pipeline
}

// NewServer creates a new MCP server instance over an indexing pipeline.
func NewServer(pipeline Pipeline) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:      mcpServer,
		pipeline: pipeline,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown. The
// pipeline is disposed when serving ends.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.pipeline.Dispose(ctx) }()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexWorkspaceTool(), s.handleIndexWorkspace)
	s.mcp.AddTool(retrieveCodeTool(), s.handleRetrieveCode)
	s.mcp.AddTool(getIndexStatusTool(), s.handleGetIndexStatus)
	s.mcp.AddTool(deleteIndexTool(), s.handleDeleteIndex)
}
