// Package mcp exposes indexing and search over the Model Context Protocol
// so agent clients can drive codeatlas without the CLI.
package mcp

import (
	"context"

	"github.com/charmbracelet/log"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/indexer"
	"github.com/ncrowell/codeatlas/internal/search"
	"github.com/ncrowell/codeatlas/internal/store"
)

const (
	// ServerName is the MCP server name.
	ServerName = "codeatlas"
	// ServerVersion is the current server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies.
type Server struct {
	mcp     *mcpserver.MCPServer
	store   store.Store
	engine  *search.Engine
	indexer *indexer.Indexer
	cfg     *config.Config
}

// NewServer creates an MCP server over an already-open store.
func NewServer(st store.Store, engine *search.Engine, ix *indexer.Indexer, cfg *config.Config) *Server {
	s := &Server{
		mcp:     mcpserver.NewMCPServer(ServerName, ServerVersion, mcpserver.WithToolCapabilities(false)),
		store:   st,
		engine:  engine,
		indexer: ix,
		cfg:     cfg,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	log.Debug("Starting MCP server", "name", ServerName, "version", ServerVersion)
	return mcpserver.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(startIndexTool(), s.handleStartIndex)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(indexPauseTool(), s.handleIndexPause)
	s.mcp.AddTool(indexResumeTool(), s.handleIndexResume)
	s.mcp.AddTool(indexRetryTool(), s.handleIndexRetry)
	s.mcp.AddTool(indexResetTool(), s.handleIndexReset)
	s.mcp.AddTool(dependenciesOfTool(), s.handleDependenciesOf)
	s.mcp.AddTool(usagesOfTool(), s.handleUsagesOf)
	s.mcp.AddTool(listProjectsTool(), s.handleListProjects)
}
