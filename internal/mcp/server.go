// Package mcp exposes DataGate over the Model Context Protocol so AI agents
// can discover connectors and run read-only queries through the gateway.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/registry"
)

// MCPServer wraps the mcp-go server with DataGate's tool registrations.
// Every query tool runs through the dispatcher's read-only local path; MCP
// clients can never mutate backends.
type MCPServer struct {
	store      *registry.Store
	dispatcher *proxy.Dispatcher
	logger     *slog.Logger
	server     *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all DataGate tools.
// The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(store *registry.Store, dispatcher *proxy.Dispatcher, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}

	mcpServer := server.NewMCPServer(
		"DataGate",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance, useful for
// testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// the gateway as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode on the given
// address (e.g. ":3001"), for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func boolPtr(b bool) *bool { return &b }
