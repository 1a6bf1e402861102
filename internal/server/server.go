// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/muninn-mcp/muninn/internal/config"
	"github.com/muninn-mcp/muninn/internal/memory"
	"github.com/muninn-mcp/muninn/internal/tools"
)

// MCPServer wraps the mcp-go server with our configuration
type MCPServer struct {
	mcpServer *server.MCPServer
	config    *config.Config
	service   *memory.Service
	logger    *slog.Logger
}

// NewMCPServer creates a new MCP server instance with all memory
// tools registered
func NewMCPServer(cfg *config.Config, svc *memory.Service, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		"Muninn",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	srv := &MCPServer{
		mcpServer: mcpServer,
		config:    cfg,
		service:   svc,
		logger:    logger,
	}
	srv.registerTools()
	return srv
}

// registerTools registers the five memory tools
func (s *MCPServer) registerTools() {
	toolCtx := tools.NewToolContext(s.service, s.logger)

	// muninn_remember: store information - "Keep this for later"
	s.mcpServer.AddTool(tools.NewRememberTool(), tools.RememberHandler(toolCtx))

	// muninn_recall: search memory - "What do I know about X?"
	s.mcpServer.AddTool(tools.NewRecallTool(), tools.RecallHandler(toolCtx))

	// muninn_forget: remove memories - "No longer relevant"
	s.mcpServer.AddTool(tools.NewForgetTool(), tools.ForgetHandler(toolCtx))

	// muninn_restore: undelete memories - "Bring that one back"
	s.mcpServer.AddTool(tools.NewRestoreTool(), tools.RestoreHandler(toolCtx))

	// muninn_context: assemble working memory into a context block
	s.mcpServer.AddTool(tools.NewContextTool(), tools.ContextHandler(toolCtx))
}

// Serve starts the server on the configured transport and blocks.
func (s *MCPServer) Serve() error {
	switch s.config.Server.Transport {
	case config.TransportHTTP:
		addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
		s.logger.Info("serving MCP over HTTP", "addr", addr)
		return server.NewStreamableHTTPServer(s.mcpServer).Start(addr)
	default:
		return server.ServeStdio(s.mcpServer)
	}
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
