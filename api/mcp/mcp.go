// Package mcp provides an MCP (Model Context Protocol) server exposing mnemo
// memory as tools an assistant can call.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/mnemo/pkg/contextwindow"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

// Memory is the part of memory.Facade the tools call.
type Memory interface {
	Append(ctx context.Context, req memory.AppendRequest) (*periodlog.Message, error)
	LoadContext(ctx context.Context, req memory.ContextRequest) *contextwindow.Window
	GetFacts(ctx context.Context, includeArchived bool) (*memory.FactsView, error)
	MutateFacts(ctx context.Context, action string, payload json.RawMessage) *memory.Result
}

type Config struct {
	// Memory backs every tool.
	Memory Memory

	// Actor is stamped as updated_by on mutations made through MCP.
	Actor string

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	logger    *slog.Logger
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
		logger: logger.OrNop(c.Logger),
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "mnemo",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Memory == nil {
			return nil, errors.New("memory is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        appendToolName,
			Description: appendDescription,
		}, s.handleAppend)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        loadContextToolName,
			Description: loadContextDescription,
		}, s.handleLoadContext)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        getFactsToolName,
			Description: getFactsDescription,
		}, s.handleGetFacts)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        mutateFactsToolName,
			Description: mutateFactsDescription,
		}, s.handleMutateFacts)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying MCP server, for transports other than
// streamable HTTP.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
