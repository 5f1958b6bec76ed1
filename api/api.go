package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/mnemo/pkg/contextwindow"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
	"github.com/papercomputeco/mnemo/pkg/storage"
)

// Memory is the part of memory.Facade the API serves.
type Memory interface {
	Append(ctx context.Context, req memory.AppendRequest) (*periodlog.Message, error)
	LoadContext(ctx context.Context, req memory.ContextRequest) *contextwindow.Window
	GetFacts(ctx context.Context, includeArchived bool) (*memory.FactsView, error)
	MutateFacts(ctx context.Context, action string, payload json.RawMessage) *memory.Result
	Audit(ctx context.Context) ([]memory.AuditEntry, error)
	AuditSnapshot(ctx context.Context, name string) (*storage.Snapshot, error)
}

// Server is the API server for reading and mutating memory.
type Server struct {
	config Config
	memory Memory
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server around mem.
func NewServer(config Config, mem Memory) (*Server, error) {
	if mem == nil {
		return nil, errors.New("memory is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		memory: mem,
		logger: logger.OrNop(config.Logger),
		app:    app,
	}

	if config.Metrics != nil {
		prom := fiberprometheus.NewWithRegistry(config.Metrics.Registry(), "mnemo", "mnemo", "http", nil)
		app.Use(prom.Middleware)
		app.Get("/metrics", adaptor.HTTPHandler(config.Metrics.Handler()))
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/messages", s.handleAppend)
	v1.Get("/context", s.handleContext)
	v1.Get("/facts", s.handleGetFacts)
	v1.Post("/facts/:action", s.handleMutateFacts)
	v1.Get("/audit", s.handleListAudit)
	v1.Get("/audit/:name", s.handleGetAudit)

	if config.MCPHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCPHandler))
	}

	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithContext shuts down the API server, giving up when ctx is done.
func (s *Server) ShutdownWithContext(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
