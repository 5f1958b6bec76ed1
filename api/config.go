// Package api provides the HTTP surface of mnemo: message append, context
// assembly, fact reads and mutations, and the audit trail.
package api

import (
	"log/slog"
	"net/http"

	"github.com/papercomputeco/mnemo/pkg/metrics"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string

	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler

	// Metrics enables request instrumentation and the /metrics endpoint.
	Metrics *metrics.Metrics

	Logger *slog.Logger
}
