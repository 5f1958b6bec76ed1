// Package servecmder provides the serve command, which runs the HTTP API with
// the MCP endpoint mounted and, when configured, the maintenance scheduler.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/mnemo/api"
	mcpapi "github.com/papercomputeco/mnemo/api/mcp"
	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	mcpcmder "github.com/papercomputeco/mnemo/cmd/mnemo/serve/mcp"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/maintenance"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/metrics"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

type ServeCommander struct {
	listen        string
	pruneSchedule string
	events        string
	eventsTopic   string
	logFile       string
	jsonLogs      bool
	noMCP         bool

	logger *slog.Logger
}

const serveLongDesc string = `Run the mnemo server.

Serves the HTTP API under /v1, the MCP endpoint at /mcp and Prometheus
metrics at /metrics. When facts.prune_schedule is set, prune_stale also runs
on that cron schedule.

Use subcommands to run other transports:
  mnemo serve          Run the HTTP API, MCP endpoint and scheduler
  mnemo serve mcp      Serve MCP over stdio

Examples:
  mnemo serve --listen :8090
  mnemo serve --prune-schedule "@daily" --log-file mnemo.log`

const serveShortDesc string = "Run the mnemo server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagPruneSchedule, &cmder.pruneSchedule)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.events)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsTopic, &cmder.eventsTopic)
	config.AddStorageFlags(cmd)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Write JSON logs to stdout instead of pretty output")
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not mount the MCP endpoint")

	cmd.AddCommand(mcpcmder.NewMCPCmd())

	return cmd
}

func (c *ServeCommander) run(cmd *cobra.Command) error {
	cfg, err := cmdutil.LoadConfig(cmd,
		config.FlagAPIListen,
		config.FlagPruneSchedule,
		config.FlagEventsProvider,
		config.FlagEventsTopic,
	)
	if err != nil {
		return err
	}

	l, closeLog, err := c.newLogger(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	c.logger = l

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	hostname, _ := os.Hostname()

	facade, err := memory.Open(ctx, cfg, memory.Options{
		ConfigDir: cmdutil.ConfigDir(cmd),
		Metrics:   m,
		Instance:  hostname,
		Logger:    l,
	})
	if err != nil {
		return fmt.Errorf("opening memory: %w", err)
	}
	defer facade.Close()

	var scheduler *maintenance.Scheduler
	if cfg.Facts.PruneSchedule != "" {
		scheduler, err = maintenance.New(facade, maintenance.Config{
			Schedule: cfg.Facts.PruneSchedule,
			Logger:   l,
		})
		if err != nil {
			return fmt.Errorf("configuring maintenance: %w", err)
		}
	}

	apiConfig := api.Config{
		ListenAddr: cfg.API.Listen,
		Metrics:    m,
		Logger:     l,
	}
	if !c.noMCP {
		mcpServer, err := mcpapi.NewServer(mcpapi.Config{Memory: facade, Logger: l})
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}
		apiConfig.MCPHandler = mcpServer.Handler()
	}

	server, err := api.NewServer(apiConfig, facade)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	l.Info("starting mnemo",
		"listen", cfg.API.Listen,
		"resource", facade.Resource(),
		"storage", cfg.Storage.Provider,
		"lock", cfg.Lock.Provider,
		"events", cfg.Events.Provider,
		"mcp", !c.noMCP,
		"prune_schedule", cfg.Facts.PruneSchedule,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Run(); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	})

	if scheduler != nil {
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newLogger builds the server logger: pretty or JSON on stdout, plus JSON to
// --log-file when set.
func (c *ServeCommander) newLogger(cmd *cobra.Command) (*slog.Logger, func(), error) {
	debug := cmdutil.Debug(cmd)

	stdout := logger.New(
		logger.WithDebug(debug),
		logger.WithPretty(!c.jsonLogs),
		logger.WithJSON(c.jsonLogs),
		logger.WithWriter(cmd.OutOrStdout()),
	)
	if c.logFile == "" {
		return stdout, func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	file := logger.New(
		logger.WithDebug(debug),
		logger.WithJSON(true),
		logger.WithWriter(f),
	)
	return logger.Multi(stdout, file), func() { _ = f.Close() }, nil
}
