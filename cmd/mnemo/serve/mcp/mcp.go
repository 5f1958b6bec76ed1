// Package mcpcmder provides "mnemo serve mcp", which serves the memory tools
// over stdio for assistants that spawn their MCP servers.
package mcpcmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpapi "github.com/papercomputeco/mnemo/api/mcp"
	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/logger"
)

type mcpCommander struct {
	actor string
}

const mcpLongDesc string = `Serve the memory tools over MCP stdio.

Logs go to stderr so stdout carries only protocol traffic.

Examples:
  mnemo serve mcp
  mnemo serve mcp --actor claude`

const mcpShortDesc string = "Serve MCP over stdio"

func NewMCPCmd() *cobra.Command {
	cmder := &mcpCommander{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.actor, "actor", mcpapi.DefaultActor, "Name stamped as updated_by on mutations")
	config.AddStorageFlags(cmd)

	return cmd
}

func (c *mcpCommander) run(cmd *cobra.Command) error {
	cfg, err := cmdutil.LoadConfig(cmd)
	if err != nil {
		return err
	}

	l := logger.New(
		logger.WithDebug(cmdutil.Debug(cmd)),
		logger.WithJSON(true),
		logger.WithWriter(cmd.ErrOrStderr()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	facade, err := cmdutil.OpenMemory(ctx, cmd, cfg, l)
	if err != nil {
		return err
	}
	defer facade.Close()

	server, err := mcpapi.NewServer(mcpapi.Config{
		Memory: facade,
		Actor:  c.actor,
		Logger: l,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	l.Info("serving MCP over stdio", "resource", facade.Resource())

	err = server.MCPServer().Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
