// Package contextcmder provides the context command, which prints the context
// window an assistant would be given.
package contextcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

type contextCommander struct {
	budget  int
	reserve int
	format  string
}

const contextLongDesc string = `Assemble and print the context window.

Messages are read newest first across period partitions until the next one
would exceed the budget less the reserve, then printed oldest first.
Unreadable records are skipped.

Examples:
  mnemo context
  mnemo context --budget 8000 --reserve 500
  mnemo context --format json`

const contextShortDesc string = "Print the context window"

func NewContextCmd() *cobra.Command {
	cmder := &contextCommander{}

	cmd := &cobra.Command{
		Use:   "context",
		Short: contextShortDesc,
		Long:  contextLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddIntFlag(cmd, config.Flags, config.FlagBudget, &cmder.budget)
	config.AddIntFlag(cmd, config.Flags, config.FlagReserve, &cmder.reserve)
	cmd.Flags().StringVarP(&cmder.format, "format", "f", cmdutil.FormatMarkdown, "Output format (markdown, json, yaml)")
	config.AddStorageFlags(cmd)

	return cmd
}

func (c *contextCommander) run(cmd *cobra.Command) error {
	if err := cmdutil.ValidateFormat(c.format); err != nil {
		return err
	}

	cfg, err := cmdutil.LoadConfig(cmd, config.FlagBudget, config.FlagReserve)
	if err != nil {
		return err
	}
	if cfg.Context.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", cfg.Context.Budget)
	}

	l := cmdutil.NewLogger(cmd)
	facade, err := cmdutil.OpenMemory(cmd.Context(), cmd, cfg, l)
	if err != nil {
		return err
	}
	defer facade.Close()

	w := facade.LoadContext(cmd.Context(), memory.ContextRequest{})

	if c.format != cmdutil.FormatMarkdown {
		return cmdutil.WriteStructured(cmd.OutOrStdout(), c.format, w)
	}

	rendered, err := cliui.RenderMarkdown(cliui.ContextMarkdown(w))
	if err != nil {
		l.Debug("rendering markdown", "error", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}
