package factscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/config"
)

const showLongDesc string = `Print the fact document.

A missing document prints as empty. An unreadable document prints as empty
with a warning, and is replaced by the next committed mutation.

Examples:
  mnemo facts show
  mnemo facts show --archived
  mnemo facts show --format yaml`

func newShowCmd() *cobra.Command {
	var (
		archived bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the fact document",
		Long:  showLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cmdutil.ValidateFormat(format); err != nil {
				return err
			}

			facade, l, err := cmdutil.Setup(cmd)
			if err != nil {
				return err
			}
			defer facade.Close()

			view, err := facade.GetFacts(cmd.Context(), archived)
			if err != nil {
				return err
			}

			if format != cmdutil.FormatMarkdown {
				return cmdutil.WriteStructured(cmd.OutOrStdout(), format, view)
			}

			rendered, err := cliui.RenderMarkdown(cliui.FactsMarkdown(view))
			if err != nil {
				l.Debug("rendering markdown", "error", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&archived, "archived", false, "Include core items recovered from the audit trail")
	cmd.Flags().StringVarP(&format, "format", "f", cmdutil.FormatMarkdown, "Output format (markdown, json, yaml)")
	config.AddStorageFlags(cmd)

	return cmd
}
