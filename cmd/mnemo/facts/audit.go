package factscmder

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	"github.com/papercomputeco/mnemo/pkg/config"
)

const auditLongDesc string = `List audit snapshots, or print one.

Each committed mutation snapshots the document it replaced. Snapshots are
listed newest first. Passing a snapshot name prints that document.

Examples:
  mnemo facts audit
  mnemo facts audit 20260315T120000.000000000Z --format yaml`

func newAuditCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "audit [snapshot]",
		Short: "List or print audit snapshots",
		Long:  auditLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmdutil.ValidateFormat(format); err != nil {
				return err
			}

			facade, _, err := cmdutil.Setup(cmd)
			if err != nil {
				return err
			}
			defer facade.Close()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				snap, err := facade.AuditSnapshot(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				var doc any
				if err := json.Unmarshal(snap.Data, &doc); err != nil {
					// Snapshots of corrupt documents are kept verbatim.
					_, err = out.Write(snap.Data)
					return err
				}
				f := format
				if f == cmdutil.FormatMarkdown {
					f = cmdutil.FormatJSON
				}
				return cmdutil.WriteStructured(out, f, doc)
			}

			entries, err := facade.Audit(cmd.Context())
			if err != nil {
				return err
			}

			if format != cmdutil.FormatMarkdown {
				return cmdutil.WriteStructured(out, format, entries)
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "No audit snapshots.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tACTION\tTAKEN AT\tBYTES")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.Name, e.Action, e.TakenAt.Format("2006-01-02 15:04:05Z07:00"), e.Size)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", cmdutil.FormatMarkdown, "Output format (markdown, json, yaml)")
	config.AddStorageFlags(cmd)

	return cmd
}
