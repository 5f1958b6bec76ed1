// Package factscmder provides the facts command group for reading and mutating
// the fact document.
package factscmder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

const factsLongDesc string = `Read and mutate the fact document.

Facts enter the diff tier with add, move to the core tier with promote, and
leave core through prune. Every committed mutation snapshots the prior
document into the audit trail.

Use subcommands:
  mnemo facts show                      Print the document
  mnemo facts add <content>             Record a provisional fact
  mnemo facts promote <diff-id>         Move a diff item into core
  mnemo facts prune                     Drop stale core items
  mnemo facts touch <id>...             Record a use of core items
  mnemo facts seed <content>            Write a fact straight into core
  mnemo facts curate                    Run curation (not implemented)
  mnemo facts audit [snapshot]          List or print audit snapshots`

const factsShortDesc string = "Read and mutate the fact document"

func NewFactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: factsShortDesc,
		Long:  factsLongDesc,
	}

	cmd.PersistentFlags().String("actor", "", "Name stamped as updated_by on mutations")

	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newPromoteCmd())
	cmd.AddCommand(newPruneCmd())
	cmd.AddCommand(newTouchCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newCurateCmd())
	cmd.AddCommand(newAuditCmd())

	return cmd
}

// mutation runs one action through MutateFacts and reports the result. A
// rejected mutation is returned as an error so the exit status is non-zero.
func mutation(cmd *cobra.Command, action string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", action, err)
	}

	facade, _, err := cmdutil.Setup(cmd)
	if err != nil {
		return err
	}
	defer facade.Close()

	res := facade.MutateFacts(withActor(cmd), action, data)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := cmdutil.WriteStructured(cmd.OutOrStdout(), cmdutil.FormatJSON, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), cliui.ResultLine(res))
	}

	if !res.Success {
		return res.Err
	}
	return nil
}

func withActor(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if actor, _ := cmd.Flags().GetString("actor"); actor != "" {
		ctx = memory.WithActor(ctx, actor)
	}
	return ctx
}

// addMutationFlags registers the flags shared by every mutating subcommand.
func addMutationFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Print the mutation result as JSON")
	config.AddStorageFlags(cmd)
}
