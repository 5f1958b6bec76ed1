// Package mnemocmder
package mnemocmder

import (
	"github.com/spf13/cobra"

	appendcmder "github.com/papercomputeco/mnemo/cmd/mnemo/append"
	configcmder "github.com/papercomputeco/mnemo/cmd/mnemo/config"
	contextcmder "github.com/papercomputeco/mnemo/cmd/mnemo/context"
	factscmder "github.com/papercomputeco/mnemo/cmd/mnemo/facts"
	initcmder "github.com/papercomputeco/mnemo/cmd/mnemo/init"
	servecmder "github.com/papercomputeco/mnemo/cmd/mnemo/serve"
	tailcmder "github.com/papercomputeco/mnemo/cmd/mnemo/tail"
	versioncmder "github.com/papercomputeco/mnemo/cmd/version"
)

const mnemoLongDesc string = `Mnemo is bounded, durable memory for conversational assistants.

Messages are appended to period partitions and replayed newest first into a
token-budgeted context window. Facts live in one guarded document with a
provisional diff tier and a curated core tier.

Common commands:
  mnemo append --role user "hello"   Record a message
  mnemo context                      Show the context window
  mnemo facts show                   Show the fact document
  mnemo facts add "..."              Record a provisional fact
  mnemo serve                        Run the HTTP and MCP server`

const mnemoShortDesc string = "Mnemo - Assistant Memory"

func NewMnemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mnemo",
		Short:        mnemoShortDesc,
		Long:         mnemoLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .mnemo/ directory")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(appendcmder.NewAppendCmd())
	cmd.AddCommand(contextcmder.NewContextCmd())
	cmd.AddCommand(factscmder.NewFactsCmd())
	cmd.AddCommand(tailcmder.NewTailCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
