package factscmder

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

func newAddCmd() *cobra.Command {
	var (
		in         facts.AddDiffInput
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "add <content...>",
		Short: "Record a provisional fact",
		Long: `Record a provisional fact in the diff tier.

The write is refused when it would grow the document past the token ceiling.

Examples:
  mnemo facts add "Fed held rates at 5.25%" --category macro --source fomc
  mnemo facts add "User prefers metric units" --confidence 0.9`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Content = strings.Join(args, " ")
			if cmd.Flags().Changed("confidence") {
				in.Confidence = &confidence
			}
			return mutation(cmd, memory.ActionAddDiff, in)
		},
	}

	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence in [0,1] (default facts.default_confidence)")
	cmd.Flags().StringVar(&in.Source, "source", "", "Where the fact came from")
	cmd.Flags().StringVarP(&in.Category, "category", "c", "", "Suggested category")
	addMutationFlags(cmd)

	return cmd
}

func newPromoteCmd() *cobra.Command {
	var in memory.PromoteInput

	cmd := &cobra.Command{
		Use:   "promote <diff-id>",
		Short: "Move a diff item into core",
		Long: `Move a diff item into the core tier under a category.

Examples:
  mnemo facts promote diff-01J8Z3 --category macro`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.DiffID = args[0]
			return mutation(cmd, memory.ActionPromoteToCore, in)
		},
	}

	cmd.Flags().StringVarP(&in.Category, "category", "c", "", "Core category (required)")
	_ = cmd.MarkFlagRequired("category")
	addMutationFlags(cmd)

	return cmd
}

func newPruneCmd() *cobra.Command {
	var in memory.PruneInput

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop stale core items",
		Long: `Drop core items not verified within the threshold and referenced
at most facts.prune_reference_floor times.

Examples:
  mnemo facts prune
  mnemo facts prune --days 90`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return mutation(cmd, memory.ActionPruneStale, in)
		},
	}

	cmd.Flags().IntVar(&in.DaysThreshold, "days", 0, "Staleness threshold in days (default facts.prune_days_threshold)")
	addMutationFlags(cmd)

	return cmd
}

func newTouchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "touch <id>...",
		Short: "Record a use of core items",
		Long: `Bump the reference count and verification time of core items.

Examples:
  mnemo facts touch core-01J8Z3 core-01J8Z4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutation(cmd, memory.ActionTouch, memory.TouchInput{IDs: args})
		},
	}

	addMutationFlags(cmd)

	return cmd
}

func newSeedCmd() *cobra.Command {
	var in facts.SeedCoreInput

	cmd := &cobra.Command{
		Use:   "seed <content...>",
		Short: "Write a fact straight into core",
		Long: `Write a fact straight into the core tier, bypassing diff.

Examples:
  mnemo facts seed "The user is based in Lisbon" --category profile`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Content = strings.Join(args, " ")
			return mutation(cmd, memory.ActionSeedCore, in)
		},
	}

	cmd.Flags().StringVarP(&in.Category, "category", "c", "", "Core category (required)")
	cmd.Flags().StringVar(&in.Source, "source", "", "Where the fact came from")
	_ = cmd.MarkFlagRequired("category")
	addMutationFlags(cmd)

	return cmd
}

func newCurateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curate",
		Short: "Run curation (not implemented)",
		Long: `Run fact curation. Curation is reserved: the command always reports
not_implemented and leaves the document untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return mutation(cmd, memory.ActionRunCuration, struct{}{})
		},
	}

	addMutationFlags(cmd)

	return cmd
}
