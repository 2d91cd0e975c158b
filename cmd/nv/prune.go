package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/history"
	"github.com/notevault/notevault/internal/ui"
)

var pruneCmd = &cobra.Command{
	Use:     "prune <project>",
	GroupID: "history",
	Short:   "Remove old versions per the retention policy",
	Long: `Prune old versions of a project. The latest version always survives.

The policy comes from the project's retention.toml; --keep-last and
--keep-days override it for this run, and --save writes the overrides
back as the new policy.

Without a policy (no file, no flags) nothing is pruned.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)
		project := args[0]

		policy, err := store.ReadRetentionPolicy(project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading retention policy: %v\n", err)
			os.Exit(1)
		}

		if cmd.Flags().Changed("keep-last") {
			policy.KeepLast, _ = cmd.Flags().GetInt("keep-last")
		}
		if cmd.Flags().Changed("keep-days") {
			policy.KeepDays, _ = cmd.Flags().GetInt("keep-days")
		}

		if policy == (history.RetentionPolicy{}) {
			fmt.Printf("%s No retention policy for %s; nothing to prune\n", ui.RenderWarn("⚠"), project)
			fmt.Printf("   Set one with --keep-last/--keep-days (add --save to persist)\n")
			return
		}

		if save, _ := cmd.Flags().GetBool("save"); save {
			if err := store.WriteRetentionPolicy(project, policy); err != nil {
				fmt.Fprintf(os.Stderr, "Error saving retention policy: %v\n", err)
				os.Exit(1)
			}
		}

		result, err := store.Prune(project, policy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning: %v\n", err)
			os.Exit(1)
		}

		if len(result.Removed) == 0 {
			fmt.Printf("%s Nothing to prune for %s (%d versions kept)\n",
				ui.RenderPass("✓"), project, result.Kept)
			return
		}
		fmt.Printf("%s Pruned %s: removed %d versions, kept %d (history now starts at v%d)\n",
			ui.RenderPass("✓"), project, len(result.Removed), result.Kept, result.Floor)
	},
}

func init() {
	pruneCmd.Flags().Int("keep-last", 0, "Keep at most this many recent versions")
	pruneCmd.Flags().Int("keep-days", 0, "Keep versions newer than this many days")
	pruneCmd.Flags().Bool("save", false, "Persist the flags as the project's retention policy")
	rootCmd.AddCommand(pruneCmd)
}
