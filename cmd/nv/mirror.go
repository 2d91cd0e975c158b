package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/gitmirror"
	"github.com/notevault/notevault/internal/ui"
)

var mirrorCmd = &cobra.Command{
	Use:     "mirror <project>",
	GroupID: "tools",
	Short:   "Replay a project's history into a git repository",
	Long: `Replay every committed version of a project into a git repository,
one commit per version, dated at the version's creation time. Standard
git tooling can then diff, blame, and bisect the backup history.

Replays are incremental: versions already mirrored are skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)
		project := args[0]

		repo, _ := cmd.Flags().GetString("repo")
		if repo == "" {
			repo = filepath.Join(filepath.Dir(cfg.StoreRoot), "mirror", project)
		}

		m, err := gitmirror.New(repo, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		result, err := m.Replay(ctx, store, project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(result.Mirrored) == 0 {
			fmt.Printf("%s Mirror already up to date (head v%d)\n", ui.RenderPass("✓"), result.Head)
			return
		}
		fmt.Printf("%s Mirrored %d versions of %s (head now v%d)\n",
			ui.RenderPass("✓"), len(result.Mirrored), project, result.Head)
		fmt.Printf("   Repository: %s\n", m.RepoPath())
	},
}

func init() {
	mirrorCmd.Flags().String("repo", "", "Mirror repository path (default <store parent>/mirror/<project>)")
	rootCmd.AddCommand(mirrorCmd)
}
