package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [project...]",
	GroupID: "backup",
	Short:   "Back up projects into the history store",
	Long: `Sync projects from the remote service into the local history store.

For each project this lists the remote pages, fetches only the ones
whose checksums changed since the last backup, and commits a new
immutable version. An unchanged project still gets a version so the
history records that it was checked.

Without arguments, every project from the configuration is synced.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		projects := args
		if len(projects) == 0 {
			projects = cfg.Projects
		}

		store := mustStore(cfg)
		eng, _, cleanup := buildEngine(cfg, store)
		defer cleanup()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		start := time.Now()
		reports, err := eng.RunAll(ctx, projects)

		for _, r := range reports {
			if r.Success() {
				mark := ui.RenderPass("✓")
				if len(r.Failures) > 0 {
					mark = ui.RenderWarn("⚠")
				}
				fmt.Printf("%s %s v%d  %s\n", mark, r.Project, r.Version,
					ui.RenderDim(fmt.Sprintf("%d listed, %d fetched, %d reused, %d failed, %v",
						r.Listed, r.Fetched, r.Reused, len(r.Failures),
						r.Duration().Round(time.Millisecond))))
			} else {
				fmt.Printf("%s %s: %s\n", ui.RenderFail("✗"), r.Project, r.Error)
			}
		}

		fmt.Printf("\n%d projects in %v\n", len(reports), time.Since(start).Round(time.Millisecond))
		if err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
