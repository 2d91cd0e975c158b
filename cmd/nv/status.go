package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "history",
	Short:   "Show store and journal status",
	Long: `Show every project in the history store with its latest version, plus
recent run outcomes and the flakiest pages from the journal.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)

		projects, err := store.Projects()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(projects) == 0 {
			fmt.Printf("%s Store is empty; run 'nv sync' first\n", ui.RenderWarn("⚠"))
			return
		}

		fmt.Printf("%s\n", ui.RenderHeader("Store"))
		fmt.Printf("  %s\n\n", store.Root())
		for _, project := range projects {
			version, err := store.LatestVersion(project)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			line := fmt.Sprintf("  %s v%d", project, version)
			if info, err := store.LoadInfo(project, version); err == nil {
				line += ui.RenderDim(fmt.Sprintf("  %d pages, backed up %s",
					info.TotalPages, info.CreatedAt.Local().Format("2006-01-02 15:04")))
			}
			fmt.Println(line)
		}

		db := mustJournal(cfg)
		if db == nil {
			return
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		total, err := db.RunCount(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s\n", ui.RenderHeader("Journal"))
		fmt.Printf("  %d runs recorded\n", total)

		runs, err := db.RecentRuns(ctx, "", 5)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, r := range runs {
			mark := ui.RenderPass("✓")
			detail := fmt.Sprintf("v%d", r.Version)
			if !r.Success() {
				mark = ui.RenderFail("✗")
				detail = r.Error
			}
			fmt.Printf("  %s %s %s %s\n", mark, r.Project, detail,
				ui.RenderDim(r.FinishedAt.Local().Format("2006-01-02 15:04")))
		}

		for _, project := range projects {
			flaky, err := db.FlakyPages(ctx, project, 3)
			if err != nil || len(flaky) == 0 {
				continue
			}
			fmt.Printf("\n%s\n", ui.RenderHeader(fmt.Sprintf("Flaky pages in %s", project)))
			for id, n := range flaky {
				fmt.Printf("  %s %s\n", id, ui.RenderDim(fmt.Sprintf("failed %d times", n)))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
