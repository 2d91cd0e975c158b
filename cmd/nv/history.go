package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history <project>",
	GroupID: "history",
	Short:   "List the backed-up versions of a project",
	Long: `List every committed version of a project, oldest first.

--since accepts natural language, e.g.:
  nv history my-notes --since "last week"
  nv history my-notes --since "3 days ago"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)
		project := args[0]

		var since time.Time
		if expr, _ := cmd.Flags().GetString("since"); expr != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			r, err := w.Parse(expr, time.Now())
			if err != nil || r == nil {
				fmt.Fprintf(os.Stderr, "Error: cannot understand --since %q\n", expr)
				os.Exit(1)
			}
			since = r.Time
		}

		versions, err := store.Versions(project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(versions) == 0 {
			fmt.Printf("%s No versions for %s\n", ui.RenderWarn("⚠"), project)
			return
		}

		fmt.Printf("%s\n", ui.RenderHeader(fmt.Sprintf("History for %s", project)))
		shown := 0
		for _, v := range versions {
			if !since.IsZero() && v.CreatedAt.Before(since) {
				continue
			}
			shown++

			line := fmt.Sprintf("  v%-5d %s  %s", v.Version,
				v.CreatedAt.Local().Format("2006-01-02 15:04"),
				formatSize(v.Size))

			if info, err := store.LoadInfo(project, v.Version); err == nil {
				detail := fmt.Sprintf("  %d pages, %d links", info.TotalPages, info.TotalLinks)
				if info.FailedPages > 0 {
					detail += fmt.Sprintf(", %s", ui.RenderWarn(fmt.Sprintf("%d failed", info.FailedPages)))
				}
				line += ui.RenderDim(detail)
			}
			fmt.Println(line)
		}

		if shown == 0 {
			fmt.Printf("  %s\n", ui.RenderDim("no versions in the requested range"))
		}
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%6.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%6.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%6d B ", size)
	}
}

func init() {
	historyCmd.Flags().String("since", "", `Only show versions after this time ("last week", "3 days ago")`)
	rootCmd.AddCommand(historyCmd)
}
