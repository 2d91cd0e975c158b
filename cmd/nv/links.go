package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/links"
	"github.com/notevault/notevault/internal/ui"
)

var linksCmd = &cobra.Command{
	Use:     "links <project> [version]",
	GroupID: "tools",
	Short:   "Show the internal link graph of a backed-up version",
	Long: `Build the internal link graph for one committed version and report
its shape: pages, links, and dangling references (bracket links and
hashtags that point at pages which do not exist in the snapshot).`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)
		project := args[0]

		snap, err := loadVersionArg(store, project, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if snap == nil {
			fmt.Fprintf(os.Stderr, "Error: no versions for %s\n", project)
			os.Exit(1)
		}

		pages := make(map[string][]string, len(snap.Pages))
		for _, id := range snap.IDs() {
			p := snap.Pages[id]
			pages[p.Title] = p.Text()
		}
		graph := links.BuildGraph(pages)

		fmt.Printf("%s\n", ui.RenderHeader(fmt.Sprintf("Link graph for %s v%d", project, snap.Version)))
		fmt.Printf("  pages  %d\n", len(graph))
		fmt.Printf("  links  %d\n", graph.EdgeCount())

		missing := graph.Missing()
		if len(missing) == 0 {
			fmt.Printf("\n%s No dangling links\n", ui.RenderPass("✓"))
			return
		}

		targets := make([]string, 0, len(missing))
		for target := range missing {
			targets = append(targets, target)
		}
		sort.Strings(targets)

		fmt.Printf("\n%s %d dangling links:\n", ui.RenderWarn("⚠"), len(missing))
		for _, target := range targets {
			fmt.Printf("  [%s] %s\n", target,
				ui.RenderDim(fmt.Sprintf("referenced by %v", missing[target])))
		}
	},
}

func init() {
	rootCmd.AddCommand(linksCmd)
}
