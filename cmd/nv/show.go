package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/history"
	"github.com/notevault/notevault/internal/snapshot"
	"github.com/notevault/notevault/internal/ui"
)

var showCmd = &cobra.Command{
	Use:     "show <project> [version]",
	GroupID: "history",
	Short:   "Show a backed-up version",
	Long: `Show one committed version of a project: its summary and page list,
or the full text of a single page with --page.

Without a version argument the latest version is shown.`,
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
			fmt.Printf("%s No versions for %s\n", ui.RenderWarn("⚠"), project)
			return
		}

		if title, _ := cmd.Flags().GetString("page"); title != "" {
			showPage(snap, title)
			return
		}

		fmt.Printf("%s\n", ui.RenderHeader(fmt.Sprintf("%s v%d", snap.Project, snap.Version)))
		fmt.Printf("  created  %s\n", snap.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("  pages    %d\n\n", len(snap.Pages))
		for _, id := range snap.IDs() {
			p := snap.Pages[id]
			fmt.Printf("  %s %s\n", p.Title, ui.RenderDim(fmt.Sprintf("(%d lines)", len(p.Lines))))
		}
	},
}

// loadVersionArg resolves the optional version argument: the latest
// version when absent, nil when the project has no versions at all.
func loadVersionArg(store *history.Store, project string, args []string) (*snapshot.Snapshot, error) {
	if len(args) < 2 {
		return store.Latest(project)
	}
	version, err := strconv.ParseInt(strings.TrimPrefix(args[1], "v"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q", args[1])
	}
	return store.Load(project, version)
}

func showPage(snap *snapshot.Snapshot, title string) {
	for _, id := range snap.IDs() {
		p := snap.Pages[id]
		if !strings.EqualFold(p.Title, title) {
			continue
		}
		for _, text := range p.Text() {
			fmt.Println(text)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: no page titled %q in %s v%d\n", title, snap.Project, snap.Version)
	os.Exit(1)
}

func init() {
	showCmd.Flags().String("page", "", "Print the full text of one page by title")
	rootCmd.AddCommand(showCmd)
}
