package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/schema"
	"github.com/notevault/notevault/internal/snapshot"
	"github.com/notevault/notevault/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "tools",
	Short:   "Commit a workspace export document as a new version",
	Long: `Import a workspace export document (the JSON the note service
produces when a project is downloaded) into the history store as a
new committed version. No network access is needed.

The project name comes from the document; --project overrides it. The
version's creation time is the document's export time when present.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		doc, err := schema.ValidateExport(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid export document: %v\n", err)
			os.Exit(1)
		}

		project := doc.Name
		if override, _ := cmd.Flags().GetString("project"); override != "" {
			project = override
		}

		latest, err := store.LatestVersion(project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		createdAt := time.Now().UTC()
		if doc.Exported > 0 {
			createdAt = time.Unix(doc.Exported, 0).UTC()
		}

		snap := &snapshot.Snapshot{
			Project:   project,
			Version:   latest + 1,
			CreatedAt: createdAt,
			Pages:     make(map[string]*snapshot.Page, len(doc.Pages)),
		}
		for _, p := range doc.Pages {
			snap.Pages[p.ID] = p
		}

		version, err := store.Commit(snap, snapshot.MakeInfo(snap, 0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Imported %s as %s v%d (%d pages)\n",
			ui.RenderPass("✓"), args[0], project, version, len(snap.Pages))
	},
}

func init() {
	importCmd.Flags().String("project", "", "Store under this project name instead of the document's")
	rootCmd.AddCommand(importCmd)
}
