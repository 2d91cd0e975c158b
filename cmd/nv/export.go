package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/export"
	"github.com/notevault/notevault/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <project> [version]",
	GroupID: "tools",
	Short:   "Write a backed-up version as a workspace export document",
	Long: `Export one committed version in the service's own export format, so
it can be re-imported into the note service or into another store.

The destination is a URL; plain paths work as local directories, and
schemes like file:// or mem:// address the storage layer directly.

Examples:
  nv export my-notes                       # latest, to current directory
  nv export my-notes 12 --dest backups/    # a specific version
  nv export my-notes --page-files          # also one .txt per page`,
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

		orderFlag, _ := cmd.Flags().GetString("order")
		order, err := export.ParseOrder(orderFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		dest, _ := cmd.Flags().GetString("dest")
		pageFiles, _ := cmd.Flags().GetBool("page-files")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		result, err := export.New(nil).Export(ctx, snap, dest, export.Options{
			Order:     order,
			PageFiles: pageFiles,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Exported %s v%d\n", ui.RenderPass("✓"), project, snap.Version)
		fmt.Printf("   Document: %s (%d bytes)\n", result.DocumentURL, result.Bytes)
		if result.PageFiles > 0 {
			fmt.Printf("   Page files: %d\n", result.PageFiles)
		}
	},
}

func init() {
	exportCmd.Flags().String("dest", ".", "Destination directory or URL")
	exportCmd.Flags().String("order", "asis", "Page order: asis, created-asc, created-desc")
	exportCmd.Flags().Bool("page-files", false, "Also write one plain-text file per page")
	rootCmd.AddCommand(exportCmd)
}
