package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/links"
	"github.com/notevault/notevault/internal/ui"
)

var linkcheckCmd = &cobra.Command{
	Use:     "linkcheck <project> [version]",
	GroupID: "tools",
	Short:   "Probe the external URLs referenced by a backed-up version",
	Long: `Collect every external URL from one committed version and probe each
once over HTTP, with bounded concurrency. Dead and erroring links are
listed with the pages that reference them.

--report writes the full audit: .yaml/.yml for YAML, anything else
for JSON.`,
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

		// url -> pages that reference it
		urls := make(map[string][]string)
		for _, id := range snap.IDs() {
			p := snap.Pages[id]
			for _, u := range links.External(p.Text()) {
				urls[u] = append(urls[u], p.Title)
			}
		}
		if len(urls) == 0 {
			fmt.Printf("%s No external links in %s v%d\n", ui.RenderPass("✓"), project, snap.Version)
			return
		}

		auditCfg := links.DefaultAuditConfig()
		auditCfg.Concurrency = cfg.Linkcheck.Concurrency
		auditCfg.Timeout = cfg.Linkcheck.Timeout
		auditCfg.UserAgent = cfg.Remote.UserAgent

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("Probing %d external links...\n", len(urls))
		entries := links.NewAuditor(nil, auditCfg, nil).Audit(ctx, urls)

		ok := 0
		for _, e := range entries {
			if e.OK() {
				ok++
				continue
			}
			detail := e.Error
			if detail == "" {
				detail = fmt.Sprintf("HTTP %d", e.StatusCode)
			}
			fmt.Printf("%s %s  %s\n", ui.RenderFail("✗"), e.URL,
				ui.RenderDim(fmt.Sprintf("%s, on %v", detail, e.Pages)))
		}

		fmt.Printf("\n%s %d/%d links healthy\n", ui.RenderPass("✓"), ok, len(entries))

		if report, _ := cmd.Flags().GetString("report"); report != "" {
			if err := links.WriteReport(report, entries); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("   Report: %s\n", report)
		}

		if ok < len(entries) {
			os.Exit(1)
		}
	},
}

func init() {
	linkcheckCmd.Flags().String("report", "", "Write the full audit report to this file (.yaml or .json)")
	rootCmd.AddCommand(linkcheckCmd)
}
