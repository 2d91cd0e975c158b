package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "backup",
	Short:   "Serve the monitoring dashboard",
	Long: `Start the WebSocket dashboard server standalone.

Endpoints:
  /ws      WebSocket stream of run phases, reports, and statistics
  /runs    recent run history from the journal (JSON)
  /health  liveness check

Live phase updates require the daemon to run with --dashboard; the
standalone server only serves journal history.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()

		serverCfg := &dashboard.Config{Addr: cfg.Dashboard.Addr}
		if db := mustJournal(cfg); db != nil {
			defer db.Close()
			serverCfg.Runs = db
		}

		server := dashboard.NewServer(serverCfg)
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.Addr())
		fmt.Printf("Recent runs: http://%s/runs\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
