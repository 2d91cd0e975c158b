package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/notevault/notevault/internal/config"
	"github.com/notevault/notevault/internal/daemon"
	"github.com/notevault/notevault/internal/dashboard"
	"github.com/notevault/notevault/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "backup",
	Short:   "Run scheduled backups in the foreground",
	Long: `Sync every configured project on a fixed interval until interrupted.

The daemon hot-reloads the project list when the config file changes,
appends every run to the JSONL operation log when one is configured,
and rotates its own log file.

With --dashboard it also serves the live WebSocket dashboard, so
connected clients see each run's phases as they happen.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)
		eng, db, cleanup := buildEngine(cfg, store)
		defer cleanup()

		var logger *log.Logger
		if cfg.Daemon.LogFile != "" {
			logger = log.New(&lumberjack.Logger{
				Filename:   cfg.Daemon.LogFile,
				MaxSize:    cfg.Daemon.LogMaxSizeMB,
				MaxBackups: cfg.Daemon.LogMaxBackups,
			}, "[daemon] ", log.LstdFlags)
		}

		var oplog *daemon.OpLog
		if cfg.Daemon.OpLog != "" {
			oplog = daemon.NewOpLog(cfg.Daemon.OpLog, cfg.Daemon.LogMaxSizeMB, cfg.Daemon.LogMaxBackups)
			defer oplog.Close()
		}

		if withDashboard, _ := cmd.Flags().GetBool("dashboard"); withDashboard {
			serverCfg := &dashboard.Config{Addr: cfg.Dashboard.Addr}
			if db != nil {
				serverCfg.Runs = db
			}
			server := dashboard.NewServer(serverCfg)
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()
			eng.SetNotifier(dashboard.NewHandler(server, logger))
			fmt.Printf("Dashboard: ws://%s/ws\n", server.Addr())
		}

		pidFile, _ := cmd.Flags().GetString("pid-file")
		d, err := daemon.New(eng, cfg.Projects, oplog, daemon.Config{
			Interval:   cfg.Daemon.Interval,
			ConfigPath: cfgFile,
			PidFile:    pidFile,
			Logger:     logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		d.SetReloader(func() ([]string, error) {
			reloaded, err := config.Load(cfgFile)
			if err != nil {
				return nil, err
			}
			return reloaded.Projects, nil
		})

		fmt.Printf("%s Daemon started: %d projects every %v (Ctrl+C to stop)\n",
			ui.RenderPass("✓"), len(cfg.Projects), cfg.Daemon.Interval)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the live WebSocket dashboard")
	daemonCmd.Flags().String("pid-file", "", "Write the daemon pid to this file while running")
	rootCmd.AddCommand(daemonCmd)
}
