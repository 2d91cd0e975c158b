package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/config"
	"github.com/notevault/notevault/internal/engine"
	"github.com/notevault/notevault/internal/history"
	"github.com/notevault/notevault/internal/journal"
	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/snapshot"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nv",
	Short: "Versioned backups for remote note workspaces",
	Long: `nv backs up note-taking projects from a remote service into a local,
append-only history store.

Each run lists the remote project, fetches only the pages whose
checksums changed, and commits an immutable new version. Old versions
stay readable forever (or until pruned by a retention policy).

Configuration comes from nv.yaml (see 'nv init') with NV_* environment
overrides, e.g. NV_REMOTE_SESSION_COOKIE.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./nv.yaml, then ~/.config/notevault/nv.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "backup", Title: "Backup Commands:"},
		&cobra.Group{ID: "history", Title: "History Commands:"},
		&cobra.Group{ID: "tools", Title: "Tools:"},
	)
}

// mustConfig loads and validates the configuration, exiting on error.
func mustConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// mustStore opens the history store, exiting on error.
func mustStore(cfg *config.Config) *history.Store {
	store, err := history.Open(cfg.StoreRoot, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return store
}

// mustJournal opens the run journal, exiting on error. Returns nil
// when no journal is configured.
func mustJournal(cfg *config.Config) *journal.DB {
	if cfg.JournalPath == "" {
		return nil
	}
	db, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
		os.Exit(1)
	}
	return db
}

// remoteConfig converts the resolved config to a client config.
func remoteConfig(cfg *config.Config) remote.Config {
	rc := remote.DefaultConfig(cfg.Remote.BaseURL)
	rc.SessionCookie = cfg.Remote.SessionCookie
	if cfg.Remote.UserAgent != "" {
		rc.UserAgent = cfg.Remote.UserAgent
	}
	if cfg.Remote.RequestInterval > 0 {
		rc.RequestInterval = cfg.Remote.RequestInterval
	}
	if cfg.Remote.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Remote.MaxAttempts
	}
	if cfg.Remote.Timeout > 0 {
		rc.Timeout = cfg.Remote.Timeout
	}
	rc.MaxInFlight = cfg.Sync.MaxInFlight
	return rc
}

// buildEngine wires the remote client, store, builder, and journal
// into a sync engine. The journal DB is returned too (nil when none
// is configured) so callers can serve run history from it; the
// returned cleanup closes it.
func buildEngine(cfg *config.Config, store *history.Store) (*engine.Engine, *journal.DB, func()) {
	client := remote.New(remoteConfig(cfg), nil, nil)

	builder := snapshot.NewBuilder(snapshot.BuildConfig{
		MaxInFlight:      cfg.Sync.MaxInFlight,
		FailureThreshold: cfg.Sync.FailureThreshold,
	}, nil)

	eng := engine.New(client, store, builder, nil)

	cleanup := func() {}
	db := mustJournal(cfg)
	if db != nil {
		if err := db.InitSchema(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing journal: %v\n", err)
			os.Exit(1)
		}
		eng.SetRecorder(db)
		cleanup = func() { _ = db.Close() }
	}
	return eng, db, cleanup
}
