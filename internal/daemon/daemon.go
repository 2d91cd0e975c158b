// Package daemon runs the sync engine on a schedule. It syncs every
// configured project at a fixed interval, hot-reloads the project list
// when the config file changes, appends every run to a rotated JSONL
// operation log, and shuts down cleanly on cancellation.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/notevault/notevault/internal/engine"
)

// Runner drives sync runs. The engine implements it.
type Runner interface {
	RunAll(ctx context.Context, projects []string) ([]*engine.Report, error)
}

// Config holds the daemon settings.
type Config struct {
	// Interval is how often every project is synced.
	Interval time.Duration

	// ConfigPath, when non-empty, is watched for changes; the reloader
	// is invoked after the file settles.
	ConfigPath string

	// DebounceInterval is how long a config change must settle before
	// reload. Editors often write files several times in a burst.
	DebounceInterval time.Duration

	// PidFile, when non-empty, records the daemon's pid while running.
	PidFile string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults: hourly syncs, half-second
// config debounce.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Hour,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync runs for a set of projects.
type Daemon struct {
	runner Runner
	cfg    Config
	oplog  *OpLog

	projectsMu sync.Mutex
	projects   []string
	reload     func() ([]string, error)

	watcher       *fsnotify.Watcher
	changeMu      sync.Mutex
	lastChange    time.Time
	reloadPending bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon syncing the given projects. oplog may be nil.
func New(runner Runner, projects []string, oplog *OpLog, cfg Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("projects cannot be empty")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		runner:   runner,
		cfg:      cfg,
		oplog:    oplog,
		projects: projects,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetReloader installs the function called to re-resolve the project
// list after the config file changes.
func (d *Daemon) SetReloader(fn func() ([]string, error)) {
	d.reload = fn
}

// Start begins scheduling. It performs one sync immediately, then one
// per interval, and blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.cfg.Logger.Printf("Starting daemon: %d projects every %v", len(d.currentProjects()), d.cfg.Interval)

	if d.cfg.PidFile != "" {
		if err := writePidFile(d.cfg.PidFile); err != nil {
			return err
		}
		defer os.Remove(d.cfg.PidFile)
	}

	if d.cfg.ConfigPath != "" && d.reload != nil {
		if err := d.watchConfig(); err != nil {
			return err
		}
	}

	d.runOnce(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.cfg.Logger.Println("Shutdown signal received")
			return d.Stop()
		case <-d.ctx.Done():
			return nil
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// Stop shuts the daemon down and waits for its goroutines.
func (d *Daemon) Stop() error {
	d.cfg.Logger.Println("Stopping daemon")
	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.cfg.Logger.Printf("Error closing config watcher: %v", err)
		}
	}
	d.wg.Wait()
	d.cfg.Logger.Println("Daemon stopped")
	return nil
}

// runOnce syncs every project and records the reports. A failed run is
// logged, not fatal; the daemon keeps its schedule.
func (d *Daemon) runOnce(ctx context.Context) {
	projects := d.currentProjects()
	start := time.Now()

	reports, err := d.runner.RunAll(ctx, projects)
	if err != nil {
		d.cfg.Logger.Printf("Sync cycle finished with errors: %v", err)
	}

	ok := 0
	for _, report := range reports {
		if report.Success() {
			ok++
		}
		if d.oplog != nil {
			if lerr := d.oplog.Record(report); lerr != nil {
				d.cfg.Logger.Printf("WARNING: failed to write oplog entry: %v", lerr)
			}
		}
	}
	d.cfg.Logger.Printf("Sync cycle complete in %v: %d/%d projects succeeded",
		time.Since(start).Round(time.Millisecond), ok, len(reports))
}

func (d *Daemon) currentProjects() []string {
	d.projectsMu.Lock()
	defer d.projectsMu.Unlock()
	out := make([]string, len(d.projects))
	copy(out, d.projects)
	return out
}

// watchConfig starts the fsnotify watch on the config file's directory
// (watching the file itself misses editor rename-into-place writes)
// and the debounce loop that applies reloads.
func (d *Daemon) watchConfig() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	d.watcher = watcher

	dir := filepath.Dir(d.cfg.ConfigPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	d.cfg.Logger.Printf("Watching config: %s", d.cfg.ConfigPath)

	d.wg.Add(2)
	go d.watchEvents()
	go d.applyReloads()
	return nil
}

func (d *Daemon) watchEvents() {
	defer d.wg.Done()

	target, _ := filepath.Abs(d.cfg.ConfigPath)
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if abs, _ := filepath.Abs(event.Name); abs != target {
				continue
			}
			d.changeMu.Lock()
			d.lastChange = time.Now()
			d.reloadPending = true
			d.changeMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.cfg.Logger.Printf("Config watcher error: %v", err)
		}
	}
}

// applyReloads waits for changes to settle, then swaps in the newly
// resolved project list. A reload that fails to parse keeps the old
// list running.
func (d *Daemon) applyReloads() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}

		d.changeMu.Lock()
		due := d.reloadPending && time.Since(d.lastChange) >= d.cfg.DebounceInterval
		if due {
			d.reloadPending = false
		}
		d.changeMu.Unlock()
		if !due {
			continue
		}

		projects, err := d.reload()
		if err != nil {
			d.cfg.Logger.Printf("WARNING: config reload failed, keeping previous projects: %v", err)
			continue
		}
		d.projectsMu.Lock()
		d.projects = projects
		d.projectsMu.Unlock()
		d.cfg.Logger.Printf("Config reloaded: %d projects", len(projects))
	}
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}
