package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/notevault/notevault/internal/engine"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeRunner records every RunAll call and returns one done report per
// project.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *fakeRunner) RunAll(ctx context.Context, projects []string) ([]*engine.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), projects...))

	now := time.Now().UTC()
	var reports []*engine.Report
	for _, p := range projects {
		reports = append(reports, &engine.Report{
			RunID:      "run-" + p,
			Project:    p,
			StartedAt:  now,
			FinishedAt: now,
			Phase:      engine.PhaseDone,
			Version:    1,
		})
	}
	return reports, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRunner) lastCall() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDaemon_RunsOnSchedule(t *testing.T) {
	runner := &fakeRunner{}
	d, err := New(runner, []string{"alpha", "beta"}, nil, Config{
		Interval: 50 * time.Millisecond,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// One immediate run plus at least one scheduled tick.
	waitFor(t, 2*time.Second, func() bool { return runner.callCount() >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := runner.lastCall(); len(got) != 2 || got[0] != "alpha" {
		t.Errorf("projects = %v, want [alpha beta]", got)
	}
}

func TestDaemon_WritesPidFile(t *testing.T) {
	runner := &fakeRunner{}
	pidFile := filepath.Join(t.TempDir(), "run", "nv.pid")
	d, err := New(runner, []string{"alpha"}, nil, Config{
		Interval: time.Hour,
		PidFile:  pidFile,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(pidFile)
		return err == nil
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// Removed on shutdown.
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("pid file still present after shutdown: %v", err)
	}
}

func TestDaemon_ReloadsProjectsOnConfigChange(t *testing.T) {
	runner := &fakeRunner{}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("projects: [alpha]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := New(runner, []string{"alpha"}, nil, Config{
		Interval:         40 * time.Millisecond,
		ConfigPath:       cfgPath,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var reloads int
	var reloadMu sync.Mutex
	d.SetReloader(func() ([]string, error) {
		reloadMu.Lock()
		reloads++
		reloadMu.Unlock()
		return []string{"alpha", "gamma"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return runner.callCount() >= 1 })
	if err := os.WriteFile(cfgPath, []byte("projects: [alpha, gamma]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		got := runner.lastCall()
		return len(got) == 2 && got[1] == "gamma"
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	reloadMu.Lock()
	defer reloadMu.Unlock()
	if reloads == 0 {
		t.Error("reloader never invoked")
	}
}

func TestDaemon_FailedReloadKeepsProjects(t *testing.T) {
	runner := &fakeRunner{}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ok\n"), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := New(runner, []string{"alpha"}, nil, Config{
		Interval:         40 * time.Millisecond,
		ConfigPath:       cfgPath,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan struct{}, 1)
	d.SetReloader(func() ([]string, error) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil, os.ErrInvalid
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// The first run happens after the config watch is registered, so
	// waiting for it ensures the write below is observed.
	waitFor(t, 2*time.Second, func() bool { return runner.callCount() >= 1 })
	if err := os.WriteFile(cfgPath, []byte("broken\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("reloader never invoked")
	}

	waitFor(t, 2*time.Second, func() bool { return runner.callCount() >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if got := runner.lastCall(); len(got) != 1 || got[0] != "alpha" {
		t.Errorf("projects after failed reload = %v, want [alpha]", got)
	}
}

func TestOpLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.jsonl")
	oplog := NewOpLog(path, 1, 1)
	defer oplog.Close()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	reports := []*engine.Report{
		{
			RunID: "r1", Project: "alpha", StartedAt: now, FinishedAt: now.Add(2 * time.Second),
			Phase: engine.PhaseDone, Version: 7, Listed: 3, Fetched: 1, Reused: 2,
		},
		{
			RunID: "r2", Project: "beta", StartedAt: now, FinishedAt: now.Add(time.Second),
			Phase: engine.PhaseFailed, Error: "listing failed",
		},
	}
	for _, r := range reports {
		if err := oplog.Record(r); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("oplog not written: %v", err)
	}
	defer f.Close()

	var entries []OpEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e OpEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d not valid JSON: %v", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Project != "alpha" || entries[0].Version != 7 || entries[0].Duration != "2s" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Phase != string(engine.PhaseFailed) || entries[1].Error != "listing failed" {
		t.Errorf("failed run entry = %+v", entries[1])
	}
}
