package gitmirror

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notevault/notevault/internal/history"
	"github.com/notevault/notevault/internal/snapshot"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in PATH")
	}
}

func seedStore(t *testing.T, versions int) *history.Store {
	t.Helper()
	store, err := history.Open(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	for v := int64(1); v <= int64(versions); v++ {
		snap := &snapshot.Snapshot{
			Project:   "demo",
			Version:   v,
			CreatedAt: time.Date(2026, 1, int(v), 9, 0, 0, 0, time.UTC),
			Pages: map[string]*snapshot.Page{
				"a": {
					ID: "a", Title: "Alpha Page", UpdatedAt: 100 + v, Checksum: "x",
					Lines: []snapshot.Line{{Text: "Alpha Page"}, {Text: "rev " + string(rune('0'+v))}},
				},
			},
		}
		if _, err := store.Commit(snap, snapshot.MakeInfo(snap, 0)); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestMirror_ReplayFromScratch(t *testing.T) {
	requireGit(t)
	store := seedStore(t, 3)
	m, err := New(filepath.Join(t.TempDir(), "mirror"), quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := m.Replay(context.Background(), store, "demo")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(result.Mirrored) != 3 || result.Head != 3 {
		t.Errorf("result = %+v, want 3 versions mirrored, head v3", result)
	}

	// One commit per version, oldest first.
	out, err := exec.Command("git", "-C", m.RepoPath(), "log", "--reverse", "--format=%s|%aI").Output()
	if err != nil {
		t.Fatalf("git log failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 3 {
		t.Fatalf("commit count = %d, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "demo v1|2026-01-01") {
		t.Errorf("first commit = %q, want demo v1 dated at snapshot creation", lines[0])
	}
	if !strings.HasPrefix(lines[2], "demo v3|2026-01-03") {
		t.Errorf("last commit = %q, want demo v3", lines[2])
	}

	// Working tree holds the latest version's pages.
	content, err := os.ReadFile(filepath.Join(m.RepoPath(), "pages", "Alpha_Page.txt"))
	if err != nil {
		t.Fatalf("page file missing: %v", err)
	}
	if !strings.Contains(string(content), "rev 3") {
		t.Errorf("page content = %q, want latest revision", content)
	}
}

func TestMirror_ReplayIsIncremental(t *testing.T) {
	requireGit(t)
	store := seedStore(t, 2)
	m, err := New(filepath.Join(t.TempDir(), "mirror"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Replay(context.Background(), store, "demo"); err != nil {
		t.Fatal(err)
	}
	if last, _ := m.LastMirrored(context.Background()); last != 2 {
		t.Fatalf("LastMirrored() = %d, want 2", last)
	}

	// Nothing new: replay is a no-op.
	result, err := m.Replay(context.Background(), store, "demo")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(result.Mirrored) != 0 {
		t.Errorf("second replay mirrored %v, want nothing", result.Mirrored)
	}

	// A new version is picked up without re-replaying old ones.
	snap := &snapshot.Snapshot{
		Project:   "demo",
		Version:   3,
		CreatedAt: time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC),
		Pages:     map[string]*snapshot.Page{},
	}
	if _, err := store.Commit(snap, snapshot.MakeInfo(snap, 0)); err != nil {
		t.Fatal(err)
	}
	result, err = m.Replay(context.Background(), store, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Mirrored) != 1 || result.Mirrored[0] != 3 {
		t.Errorf("incremental replay = %v, want just v3", result.Mirrored)
	}

	out, _ := exec.Command("git", "-C", m.RepoPath(), "rev-list", "--count", "HEAD").Output()
	if strings.TrimSpace(string(out)) != "3" {
		t.Errorf("commit count = %s, want 3", out)
	}
}

func TestMirror_LastMirroredEmptyRepo(t *testing.T) {
	requireGit(t)
	m, err := New(filepath.Join(t.TempDir(), "mirror"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	last, err := m.LastMirrored(context.Background())
	if err != nil || last != 0 {
		t.Errorf("LastMirrored() = %d, %v; want 0 for fresh mirror", last, err)
	}
}
