// Package gitmirror replays committed history versions into a git
// repository, one commit per version with the commit dated at the
// snapshot's creation time. Standard git tooling can then diff any two
// states of the backup.
package gitmirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/notevault/notevault/internal/export"
	"github.com/notevault/notevault/internal/history"
	"github.com/notevault/notevault/internal/snapshot"
)

// versionTrailer marks mirror commits so the last mirrored version can
// be recovered from the repository itself.
const versionTrailer = "Backup-Version:"

// Mirror drives one git repository.
type Mirror struct {
	repoPath string
	logger   *log.Logger
}

// New creates a Mirror for the repository at repoPath, creating and
// initializing the directory if needed. If logger is nil, a default
// logger writing to stderr is used.
func New(repoPath string, logger *log.Logger) (*Mirror, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}
	m := &Mirror{repoPath: repoPath, logger: logger}

	if err := os.MkdirAll(repoPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); os.IsNotExist(err) {
		if _, err := m.git(context.Background(), nil, "init", "--quiet"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RepoPath returns the mirror repository root.
func (m *Mirror) RepoPath() string {
	return m.repoPath
}

// git executes one git command in the repository.
func (m *Mirror) git(ctx context.Context, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\n%s",
			strings.Join(args, " "), err, string(output))
	}
	return output, nil
}

// LastMirrored returns the highest version already replayed into the
// repository, zero for a fresh mirror.
func (m *Mirror) LastMirrored(ctx context.Context) (int64, error) {
	cmd := exec.CommandContext(ctx, "git", "log", "-1", "--format=%B")
	cmd.Dir = m.repoPath
	output, err := cmd.Output()
	if err != nil {
		// No commits yet.
		return 0, nil
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, versionTrailer) {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, versionTrailer)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed %s trailer in mirror head: %w", versionTrailer, err)
		}
		return v, nil
	}
	return 0, nil
}

// Result reports what a replay did.
type Result struct {
	Mirrored []int64
	Head     int64
}

// Replay mirrors every version of project that is newer than the
// repository head, oldest first. Each version becomes one commit whose
// author and committer dates are the snapshot's creation time, so git
// history lines up with backup history.
func (m *Mirror) Replay(ctx context.Context, store *history.Store, project string) (*Result, error) {
	last, err := m.LastMirrored(ctx)
	if err != nil {
		return nil, err
	}

	versions, err := store.Versions(project)
	if err != nil {
		return nil, err
	}

	result := &Result{Head: last}
	for _, entry := range versions {
		if entry.Version <= last {
			continue
		}
		snap, err := store.Load(project, entry.Version)
		if err != nil {
			return nil, err
		}
		if err := m.commitVersion(ctx, snap); err != nil {
			return nil, err
		}
		result.Mirrored = append(result.Mirrored, entry.Version)
		result.Head = entry.Version
	}

	if len(result.Mirrored) > 0 {
		m.logger.Printf("Mirrored %s: %d versions, head now v%d", project, len(result.Mirrored), result.Head)
	}
	return result, nil
}

// commitVersion replaces the working tree pages with the snapshot's
// pages and commits the result, empty or not, so version numbering in
// git stays aligned with the store.
func (m *Mirror) commitVersion(ctx context.Context, snap *snapshot.Snapshot) error {
	pagesDir := filepath.Join(m.repoPath, "pages")
	if err := os.RemoveAll(pagesDir); err != nil {
		return fmt.Errorf("failed to clear pages directory: %w", err)
	}
	if err := os.MkdirAll(pagesDir, 0755); err != nil {
		return fmt.Errorf("failed to create pages directory: %w", err)
	}

	for _, id := range snap.IDs() {
		p := snap.Pages[id]
		name := export.EscapeTitle(p.Title) + ".txt"
		content := strings.Join(p.Text(), "\n") + "\n"
		if err := os.WriteFile(filepath.Join(pagesDir, name), []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write page %s: %w", name, err)
		}
	}

	if _, err := m.git(ctx, nil, "add", "-A"); err != nil {
		return err
	}

	date := snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
	env := []string{
		"GIT_AUTHOR_NAME=notevault",
		"GIT_AUTHOR_EMAIL=notevault@localhost",
		"GIT_COMMITTER_NAME=notevault",
		"GIT_COMMITTER_EMAIL=notevault@localhost",
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_DATE=" + date,
	}
	message := fmt.Sprintf("%s v%d\n\n%s %d", snap.Project, snap.Version, versionTrailer, snap.Version)

	// --allow-empty keeps one commit per version even when two
	// consecutive snapshots have identical content.
	if _, err := m.git(ctx, env, "commit", "--quiet", "--allow-empty", "-m", message); err != nil {
		return err
	}
	return nil
}
