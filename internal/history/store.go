// Package history persists project snapshots as an append-only,
// versioned sequence on disk. Commits are atomic: a snapshot is fully
// written and fsynced under a staging name, then a single manifest
// rename publishes it as the new latest. A crash at any earlier point
// leaves the previous latest untouched.
//
// Layout per project under the store root:
//
//	<project>/manifest.json          latest pointer + version index
//	<project>/versions/NNNNNN.json   snapshot document
//	<project>/versions/NNNNNN.info.json  summary sidecar
//	<project>/retention.toml         prune policy
//	<project>/.lock                  commit lock
package history

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/mod/sumdb/dirhash"

	"github.com/notevault/notevault/internal/snapshot"
)

// ConflictError is returned by Commit when the proposed version is not
// exactly one greater than the current latest. A racing committer got
// there first; the caller should re-read latest and rebuild.
type ConflictError struct {
	Project  string
	Proposed int64
	Latest   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: proposed v%d, latest is v%d",
		e.Project, e.Proposed, e.Latest)
}

// Store is an append-only snapshot store rooted at one directory.
// Commits are serialized per project by an in-process mutex plus an
// OS-level file lock, so concurrent processes cannot interleave.
type Store struct {
	root   string
	logger *log.Logger

	mu       sync.Mutex
	projects map[string]*sync.Mutex
}

// Open creates a Store at root, creating the directory if needed. If
// logger is nil, a default logger writing to stderr is used.
func Open(root string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[history] ", log.LstdFlags)
	}
	return &Store{
		root:     root,
		logger:   logger,
		projects: make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// projectMutex returns the per-project commit mutex, creating it on
// first use.
func (s *Store) projectMutex(project string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.projects[project]
	if !ok {
		m = &sync.Mutex{}
		s.projects[project] = m
	}
	return m
}

func (s *Store) projectDir(project string) string {
	return filepath.Join(s.root, project)
}

func (s *Store) versionsDir(project string) string {
	return filepath.Join(s.projectDir(project), "versions")
}

func versionFileName(version int64) string {
	return fmt.Sprintf("%06d.json", version)
}

func infoFileName(version int64) string {
	return fmt.Sprintf("%06d.info.json", version)
}

// Projects lists every project directory in the store, sorted.
func (s *Store) Projects() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read store root: %w", err)
	}

	var projects []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), manifestName)); err != nil {
			continue
		}
		projects = append(projects, entry.Name())
	}
	sort.Strings(projects)
	return projects, nil
}

// Latest returns the most recently committed snapshot for a project,
// or nil when the project has no history yet.
func (s *Store) Latest(project string) (*snapshot.Snapshot, error) {
	m, err := s.readManifest(project)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Latest == 0 {
		return nil, nil
	}
	return s.Load(project, m.Latest)
}

// LatestVersion returns the latest committed version number, zero when
// the project has no history.
func (s *Store) LatestVersion(project string) (int64, error) {
	m, err := s.readManifest(project)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, nil
	}
	return m.Latest, nil
}

// Load reads one committed snapshot version.
func (s *Store) Load(project string, version int64) (*snapshot.Snapshot, error) {
	path := filepath.Join(s.versionsDir(project), versionFileName(version))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version %d of %s: %w", version, project, err)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode version %d of %s: %w", version, project, err)
	}
	return &snap, nil
}

// LoadInfo reads the summary sidecar for one version.
func (s *Store) LoadInfo(project string, version int64) (snapshot.Info, error) {
	path := filepath.Join(s.versionsDir(project), infoFileName(version))
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot.Info{}, fmt.Errorf("failed to read info for version %d of %s: %w", version, project, err)
	}

	var info snapshot.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return snapshot.Info{}, fmt.Errorf("failed to decode info for version %d of %s: %w", version, project, err)
	}
	return info, nil
}

// Versions returns the manifest entries for a project, oldest first.
// An empty slice means no history.
func (s *Store) Versions(project string) ([]VersionEntry, error) {
	m, err := s.readManifest(project)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	return m.Versions, nil
}

// Commit durably writes snap as the next version of its project and
// publishes it. It fails with a ConflictError, without side effects on
// the published state, unless snap.Version is exactly latest+1.
func (s *Store) Commit(snap *snapshot.Snapshot, info snapshot.Info) (int64, error) {
	project := snap.Project
	if project == "" {
		return 0, fmt.Errorf("snapshot has no project")
	}

	mu := s.projectMutex(project)
	mu.Lock()
	defer mu.Unlock()

	dir := s.projectDir(project)
	if err := os.MkdirAll(s.versionsDir(project), 0755); err != nil {
		return 0, fmt.Errorf("failed to create versions directory: %w", err)
	}

	lock, err := acquireLock(filepath.Join(dir, ".lock"))
	if err != nil {
		return 0, fmt.Errorf("failed to lock project %s: %w", project, err)
	}
	defer lock.release()

	m, err := s.readManifest(project)
	if err != nil {
		return 0, err
	}
	if m == nil {
		m = &manifest{Project: project}
	}
	if snap.Version != m.Latest+1 {
		return 0, &ConflictError{Project: project, Proposed: snap.Version, Latest: m.Latest}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	infoData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot info: %w", err)
	}

	versionFile := versionFileName(snap.Version)
	infoFile := infoFileName(snap.Version)
	if err := writeFileSync(filepath.Join(s.versionsDir(project), versionFile), data); err != nil {
		return 0, err
	}
	if err := writeFileSync(filepath.Join(s.versionsDir(project), infoFile), infoData); err != nil {
		return 0, err
	}

	m.Latest = snap.Version
	m.Versions = append(m.Versions, VersionEntry{
		Version:   snap.Version,
		CreatedAt: snap.CreatedAt,
		File:      versionFile,
		InfoFile:  infoFile,
		Size:      int64(len(data)),
		Digest:    snapshot.Digest(data),
	})

	// The manifest rename is the publish point. Everything above is
	// invisible to readers until this succeeds.
	if err := s.writeManifest(project, m); err != nil {
		return 0, err
	}

	s.logger.Printf("Committed %s v%d: %d pages, %d bytes", project, snap.Version, len(snap.Pages), len(data))
	return snap.Version, nil
}

// Verify recomputes the digest of every version file and compares it
// to the manifest. It returns one Problem per damaged or missing file;
// an empty slice means the history is intact.
func (s *Store) Verify(project string) ([]Problem, error) {
	m, err := s.readManifest(project)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("project %s has no history", project)
	}

	var problems []Problem
	for _, entry := range m.Versions {
		path := filepath.Join(s.versionsDir(project), entry.File)
		data, err := os.ReadFile(path)
		if err != nil {
			problems = append(problems, Problem{
				Version: entry.Version,
				File:    entry.File,
				Detail:  fmt.Sprintf("unreadable: %v", err),
			})
			continue
		}
		if got := snapshot.Digest(data); got != entry.Digest {
			problems = append(problems, Problem{
				Version: entry.Version,
				File:    entry.File,
				Detail:  fmt.Sprintf("digest mismatch: manifest %s, file %s", entry.Digest, got),
			})
		}
	}
	return problems, nil
}

// Problem describes one damaged entry found by Verify.
type Problem struct {
	Version int64
	File    string
	Detail  string
}

func (p Problem) String() string {
	return fmt.Sprintf("v%d (%s): %s", p.Version, p.File, p.Detail)
}

// Fingerprint hashes the whole project directory so two replicas can
// be compared without transferring content.
func (s *Store) Fingerprint(project string) (string, error) {
	dir := s.projectDir(project)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("project %s has no history: %w", project, err)
	}
	hash, err := dirhash.HashDir(dir, project, dirhash.Hash1)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint %s: %w", project, err)
	}
	return hash, nil
}

// writeFileSync writes data to path via a staging file, fsyncs it, and
// renames it into place. The rename is atomic on POSIX filesystems.
func writeFileSync(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close staging file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(path), err)
	}
	return nil
}
