package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const manifestName = "manifest.json"

// VersionEntry is one committed version in the manifest index.
type VersionEntry struct {
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	File      string    `json:"file"`
	InfoFile  string    `json:"info_file"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
}

// manifest is the per-project index. The manifest file is the single
// source of truth for what is committed: a version file without a
// manifest entry is invisible staging debris, never history.
type manifest struct {
	Project string `json:"project"`

	// Latest is the highest committed version, zero when empty.
	Latest int64 `json:"latest"`

	// PrunedBefore is the lowest version still retained after the most
	// recent prune, zero when never pruned.
	PrunedBefore int64 `json:"pruned_before,omitempty"`

	// Versions lists retained versions, oldest first.
	Versions []VersionEntry `json:"versions"`
}

// readManifest loads a project's manifest, returning nil when the
// project has no history yet.
func (s *Store) readManifest(project string) (*manifest, error) {
	path := filepath.Join(s.projectDir(project), manifestName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for %s: %w", project, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for %s: %w", project, err)
	}
	return &m, nil
}

// writeManifest atomically replaces a project's manifest.
func (s *Store) writeManifest(project string, m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest for %s: %w", project, err)
	}
	return writeFileSync(filepath.Join(s.projectDir(project), manifestName), data)
}
