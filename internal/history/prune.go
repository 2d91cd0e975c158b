package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const retentionName = "retention.toml"

// RetentionPolicy controls what Prune removes. Zero values mean no
// constraint; a zero policy prunes nothing. The latest version is
// never removed regardless of policy.
type RetentionPolicy struct {
	// KeepLast retains at least the N most recent versions.
	KeepLast int `toml:"keep_last"`

	// KeepDays retains every version younger than this many days.
	KeepDays int `toml:"keep_days"`
}

// ReadRetentionPolicy loads the project's retention.toml. A missing
// file yields the zero policy (prune nothing).
func (s *Store) ReadRetentionPolicy(project string) (RetentionPolicy, error) {
	var policy RetentionPolicy
	path := filepath.Join(s.projectDir(project), retentionName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return policy, nil
	}
	if _, err := toml.DecodeFile(path, &policy); err != nil {
		return policy, fmt.Errorf("failed to read retention policy for %s: %w", project, err)
	}
	return policy, nil
}

// WriteRetentionPolicy stores the project's retention.toml.
func (s *Store) WriteRetentionPolicy(project string, policy RetentionPolicy) error {
	if err := os.MkdirAll(s.projectDir(project), 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	f, err := os.Create(filepath.Join(s.projectDir(project), retentionName))
	if err != nil {
		return fmt.Errorf("failed to create retention policy for %s: %w", project, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(policy); err != nil {
		return fmt.Errorf("failed to write retention policy for %s: %w", project, err)
	}
	return nil
}

// PruneResult reports what a prune removed and kept.
type PruneResult struct {
	Removed []int64
	Kept    int
	// Floor is the lowest version still retained.
	Floor int64
}

// Prune removes committed versions that fall outside the policy.
// History is never truncated automatically: pruning only happens
// through this explicit call. The manifest is rewritten before any
// version file is deleted, so a crash mid-prune leaves at worst
// orphaned files, never a manifest entry without its file.
func (s *Store) Prune(project string, policy RetentionPolicy) (*PruneResult, error) {
	mu := s.projectMutex(project)
	mu.Lock()
	defer mu.Unlock()

	lock, err := acquireLock(filepath.Join(s.projectDir(project), ".lock"))
	if err != nil {
		return nil, fmt.Errorf("failed to lock project %s: %w", project, err)
	}
	defer lock.release()

	m, err := s.readManifest(project)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("project %s has no history", project)
	}

	cutoff := time.Now().AddDate(0, 0, -policy.KeepDays)
	// keepFrom is the index of the oldest version retained by
	// KeepLast. With no KeepLast constraint nothing keeps via the
	// index clause; a KeepLast covering the whole history keeps all.
	keepFrom := len(m.Versions)
	if policy.KeepLast > 0 {
		keepFrom = len(m.Versions) - policy.KeepLast
		if keepFrom < 0 {
			keepFrom = 0
		}
	}

	var kept []VersionEntry
	var removed []VersionEntry
	for i, entry := range m.Versions {
		keep := entry.Version == m.Latest ||
			i >= keepFrom ||
			(policy.KeepDays > 0 && entry.CreatedAt.After(cutoff)) ||
			(policy.KeepLast == 0 && policy.KeepDays == 0)
		if keep {
			kept = append(kept, entry)
		} else {
			removed = append(removed, entry)
		}
	}

	result := &PruneResult{Kept: len(kept)}
	if len(kept) > 0 {
		result.Floor = kept[0].Version
	}
	if len(removed) == 0 {
		return result, nil
	}

	m.Versions = kept
	m.PrunedBefore = result.Floor
	if err := s.writeManifest(project, m); err != nil {
		return nil, err
	}

	for _, entry := range removed {
		for _, name := range []string{entry.File, entry.InfoFile} {
			if name == "" {
				continue
			}
			if err := os.Remove(filepath.Join(s.versionsDir(project), name)); err != nil && !os.IsNotExist(err) {
				s.logger.Printf("WARNING: failed to remove pruned file %s: %v", name, err)
			}
		}
		result.Removed = append(result.Removed, entry.Version)
	}

	s.logger.Printf("Pruned %s: removed %d versions, kept %d (floor v%d)",
		project, len(result.Removed), result.Kept, result.Floor)
	return result, nil
}
