//go:build !unix

package history

import (
	"fmt"
	"os"
)

// fileLock on non-unix platforms only marks the lock file. Cross-
// process exclusion falls back to the in-process mutex; the on-disk
// commit protocol stays crash safe either way because the manifest
// rename is the single publish point.
type fileLock struct {
	f *os.File
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	_ = l.f.Close()
}
