package daemon

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/notevault/notevault/internal/engine"
)

// OpEntry is one line of the operation log: the durable record of a
// single sync run, written as JSONL so it can be tailed and grepped.
type OpEntry struct {
	Timestamp time.Time `json:"ts"`
	RunID     string    `json:"run_id"`
	Project   string    `json:"project"`
	Phase     string    `json:"phase"`
	Version   int64     `json:"version,omitempty"`
	Listed    int       `json:"listed"`
	Fetched   int       `json:"fetched"`
	Reused    int       `json:"reused"`
	Dropped   int       `json:"dropped,omitempty"`
	Failures  int       `json:"failures,omitempty"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// OpLog appends run reports to a size-rotated JSONL file.
type OpLog struct {
	mu sync.Mutex
	w  *lumberjack.Logger
}

// NewOpLog opens the operation log at path. maxSizeMB and maxBackups
// bound rotation; zero values fall back to 10 MB and 3 backups.
func NewOpLog(path string, maxSizeMB, maxBackups int) *OpLog {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	return &OpLog{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		},
	}
}

// Record appends one report as a single JSON line.
func (l *OpLog) Record(report *engine.Report) error {
	entry := OpEntry{
		Timestamp: report.FinishedAt,
		RunID:     report.RunID,
		Project:   report.Project,
		Phase:     string(report.Phase),
		Version:   report.Version,
		Listed:    report.Listed,
		Fetched:   report.Fetched,
		Reused:    report.Reused,
		Dropped:   report.Dropped,
		Failures:  len(report.Failures),
		Duration:  report.Duration().String(),
	}
	if report.Error != "" {
		entry.Error = report.Error
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode oplog entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("failed to append oplog entry: %w", err)
	}
	return nil
}

// Close closes the underlying log file.
func (l *OpLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
