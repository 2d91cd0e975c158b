// Package journal records every sync run and its fetch failures in a
// SQLite database, so operators can see what happened without
// spelunking through logs. Local file paths use the embedded sqlite3
// driver; libsql:// URLs use the libSQL driver for a hosted journal
// shared across machines.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/notevault/notevault/internal/engine"
	"github.com/notevault/notevault/internal/snapshot"
)

// DB wraps the journal database connection.
type DB struct {
	conn *sql.DB
	dsn  string
}

// Open connects to the journal at dsn: a local file path, or a
// libsql:// URL for a hosted database. The caller must Close when
// done.
func Open(dsn string) (*DB, error) {
	var driver, connStr string
	if strings.HasPrefix(dsn, "libsql://") {
		driver = "libsql"
		connStr = dsn
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		driver = "sqlite3"
		connStr = fmt.Sprintf("file:%s", dsn)
	}

	conn, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, dsn: dsn}

	if driver == "sqlite3" {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.conn.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
			}
		}
	}

	return db, nil
}

// Close closes the journal connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the journal tables if they don't exist. This is
// idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		phase TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		listed INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0,
		reused INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS failures (
		run_id TEXT NOT NULL,
		page_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		error TEXT,
		PRIMARY KEY (run_id, page_id),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_phase ON runs(phase);
	CREATE INDEX IF NOT EXISTS idx_failures_page ON failures(page_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// RecordRun stores a finished run and its failure list in one
// transaction. It implements engine.Recorder.
func (db *DB) RecordRun(ctx context.Context, report *engine.Report) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, project, started_at, finished_at, phase,
			version, listed, fetched, reused, dropped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID,
		report.Project,
		report.StartedAt.Format(time.RFC3339Nano),
		report.FinishedAt.Format(time.RFC3339Nano),
		string(report.Phase),
		report.Version,
		report.Listed,
		report.Fetched,
		report.Reused,
		report.Dropped,
		nullString(report.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", report.RunID, err)
	}

	for _, f := range report.Failures {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO failures (run_id, page_id, kind, attempts, error)
			VALUES (?, ?, ?, ?, ?)`,
			report.RunID, f.ID, string(f.Kind), f.Attempts, nullString(f.Err),
		)
		if err != nil {
			return fmt.Errorf("failed to record failure %s/%s: %w", report.RunID, f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal transaction: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first. project
// filters to one project when non-empty; limit 0 means 20.
func (db *DB) RecentRuns(ctx context.Context, project string, limit int) ([]*engine.Report, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id, project, started_at, finished_at, phase,
		       version, listed, fetched, reused, dropped, error
		FROM runs
	`
	var args []interface{}
	if project != "" {
		query += " WHERE project = ?"
		args = append(args, project)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var reports []*engine.Report
	for rows.Next() {
		var r engine.Report
		var phase, startedAt, finishedAt string
		var errText sql.NullString

		err := rows.Scan(&r.RunID, &r.Project, &startedAt, &finishedAt, &phase,
			&r.Version, &r.Listed, &r.Fetched, &r.Reused, &r.Dropped, &errText)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		r.Phase = engine.Phase(phase)
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			r.FinishedAt = t
		}
		if errText.Valid {
			r.Error = errText.String
		}
		reports = append(reports, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return reports, nil
}

// Failures returns the fetch failures recorded for one run.
func (db *DB) Failures(ctx context.Context, runID string) ([]snapshot.Failure, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT page_id, kind, attempts, error
		FROM failures WHERE run_id = ? ORDER BY page_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []snapshot.Failure
	for rows.Next() {
		var f snapshot.Failure
		var kind string
		var errText sql.NullString
		if err := rows.Scan(&f.ID, &kind, &f.Attempts, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Kind = snapshot.FailureKind(kind)
		if errText.Valid {
			f.Err = errText.String
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failures: %w", err)
	}
	return failures, nil
}

// FlakyPages returns the page ids that failed most often across
// recorded runs, mapped to their failure count, capped at limit.
func (db *DB) FlakyPages(ctx context.Context, project string, limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT f.page_id, COUNT(*) AS n
		FROM failures f JOIN runs r ON r.run_id = f.run_id
		WHERE r.project = ?
		GROUP BY f.page_id
		ORDER BY n DESC, f.page_id ASC
		LIMIT ?`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flaky pages: %w", err)
	}
	defer rows.Close()

	flaky := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan flaky page: %w", err)
		}
		flaky[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flaky pages: %w", err)
	}
	return flaky, nil
}

// RunCount returns the total number of recorded runs.
func (db *DB) RunCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
