// Package engine orchestrates one backup run per project: read the
// latest committed snapshot, list the remote, diff, fetch what
// changed, and commit the result as the next version. A failed run
// never leaves partial state behind; the previous latest stays intact
// until a complete new snapshot is published.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/notevault/notevault/internal/history"
	"github.com/notevault/notevault/internal/snapshot"
)

// Phase is one state of a run's state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListing    Phase = "listing"
	PhaseDiffing    Phase = "diffing"
	PhaseFetching   Phase = "fetching"
	PhaseBuilding   Phase = "building"
	PhaseCommitting Phase = "committing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Report is the outcome of one run. It is recorded in the journal and
// handed to notifiers whether the run succeeded or not.
type Report struct {
	RunID      string             `json:"run_id"`
	Project    string             `json:"project"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Phase      Phase              `json:"phase"`
	Version    int64              `json:"version,omitempty"`
	Listed     int                `json:"listed"`
	Fetched    int                `json:"fetched"`
	Reused     int                `json:"reused"`
	Dropped    int                `json:"dropped"`
	Failures   []snapshot.Failure `json:"failures,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Success reports whether the run committed a new version. A
// successful run may still carry tolerated page failures; callers can
// alert on a nonzero failure count.
func (r *Report) Success() bool {
	return r.Phase == PhaseDone
}

// Duration is the wall time the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedIDs returns the page ids that could not be fetched.
func (r *Report) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.ID)
	}
	return ids
}

// Engine drives sync runs. One Engine instance can serve many
// projects; runs for different projects are independent.
type Engine struct {
	remote   Remote
	store    Store
	builder  *snapshot.Builder
	notifier Notifier
	recorder Recorder
	logger   *log.Logger
}

// New creates an Engine. notifier and recorder may be nil. If logger
// is nil, a default logger writing to stderr is used.
func New(remote Remote, store Store, builder *snapshot.Builder, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		remote:  remote,
		store:   store,
		builder: builder,
		logger:  logger,
	}
}

// SetNotifier attaches a run progress notifier.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetRecorder attaches a run recorder.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// Run performs one full sync of a project. The returned report is
// always non-nil; the error repeats the report's failure cause for
// callers that only look at errors.
func (e *Engine) Run(ctx context.Context, project string) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Project:   project,
		StartedAt: time.Now().UTC(),
		Phase:     PhaseIdle,
	}

	err := e.run(ctx, report)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		report.Phase = PhaseFailed
		report.Error = err.Error()
		e.logger.Printf("Run %s for %s failed: %v", report.RunID, project, err)
	} else {
		report.Phase = PhaseDone
		e.logger.Printf("Run %s for %s done: v%d in %v (%d fetched, %d reused, %d dropped, %d failed)",
			report.RunID, project, report.Version, report.Duration().Round(time.Millisecond),
			report.Fetched, report.Reused, report.Dropped, len(report.Failures))
	}

	if e.notifier != nil {
		e.notifier.RunFinished(report)
	}
	if e.recorder != nil {
		if rerr := e.recorder.RecordRun(context.WithoutCancel(ctx), report); rerr != nil {
			e.logger.Printf("WARNING: failed to record run %s: %v", report.RunID, rerr)
		}
	}
	return report, err
}

// RunAll syncs every project in order. One project's failure does not
// stop the others; the first error is returned after all runs finish.
func (e *Engine) RunAll(ctx context.Context, projects []string) ([]*Report, error) {
	var reports []*Report
	var firstErr error
	for _, project := range projects {
		report, err := e.Run(ctx, project)
		reports = append(reports, report)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sync of %s failed: %w", project, err)
		}
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
	}
	return reports, firstErr
}

func (e *Engine) run(ctx context.Context, report *Report) error {
	project := report.Project

	e.transition(report, PhaseListing)
	listing, err := e.remote.ListPages(ctx, project)
	if err != nil {
		return fmt.Errorf("listing failed: %w", err)
	}
	report.Listed = len(listing)

	prev, err := e.store.Latest(project)
	if err != nil {
		return fmt.Errorf("failed to read latest snapshot: %w", err)
	}

	result, err := e.buildAndCommit(ctx, report, prev, listing)

	// A racing committer published a version between our read of
	// latest and our commit. Re-read and retry the diff exactly once
	// against the newer base; a second conflict is surfaced.
	var conflict *history.ConflictError
	if errors.As(err, &conflict) {
		e.logger.Printf("Version conflict on %s (latest moved to v%d), retrying once", project, conflict.Latest)
		prev, err = e.store.Latest(project)
		if err != nil {
			return fmt.Errorf("failed to re-read latest after conflict: %w", err)
		}
		result, err = e.buildAndCommit(ctx, report, prev, listing)
	}
	if err != nil {
		return err
	}

	report.Version = result.Snapshot.Version
	report.Fetched = result.Fetched
	report.Reused = result.Reused
	report.Dropped = result.Dropped
	report.Failures = result.Failures
	return nil
}

// buildAndCommit runs the DIFFING through COMMITTING phases once.
func (e *Engine) buildAndCommit(ctx context.Context, report *Report, prev *snapshot.Snapshot, listing snapshot.Listing) (*snapshot.Result, error) {
	e.transition(report, PhaseDiffing)
	e.transition(report, PhaseFetching)
	e.transition(report, PhaseBuilding)

	result, err := e.builder.Build(ctx, report.Project, prev, listing, e.remote.Fetcher(report.Project))
	if err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}

	e.transition(report, PhaseCommitting)
	if _, err := e.store.Commit(result.Snapshot, result.Info); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) transition(report *Report, phase Phase) {
	report.Phase = phase
	if e.notifier != nil {
		e.notifier.PhaseChanged(report.RunID, report.Project, phase)
	}
}
