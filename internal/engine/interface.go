package engine

import (
	"context"

	"github.com/notevault/notevault/internal/snapshot"
)

// Remote is the fetch capability the engine needs: a cheap listing
// plus per-page content fetches. internal/remote implements it.
type Remote interface {
	// ListPages fetches the current remote index for a project.
	ListPages(ctx context.Context, project string) (snapshot.Listing, error)

	// Fetcher returns the page-fetch function for a project, used by
	// the snapshot builder.
	Fetcher(project string) snapshot.FetchFunc
}

// Store is the history the engine reads from and commits to.
// internal/history implements it.
type Store interface {
	// Latest returns the most recent committed snapshot, nil when the
	// project has no history yet.
	Latest(project string) (*snapshot.Snapshot, error)

	// Commit publishes snap as the next version. It must fail without
	// side effects when snap.Version is not exactly latest+1.
	Commit(snap *snapshot.Snapshot, info snapshot.Info) (int64, error)
}

// Notifier receives run progress. Implementations must not block; the
// dashboard implements it to broadcast live status.
type Notifier interface {
	// PhaseChanged is called on every state transition of a run.
	PhaseChanged(runID, project string, phase Phase)

	// RunFinished is called once with the final report, successful or
	// not.
	RunFinished(report *Report)
}

// Recorder persists finished runs. The journal implements it.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report) error
}
