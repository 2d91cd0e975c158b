package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/notevault/notevault/internal/history"
	"github.com/notevault/notevault/internal/snapshot"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeRemote serves a fixed listing and page set, counting fetches.
type fakeRemote struct {
	listing    snapshot.Listing
	pages      map[string]*snapshot.Page
	listErr    error
	fetchCalls int32
}

func (f *fakeRemote) ListPages(ctx context.Context, project string) (snapshot.Listing, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listing, nil
}

func (f *fakeRemote) Fetcher(project string) snapshot.FetchFunc {
	return func(ctx context.Context, id string) (*snapshot.Page, error) {
		atomic.AddInt32(&f.fetchCalls, 1)
		p, ok := f.pages[id]
		if !ok {
			return nil, errors.New("page not found")
		}
		return p, nil
	}
}

func remotePage(id, checksum, text string) *snapshot.Page {
	return &snapshot.Page{
		ID:        id,
		Title:     "Title " + id,
		Lines:     []snapshot.Line{{Text: text}},
		UpdatedAt: 1700000000,
		Checksum:  checksum,
	}
}

func testEngine(t *testing.T, remote Remote) (*Engine, *history.Store) {
	t.Helper()
	store, err := history.Open(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	builder := snapshot.NewBuilder(snapshot.DefaultBuildConfig(), quietLogger())
	return New(remote, store, builder, quietLogger()), store
}

func TestEngine_FirstRunCommitsEverything(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{
			{ID: "a", UpdatedAt: 1, Checksum: "x"},
			{ID: "b", UpdatedAt: 2, Checksum: "y"},
		},
		pages: map[string]*snapshot.Page{
			"a": remotePage("a", "x", "alpha"),
			"b": remotePage("b", "y", "beta"),
		},
	}
	e, store := testEngine(t, remote)

	report, err := e.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !report.Success() || report.Version != 1 {
		t.Errorf("report = phase %s v%d, want done v1", report.Phase, report.Version)
	}
	if report.Fetched != 2 || report.Reused != 0 {
		t.Errorf("fetched/reused = %d/%d, want 2/0", report.Fetched, report.Reused)
	}

	latest, _ := store.Latest("demo")
	if latest == nil || len(latest.Pages) != 2 {
		t.Fatalf("latest = %+v, want committed snapshot with 2 pages", latest)
	}
}

func TestEngine_IdempotentWhenRemoteUnchanged(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{{ID: "a", UpdatedAt: 1, Checksum: "x"}},
		pages:   map[string]*snapshot.Page{"a": remotePage("a", "x", "alpha")},
	}
	e, store := testEngine(t, remote)

	if _, err := e.Run(context.Background(), "demo"); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	first, _ := store.Latest("demo")
	atomic.StoreInt32(&remote.fetchCalls, 0)

	report, err := e.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if remote.fetchCalls != 0 {
		t.Errorf("second run fetched %d pages, want 0 beyond the listing", remote.fetchCalls)
	}
	if report.Version != 2 || report.Reused != 1 {
		t.Errorf("report = v%d reused %d, want v2 reused 1", report.Version, report.Reused)
	}

	second, _ := store.Latest("demo")
	if !second.ContentEqual(first) {
		t.Error("second snapshot content differs despite no remote changes")
	}
	if second.Version != first.Version+1 {
		t.Errorf("versions = %d then %d, want consecutive", first.Version, second.Version)
	}
}

func TestEngine_ChangedChecksumRefetched(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{{ID: "a", UpdatedAt: 1, Checksum: "x"}},
		pages:   map[string]*snapshot.Page{"a": remotePage("a", "x", "old")},
	}
	e, store := testEngine(t, remote)
	if _, err := e.Run(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}

	remote.listing = snapshot.Listing{{ID: "a", UpdatedAt: 2, Checksum: "y"}}
	remote.pages["a"] = remotePage("a", "y", "new")

	report, err := e.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Fetched != 1 {
		t.Errorf("fetched = %d, want 1 for changed checksum", report.Fetched)
	}

	latest, _ := store.Latest("demo")
	if got := latest.Pages["a"].Lines[0].Text; got != "new" {
		t.Errorf("page content = %q, want refetched content", got)
	}
}

func TestEngine_ToleratedFailureStillCommits(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{
			{ID: "a", UpdatedAt: 1, Checksum: "x"},
			{ID: "b", UpdatedAt: 2, Checksum: "y"},
			{ID: "c", UpdatedAt: 3, Checksum: "z"},
			{ID: "d", UpdatedAt: 4, Checksum: "w"},
		},
		pages: map[string]*snapshot.Page{
			"a": remotePage("a", "x", "alpha"),
			"b": remotePage("b", "y", "beta"),
			"c": remotePage("c", "z", "gamma"),
			// "d" missing: one failure out of four, below the default
			// quarter threshold.
		},
	}
	e, store := testEngine(t, remote)

	report, err := e.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run() error = %v, want tolerated failure", err)
	}
	if !report.Success() {
		t.Errorf("phase = %s, want done", report.Phase)
	}
	if len(report.Failures) != 1 || report.Failures[0].ID != "d" {
		t.Errorf("failures = %+v, want exactly page d", report.Failures)
	}

	latest, _ := store.Latest("demo")
	if _, ok := latest.Pages["d"]; ok {
		t.Error("failed page d present in snapshot, want omitted")
	}
	if len(latest.Pages) != 3 {
		t.Errorf("page count = %d, want 3", len(latest.Pages))
	}
}

func TestEngine_ThresholdBreachIsFatal(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{
			{ID: "a", UpdatedAt: 1, Checksum: "x"},
			{ID: "b", UpdatedAt: 2, Checksum: "y"},
		},
		pages: map[string]*snapshot.Page{"a": remotePage("a", "x", "alpha")},
	}
	e, store := testEngine(t, remote)
	if _, err := e.Run(context.Background(), "demo"); err != nil {
		// Half the listing failed, over the default threshold.
		var terr *snapshot.ThresholdError
		if !errors.As(err, &terr) {
			t.Fatalf("Run() error = %v, want *ThresholdError", err)
		}
	} else {
		t.Fatal("Run() succeeded, want threshold breach")
	}

	if latest, _ := store.Latest("demo"); latest != nil {
		t.Errorf("latest = v%d, want no commit after threshold breach", latest.Version)
	}
}

func TestEngine_ListingFailureIsFatal(t *testing.T) {
	remote := &fakeRemote{listErr: errors.New("auth revoked")}
	e, store := testEngine(t, remote)

	report, err := e.Run(context.Background(), "demo")
	if err == nil {
		t.Fatal("Run() succeeded, want fatal listing failure")
	}
	if report.Phase != PhaseFailed {
		t.Errorf("phase = %s, want failed", report.Phase)
	}
	if !strings.Contains(report.Error, "listing failed") {
		t.Errorf("report error = %q, want listing failure", report.Error)
	}
	if latest, _ := store.Latest("demo"); latest != nil {
		t.Error("listing failure committed a snapshot")
	}
}

// racingStore injects a concurrent committer: before the engine's
// first commit it publishes an interfering version, forcing a
// conflict. conflicts counts how many times the engine collided.
type racingStore struct {
	*history.Store
	races     int
	conflicts int32
	mu        sync.Mutex
}

func (r *racingStore) Commit(snap *snapshot.Snapshot, info snapshot.Info) (int64, error) {
	r.mu.Lock()
	if r.races > 0 {
		r.races--
		interfering := &snapshot.Snapshot{
			Project:   snap.Project,
			Version:   snap.Version,
			CreatedAt: snap.CreatedAt,
			Pages:     map[string]*snapshot.Page{},
		}
		if _, err := r.Store.Commit(interfering, snapshot.Info{}); err != nil {
			r.mu.Unlock()
			return 0, err
		}
	}
	r.mu.Unlock()

	v, err := r.Store.Commit(snap, info)
	var conflict *history.ConflictError
	if errors.As(err, &conflict) {
		atomic.AddInt32(&r.conflicts, 1)
	}
	return v, err
}

func TestEngine_ConflictRetriedOnce(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{{ID: "a", UpdatedAt: 1, Checksum: "x"}},
		pages:   map[string]*snapshot.Page{"a": remotePage("a", "x", "alpha")},
	}
	base, err := history.Open(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	store := &racingStore{Store: base, races: 1}
	builder := snapshot.NewBuilder(snapshot.DefaultBuildConfig(), quietLogger())
	e := New(remote, store, builder, quietLogger())

	report, err := e.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run() error = %v, want conflict absorbed by single retry", err)
	}
	if store.conflicts != 1 {
		t.Errorf("conflicts = %d, want exactly 1", store.conflicts)
	}
	// The interfering committer took v1, so the retried run lands on v2.
	if report.Version != 2 {
		t.Errorf("version = %d, want 2 after rebase on newer latest", report.Version)
	}
}

func TestEngine_RepeatedConflictSurfaced(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{{ID: "a", UpdatedAt: 1, Checksum: "x"}},
		pages:   map[string]*snapshot.Page{"a": remotePage("a", "x", "alpha")},
	}
	base, err := history.Open(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	store := &racingStore{Store: base, races: 2}
	builder := snapshot.NewBuilder(snapshot.DefaultBuildConfig(), quietLogger())
	e := New(remote, store, builder, quietLogger())

	_, err = e.Run(context.Background(), "demo")
	var conflict *history.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Run() error = %v, want surfaced *ConflictError", err)
	}
	if store.conflicts != 2 {
		t.Errorf("conflicts = %d, want 2 (one retry, then give up)", store.conflicts)
	}
	// This run changed nothing beyond the interfering commits.
	if v, _ := base.LatestVersion("demo"); v != 2 {
		t.Errorf("latest = v%d, want only the two interfering commits", v)
	}
}

func TestEngine_RunAllIsolatesProjectFailures(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{{ID: "a", UpdatedAt: 1, Checksum: "x"}},
		pages:   map[string]*snapshot.Page{"a": remotePage("a", "x", "alpha")},
	}
	e, store := testEngine(t, remote)

	// First project fails at LISTING, the second still commits.
	remote.listErr = errors.New("down")
	if _, err := e.Run(context.Background(), "broken"); err == nil {
		t.Fatal("expected broken project to fail")
	}
	remote.listErr = nil

	reports, err := e.RunAll(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(reports) != 2 || !reports[0].Success() || !reports[1].Success() {
		t.Errorf("reports = %+v, want two successful runs", reports)
	}
	for _, p := range []string{"one", "two"} {
		if latest, _ := store.Latest(p); latest == nil {
			t.Errorf("project %s has no committed snapshot", p)
		}
	}
}

// phaseRecorder captures notifier callbacks.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []Phase
	final  *Report
}

func (p *phaseRecorder) PhaseChanged(runID, project string, phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *phaseRecorder) RunFinished(report *Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.final = report
}

func TestEngine_NotifierSeesPhaseOrder(t *testing.T) {
	remote := &fakeRemote{
		listing: snapshot.Listing{{ID: "a", UpdatedAt: 1, Checksum: "x"}},
		pages:   map[string]*snapshot.Page{"a": remotePage("a", "x", "alpha")},
	}
	e, _ := testEngine(t, remote)
	rec := &phaseRecorder{}
	e.SetNotifier(rec)

	if _, err := e.Run(context.Background(), "demo"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []Phase{PhaseListing, PhaseDiffing, PhaseFetching, PhaseBuilding, PhaseCommitting}
	if len(rec.phases) != len(want) {
		t.Fatalf("phases = %v, want %v", rec.phases, want)
	}
	for i := range want {
		if rec.phases[i] != want[i] {
			t.Errorf("phases[%d] = %s, want %s", i, rec.phases[i], want[i])
		}
	}
	if rec.final == nil || !rec.final.Success() {
		t.Errorf("final report = %+v, want successful run", rec.final)
	}
}
