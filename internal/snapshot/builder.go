package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// FailureKind classifies a fetch failure.
type FailureKind string

const (
	// FailureTransient marks failures that might succeed on a later
	// run (network faults, rate limiting, server errors).
	FailureTransient FailureKind = "transient"

	// FailurePermanent marks failures that will not heal by retrying
	// (malformed payloads, missing pages, exhausted retry budgets).
	FailurePermanent FailureKind = "permanent"
)

// Failure records one page that could not be fetched during a build.
type Failure struct {
	ID       string      `json:"id"`
	Kind     FailureKind `json:"kind"`
	Attempts int         `json:"attempts"`
	Err      string      `json:"error,omitempty"`
}

// failureDetail is implemented by fetch errors that carry retry
// metadata, so the builder can report kind and attempt count without
// depending on the client that produced them.
type failureDetail interface {
	FailureKind() FailureKind
	FailureAttempts() int
}

// ThresholdError is returned when too large a fraction of the listing
// failed to fetch. Committing the result would record a badly degraded
// backup as if it were complete, so the build refuses to produce one.
type ThresholdError struct {
	Failed    int
	Listed    int
	Threshold float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("build aborted: %d of %d pages failed, exceeds failure threshold %.2f",
		e.Failed, e.Listed, e.Threshold)
}

// FetchFunc retrieves one page by id. Implementations must return a
// fully validated page or an error, never a partially decoded page.
type FetchFunc func(ctx context.Context, id string) (*Page, error)

// BuildConfig controls the diff and fetch behavior of a build.
type BuildConfig struct {
	// MaxInFlight bounds the number of concurrent page fetches.
	MaxInFlight int

	// FailureThreshold is the fraction of the listing allowed to fail
	// before the build is abandoned. Zero means any failure is fatal.
	FailureThreshold float64
}

// DefaultBuildConfig returns the build defaults: 4 concurrent fetches,
// up to a quarter of the listing tolerated as failed.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		MaxInFlight:      4,
		FailureThreshold: 0.25,
	}
}

// Result is the outcome of a successful build.
type Result struct {
	// Snapshot is the assembled candidate, ready to commit.
	Snapshot *Snapshot

	// Info is the snapshot's summary sidecar.
	Info Info

	// Failures lists the pages omitted from the snapshot because they
	// could not be fetched. Always below the configured threshold.
	Failures []Failure

	// Fetched, Reused, and Dropped count how each page in the diff was
	// handled: downloaded fresh, carried over from the previous
	// version, or removed because the listing no longer names it.
	Fetched int
	Reused  int
	Dropped int
}

// Builder assembles snapshots by diffing a remote listing against the
// previous version and fetching only what changed.
type Builder struct {
	cfg    BuildConfig
	logger *log.Logger
}

// NewBuilder creates a Builder. If logger is nil, a default logger
// writing to stderr is used.
func NewBuilder(cfg BuildConfig, logger *log.Logger) *Builder {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[build] ", log.LstdFlags)
	}
	return &Builder{
		cfg:    cfg,
		logger: logger,
	}
}

// Build produces the next snapshot for a project. For each listing
// entry whose checksum matches the previous version, the prior page is
// reused without a fetch; everything else is fetched through fetch with
// bounded concurrency. Pages present in prev but absent from the
// listing are dropped. prev may be nil for the first version.
//
// Failed pages are omitted from the snapshot and reported in the
// result, unless the failed fraction of the listing exceeds the
// configured threshold, in which case no snapshot is produced and a
// ThresholdError is returned. Cancellation abandons the build with the
// context's error.
//
// The result is deterministic for a given listing and page content,
// independent of the order in which fetches complete.
func (b *Builder) Build(ctx context.Context, project string, prev *Snapshot, listing Listing, fetch FetchFunc) (*Result, error) {
	version := int64(1)
	if prev != nil {
		version = prev.Version + 1
	}

	pages := make(map[string]*Page, len(listing))
	var toFetch []ListingEntry
	reused := 0

	for _, entry := range listing {
		if prev != nil {
			if p, ok := prev.Pages[entry.ID]; ok && p.Checksum == entry.Checksum {
				pages[entry.ID] = p
				reused++
				continue
			}
		}
		toFetch = append(toFetch, entry)
	}

	dropped := 0
	if prev != nil {
		listed := make(map[string]bool, len(listing))
		for _, entry := range listing {
			listed[entry.ID] = true
		}
		for id := range prev.Pages {
			if !listed[id] {
				dropped++
			}
		}
	}

	b.logger.Printf("Building %s v%d: %d listed, %d to fetch, %d reused, %d dropped",
		project, version, len(listing), len(toFetch), reused, dropped)

	fetched, failures, err := b.fetchAll(ctx, toFetch, fetch)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		pages[id] = p
	}

	if len(listing) > 0 {
		ratio := float64(len(failures)) / float64(len(listing))
		if ratio > b.cfg.FailureThreshold {
			return nil, &ThresholdError{
				Failed:    len(failures),
				Listed:    len(listing),
				Threshold: b.cfg.FailureThreshold,
			}
		}
	}

	snap := &Snapshot{
		Project:   project,
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Pages:     pages,
	}

	return &Result{
		Snapshot: snap,
		Info:     MakeInfo(snap, len(failures)),
		Failures: failures,
		Fetched:  len(fetched),
		Reused:   reused,
		Dropped:  dropped,
	}, nil
}

// fetchAll runs the fetches with a bounded worker pool. Results are
// keyed by page id, so completion order cannot affect the outcome.
func (b *Builder) fetchAll(ctx context.Context, entries []ListingEntry, fetch FetchFunc) (map[string]*Page, []Failure, error) {
	fetched := make(map[string]*Page, len(entries))
	var failures []Failure

	if len(entries) == 0 {
		return fetched, nil, ctx.Err()
	}

	workers := b.cfg.MaxInFlight
	if workers > len(entries) {
		workers = len(entries)
	}

	jobs := make(chan ListingEntry)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				page, err := fetch(ctx, entry.ID)
				if err == nil && page != nil && page.ID != entry.ID {
					err = fmt.Errorf("fetched page id %q does not match requested id %q", page.ID, entry.ID)
				}
				if err == nil && page == nil {
					err = errors.New("fetch returned no page and no error")
				}

				mu.Lock()
				if err != nil {
					failures = append(failures, newFailure(entry.ID, err))
				} else {
					fetched[entry.ID] = page
				}
				mu.Unlock()
			}
		}()
	}

send:
	for _, entry := range entries {
		select {
		case jobs <- entry:
		case <-ctx.Done():
			break send
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// Report failures in a stable order regardless of completion order.
	sort.Slice(failures, func(i, j int) bool { return failures[i].ID < failures[j].ID })
	for _, f := range failures {
		b.logger.Printf("WARNING: page %s failed (%s after %d attempts): %s", f.ID, f.Kind, f.Attempts, f.Err)
	}

	return fetched, failures, nil
}

// newFailure converts a fetch error into a Failure record, pulling
// kind and attempt count from the error when it carries them.
func newFailure(id string, err error) Failure {
	f := Failure{
		ID:       id,
		Kind:     FailurePermanent,
		Attempts: 1,
		Err:      err.Error(),
	}
	var detail failureDetail
	if errors.As(err, &detail) {
		f.Kind = detail.FailureKind()
		f.Attempts = detail.FailureAttempts()
	}
	return f
}
