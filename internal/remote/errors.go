package remote

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/notevault/notevault/internal/schema"
	"github.com/notevault/notevault/internal/snapshot"
)

// FetchError is the typed failure both client operations return. It
// carries the resource, the final failure kind, and how many attempts
// were spent, so callers can record the failure without re-deriving
// any of it.
type FetchError struct {
	Resource string
	Kind     snapshot.FailureKind
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v (%s, %d attempts)", e.Resource, e.Err, e.Kind, e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FailureKind reports the final classification of the failure:
// transient failures might heal on a later run, permanent ones will
// not.
func (e *FetchError) FailureKind() snapshot.FailureKind {
	return e.Kind
}

// FailureAttempts reports how many attempts were made before giving up.
func (e *FetchError) FailureAttempts() int {
	return e.Attempts
}

// statusError is a non-200 response from the remote.
type statusError struct {
	code       int
	status     string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.status)
}

// temporary reports whether the status is worth retrying: 429 and the
// 5xx class. Everything else in the 4xx class will not heal.
func (e *statusError) temporary() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// newStatusError builds a statusError, capturing a Retry-After header
// when the server sent one.
func newStatusError(resp *http.Response) *statusError {
	se := &statusError{code: resp.StatusCode, status: resp.Status}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			se.retryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				se.retryAfter = d
			}
		}
	}
	return se
}

// isTransient classifies an attempt error. Network faults, 429, 5xx,
// and half-open breaker rejections are retried; schema failures, the
// rest of the 4xx class, and an open breaker are not.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.temporary()
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		return false
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var serr *schema.Error
	if errors.As(err, &serr) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	return false
}

// retryAfterHint returns the server-requested retry delay, if the
// error carries one.
func retryAfterHint(err error) time.Duration {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryAfter
	}
	return 0
}
