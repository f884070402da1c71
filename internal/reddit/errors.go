package reddit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionLost marks a transport failure that is not a timeout.
	// It is fatal to the job.
	ErrConnectionLost = errors.New("connection lost")
	ErrNotFound       = errors.New("not found")
	ErrRemoved        = errors.New("submission removed")
	ErrMalformed      = errors.New("malformed payload")
	ErrAuth           = errors.New("authentication failed")
)

// UpstreamError reports that the platform refused or could not serve a
// request after the transient policy gave up.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: upstream: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimitError is the throttle signal seen on a 429. It only escapes the
// client wrapped in an UpstreamError once the attempt budget is spent.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
