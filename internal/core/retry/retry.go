// Package retry implements bounded retry with linear backoff for the
// deployment executor, plus the transient/fatal classification of container
// runtime and registry errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Predicate determines whether an error should be retried.
type Predicate func(error) bool

// Policy controls retry behavior. A failing operation is attempted at most
// Retries+1 times in total, waiting Backoff * attempt_number between tries.
type Policy struct {
	Retries int
	Backoff time.Duration
}

// ExhaustedError reports that every attempt failed with a transient error.
// It wraps the error of the last attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts, last error: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do executes fn under the policy. Fatal errors surface immediately;
// transient errors are retried until the attempt budget runs out, at which
// point the last error is wrapped in an ExhaustedError.
func Do(ctx context.Context, p Policy, transient Predicate, fn func(context.Context) error) error {
	if transient == nil {
		transient = IsTransient
	}
	total := p.Retries + 1
	if total < 1 {
		total = 1
	}

	var err error
	for attempt := 1; attempt <= total; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		if attempt == total {
			break
		}
		if !sleep(ctx, p.delay(attempt)) {
			return ctx.Err()
		}
	}

	return &ExhaustedError{Attempts: total, Err: err}
}

// delay returns the wait before the attempt following attempt n.
func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff <= 0 || attempt < 1 {
		return 0
	}
	return p.Backoff * time.Duration(attempt)
}

// Registry and network failures that resolve on their own. Matched against
// the lowercased error text.
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"temporary failure in name resolution",
	"no such host",
	"unexpected eof",
	"toomanyrequests",
	"too many requests",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"received unexpected http status: 5",
}

// Failures no amount of retrying fixes: bad input, missing images, port
// conflicts, registry auth.
var fatalPatterns = []string{
	"unauthorized",
	"authentication required",
	"denied",
	"forbidden",
	"manifest unknown",
	"repository does not exist",
	"invalid reference format",
	"port is already allocated",
	"address already in use",
}

// IsTransient classifies an error as worth retrying. Unrecognized errors
// are treated as fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	text := strings.ToLower(err.Error())
	for _, pattern := range fatalPatterns {
		if strings.Contains(text, pattern) {
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
