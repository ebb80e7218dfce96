// Package admission enforces pre-run capacity controls: concurrent-run
// caps, sliding-window rate limits, and the admission audit trail.
package admission

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for concurrency caps. The HTTP layer maps all admission
// failures to 429 but distinguishes the reason in the response body.
var (
	ErrUserLimitExceeded   = errors.New("per-user concurrent run limit reached")
	ErrGlobalLimitExceeded = errors.New("global concurrent run limit reached")
)

// RateLimitError reports which sliding window rejected the request.
type RateLimitError struct {
	Scope  string // "user", "ip", or "target"
	Key    string
	Limit  int
	Window time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s %q: %d per %s", e.Scope, e.Key, e.Limit, e.Window)
}

// IsLimitError reports whether err is any admission rejection, as opposed
// to an internal failure.
func IsLimitError(err error) bool {
	if errors.Is(err, ErrUserLimitExceeded) || errors.Is(err, ErrGlobalLimitExceeded) {
		return true
	}
	var rle *RateLimitError
	return errors.As(err, &rle)
}
