package models

import (
	"errors"
	"fmt"
	"time"
)

// Messaging and store operations surface a small closed set of error kinds.
// Callers branch on these to decide between retry, skip and abort; anything
// else is treated as a generic failure for the page or member at hand.
var (
	// ErrNotFound means the messaging object is already gone. Deletes treat
	// it as success; edits fall back to creating a fresh message.
	ErrNotFound = errors.New("message not found")

	// ErrPermissionDenied means the platform rejected the operation outright.
	// The operation is logged and skipped, never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrGroupNotFound is returned by the store for an unknown group id.
	ErrGroupNotFound = errors.New("group not configured")

	// ErrIDNotFound means the profile source carried no character id.
	ErrIDNotFound = errors.New("character id not found")
)

// RateLimitedError carries the platform-provided wait before the operation
// may be retried.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimited unwraps err to a RateLimitedError if it is one.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
