package common

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is cancelled, whichever comes first. All
// pacing and backoff delays go through here so a shutdown interrupts a sweep
// at any suspension point.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
