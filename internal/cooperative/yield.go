// Package cooperative provides the single suspension-point primitive used
// throughout the distributor: the batch loops that walk shards, data moves,
// or audit sub-ranges yield here between iterations so no one
// task can monopolize the scheduler, and so cancellation is observed
// promptly (§5, "Suspension points").
package cooperative

import (
	"context"
	"runtime"
)

// Yield suspends the calling goroutine briefly and returns ctx.Err() if the
// context has been cancelled. Callers in a batch loop should call this once
// per iteration and return immediately on a non-nil error.
func Yield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	runtime.Gosched()
	return nil
}
