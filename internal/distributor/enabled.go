package distributor

import (
	"context"
	"sync"
)

// EnabledState is the operator toggle bootstrap step 1 waits on and step 6
// checks before letting the graph run. It stands in for DDEnabledState's
// isDDEnabled/setDDEnabled pair.
type EnabledState struct {
	mu      sync.Mutex
	enabled bool
	changed chan struct{}
}

func NewEnabledState(initial bool) *EnabledState {
	return &EnabledState{enabled: initial, changed: make(chan struct{})}
}

func (e *EnabledState) IsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetEnabled flips the toggle and wakes every waiter blocked in WaitEnabled,
// closing the current change channel and swapping in a fresh one so future
// waiters block on the next transition.
func (e *EnabledState) SetEnabled(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enabled == v {
		return
	}
	e.enabled = v
	close(e.changed)
	e.changed = make(chan struct{})
}

// WaitEnabled blocks until the toggle is on or ctx is done.
func (e *EnabledState) WaitEnabled(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.enabled {
			e.mu.Unlock()
			return nil
		}
		ch := e.changed
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
