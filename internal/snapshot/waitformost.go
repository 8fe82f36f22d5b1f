package snapshot

import (
	"context"
	"sync"
)

// WaitForMost runs every task concurrently and succeeds once at least
// (len(tasks) - faultTolerance) of them have succeeded; otherwise it fails
// with onFailure. On failure it returns onFailure itself; the tasks' own
// errors are neither returned nor logged.
func WaitForMost(ctx context.Context, tasks []func(context.Context) error, faultTolerance int, onFailure error) error {
	n := len(tasks)
	if n == 0 {
		return nil
	}
	required := n - faultTolerance
	if required <= 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		succeeded int
		failed    int
		firstErr  error
		done      = make(chan struct{})
		once      sync.Once
	)

	for _, task := range tasks {
		task := task
		go func() {
			err := task(ctx)
			mu.Lock()
			if err == nil {
				succeeded++
			} else {
				failed++
				if firstErr == nil {
					firstErr = err
				}
			}
			succeededNow, failedNow := succeeded, failed
			mu.Unlock()

			if succeededNow >= required || failedNow > n-required {
				once.Do(func() { close(done) })
			}
		}()
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	if succeeded >= required {
		return nil
	}
	if firstErr != nil {
		return onFailure
	}
	return onFailure
}
