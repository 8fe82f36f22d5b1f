// Package snapshot implements the cluster-wide crash-consistent snapshot
// protocol (§4.7): storage-before-tlog ordering for crash consistency, a
// per-role fault-tolerance budget, and a dedup ledger keyed by snap UID.
package snapshot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pavandhadge/datadistributor/internal/txn"
)

// MaxStorageSnapshotFaultTolerance and MaxCoordinatorSnapshotFaultTolerance
// are the hard caps on how many replies in each role may fail before the
// protocol aborts, regardless of how generous the computed budget is.
const (
	MaxStorageSnapshotFaultTolerance     = 1
	MaxCoordinatorSnapshotFaultTolerance = 1
	SnapCreateMaxTimeout                 = 2 * time.Minute
	SnapNetworkFailureRetryLimit         = 5
)

// Workers is the out-of-scope storage-server RPC layer's worker directory:
// who to snapshot, grouped by role.
type Workers interface {
	Storages(ctx context.Context) ([]string, error)
	TLogs(ctx context.Context) ([]string, error)
	Coordinators(ctx context.Context) ([]string, error)
}

// Ops is the per-node snapshot RPC surface.
type Ops interface {
	DisableTLogPop(ctx context.Context, tlogID string) error
	EnableTLogPop(ctx context.Context, tlogID string) error
	SnapStorage(ctx context.Context, serverID, uid string) error
	SnapTLog(ctx context.Context, tlogID, uid string) error
	SnapCoordinator(ctx context.Context, coordID, uid string) error
}

// Orchestrator drives ddSnapCreateCore end to end.
type Orchestrator struct {
	txn     txn.TxnProcessor
	workers Workers
	ops     Ops
	ledger  *ledger

	teamSize        int
	storageFailures int

	inProgress atomic.Bool
}

// InProgress reports whether a snapshot is currently running, for the
// blob-restore handshake's mutual-exclusion guard (§4.8).
func (o *Orchestrator) InProgress() bool { return o.inProgress.Load() }

func New(t txn.TxnProcessor, workers Workers, ops Ops, teamSize int) *Orchestrator {
	return &Orchestrator{txn: t, workers: workers, ops: ops, ledger: newLedger(), teamSize: teamSize}
}

// Request handles one DistributorSnapRequest, applying the dedup ledger
// before running the protocol under the overall timeout. Only the caller
// that actually launches the protocol blocks on its own execution;
// everyone else (including a displaced first caller, scenario 6) just
// waits on whatever channel join() handed them.
func (o *Orchestrator) Request(ctx context.Context, uid, payload string) error {
	ch, isOwner := o.ledger.join(uid, payload)
	if isOwner {
		go o.runTimed(uid, payload)
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runTimed(uid, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), SnapCreateMaxTimeout)
	defer cancel()

	o.inProgress.Store(true)
	defer o.inProgress.Store(false)

	err := o.run(ctx, uid)
	if ctx.Err() == context.DeadlineExceeded {
		o.ledger.timeoutAndErase(uid, txn.ErrTimedOut)
		return
	}
	o.ledger.deliver(uid, err)
}

// run implements ddSnapCreateCore's eight steps.
func (o *Orchestrator) run(ctx context.Context, uid string) error {
	if err := o.txn.SetWriteRecoveryKey(ctx); err != nil {
		return err
	}

	tlogs, err := o.workers.TLogs(ctx)
	if err != nil {
		return err
	}
	if err := o.disableTLogPopAll(ctx, tlogs, uid); err != nil {
		return txn.ErrSnapDisableTLogPopFailed
	}

	faultTolerance := min(MaxStorageSnapshotFaultTolerance, o.teamSize-1) - o.storageFailures
	if faultTolerance < 0 {
		o.reenableBestEffort(ctx, tlogs)
		return txn.ErrSnapStorageFailed
	}

	storages, err := o.workers.Storages(ctx)
	if err != nil {
		o.reenableBestEffort(ctx, tlogs)
		return err
	}
	if err := o.snapAll(ctx, storages, uid, faultTolerance, o.ops.SnapStorage, txn.ErrSnapStorageFailed); err != nil {
		o.reenableBestEffort(ctx, tlogs)
		return err
	}

	if err := o.snapAll(ctx, tlogs, uid, 0, o.ops.SnapTLog, txn.ErrSnapTLogFailed); err != nil {
		o.reenableBestEffort(ctx, tlogs)
		return err
	}

	if err := o.enableTLogPopAll(ctx, tlogs, uid); err != nil {
		return txn.ErrSnapEnableTLogPopFailed
	}

	coords, err := o.workers.Coordinators(ctx)
	if err != nil {
		return err
	}
	coordFT := min(max(0, len(coords)/2-1), MaxCoordinatorSnapshotFaultTolerance)
	if err := o.snapAll(ctx, coords, uid, coordFT, o.ops.SnapCoordinator, txn.ErrSnapCoordFailed); err != nil {
		return err
	}

	return o.txn.ClearWriteRecoveryKey(ctx)
}

func (o *Orchestrator) snapAll(ctx context.Context, ids []string, uid string, faultTolerance int, op func(context.Context, string, string) error, onFailure error) error {
	tasks := make([]func(context.Context) error, len(ids))
	for i, id := range ids {
		id := id
		tasks[i] = func(ctx context.Context) error { return withRetry(ctx, func(ctx context.Context) error { return op(ctx, id, uid) }) }
	}
	return WaitForMost(ctx, tasks, faultTolerance, onFailure)
}

func (o *Orchestrator) disableTLogPopAll(ctx context.Context, tlogs []string, uid string) error {
	for _, id := range tlogs {
		if err := withRetry(ctx, func(ctx context.Context) error { return o.ops.DisableTLogPop(ctx, id) }); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) enableTLogPopAll(ctx context.Context, tlogs []string, uid string) error {
	for _, id := range tlogs {
		if err := withRetry(ctx, func(ctx context.Context) error { return o.ops.EnableTLogPop(ctx, id) }); err != nil {
			return err
		}
	}
	return nil
}

// reenableBestEffort re-enables TLog pop on every node, ignoring errors:
// any failure path from step 3 onward must attempt this before propagating
// (§4.7).
func (o *Orchestrator) reenableBestEffort(ctx context.Context, tlogs []string) {
	for _, id := range tlogs {
		_ = o.ops.EnableTLogPop(context.Background(), id)
	}
}

// withRetry retries any error returned by fn (each is treated like a
// request_maybe_delivered failure) up to SnapNetworkFailureRetryLimit times with doubling backoff from
// PreventFastSpinDelay, reusing the same call (and therefore the same
// snap-UID) so duplicate deliveries stay idempotent.
func withRetry(ctx context.Context, fn func(context.Context) error) error {
	delay := PreventFastSpinDelay
	var err error
	for attempt := 0; attempt <= SnapNetworkFailureRetryLimit; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == SnapNetworkFailureRetryLimit {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("snapshot: retries exhausted: %w", err)
}

// PreventFastSpinDelay is the initial backoff network retries double from.
// It is a var (not a const) so tests can shrink it instead of waiting on
// real timers.
var PreventFastSpinDelay = 10 * time.Millisecond
