// Package txn implements the TxnProcessor external interface (spec §6):
// every persistent read/write against the cluster's metadata keyspace,
// fenced by the move-keys lock.
package txn

import "errors"

// Error taxonomy (§7) — kinds, not type names. Callers in internal/audit,
// internal/snapshot, and internal/distributor switch on these with
// errors.Is.
var (
	// ErrMoveKeysConflict means another DD has taken the lock; bootstrap
	// must restart (§4.1 step 2).
	ErrMoveKeysConflict = errors.New("movekeys_conflict")

	// ErrConfigChanged signals a DD configuration change that invalidates
	// the current supervision graph (§4.4).
	ErrConfigChanged = errors.New("dd_config_changed")

	// ErrDataMoveCancelled and ErrDataMoveDestTeamNotFound are expected
	// in-flight churn from the relocation pipeline.
	ErrDataMoveCancelled       = errors.New("data_move_cancelled")
	ErrDataMoveDestTeamNotFound = errors.New("data_move_dest_team_not_found")

	// ErrNotImplemented marks a TxnProcessor operation this deployment
	// does not support (e.g. ValidateLocationMetadata on a backend that
	// lacks the needed index).
	ErrNotImplemented = errors.New("not_implemented")

	// Audit errors.
	ErrAuditStorageError             = errors.New("audit_storage_error")
	ErrAuditStorageFailed            = errors.New("audit_storage_failed")
	ErrAuditExceededRequestLimit     = errors.New("audit_storage_exceeded_request_limit")

	// Snapshot errors.
	ErrSnapDisableTLogPopFailed = errors.New("snap_disable_tlog_pop_failed")
	ErrSnapStorageFailed        = errors.New("snap_storage_failed")
	ErrSnapTLogFailed           = errors.New("snap_tlog_failed")
	ErrSnapCoordFailed          = errors.New("snap_coord_failed")
	ErrSnapEnableTLogPopFailed  = errors.New("snap_enable_tlog_pop_failed")
	ErrSnapWithRecoveryUnsupported = errors.New("snap_with_recovery_unsupported")
	ErrDuplicateSnapshotRequest = errors.New("duplicate_snapshot_request")
	ErrTimedOut                 = errors.New("timed_out")

	// Normal-churn errors the main loop restarts the graph on (§4.4).
	ErrBrokenPromise  = errors.New("broken_promise")
	ErrWorkerRemoved  = errors.New("worker_removed")
	ErrPleaseReboot   = errors.New("please_reboot")

	// ErrActorCancelled is the cancellation signal that must always
	// propagate after synchronous cleanup (§5).
	ErrActorCancelled = errors.New("actor_cancelled")
)

// NormalDataDistributorErrors is the membership test for §4.4's "any other
// normal error" row: restart the graph rather than crash the DD.
func NormalDataDistributorErrors(err error) bool {
	switch err {
	case ErrBrokenPromise, ErrDataMoveCancelled, ErrDataMoveDestTeamNotFound,
		ErrWorkerRemoved, ErrPleaseReboot, ErrAuditStorageFailed:
		return true
	default:
		return false
	}
}
