package distributor

import (
	"errors"
	"sync"
)

// Blob-restore handshake failure kinds (§4.8, §7).
var (
	ErrNotBlobMigrator     = errors.New("prepare_blob_restore_forbidden")
	ErrConflictBlobRestore = errors.New("conflict_blob_restore")
	ErrConflictSnapshot    = errors.New("conflict_snapshot")
)

// BlobRestoreState tracks the single in-flight blob-restore preparation, if
// any, giving PrepareBlobRestoreRequest exactly-once semantics keyed by
// requester id.
type BlobRestoreState struct {
	mu          sync.Mutex
	preparing   bool
	requesterID string
}

// TryPrepareBlobRestore honours the request only when isBlobMigrator is
// true. A retry from the same requester while already preparing is
// idempotent and succeeds again (raising the config-changed signal once
// more is harmless, the main loop rebuilds the graph either way); a request
// from a different requester, or one arriving while a snapshot is already
// in flight, is rejected with the appropriate typed conflict.
func (b *BlobRestoreState) TryPrepareBlobRestore(requesterID string, isBlobMigrator bool, snapshotInProgress func() bool, raiseConfigChanged func()) error {
	if !isBlobMigrator {
		return ErrNotBlobMigrator
	}
	if snapshotInProgress() {
		return ErrConflictSnapshot
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.preparing && b.requesterID != requesterID {
		return ErrConflictBlobRestore
	}

	b.preparing = true
	b.requesterID = requesterID
	raiseConfigChanged()
	return nil
}

// ClearBlobRestore releases the in-flight marker once the migrator finishes
// or abandons the restore.
func (b *BlobRestoreState) ClearBlobRestore() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preparing = false
	b.requesterID = ""
}
