package distributor

import (
	"context"
	"log"
	"time"

	"github.com/pavandhadge/datadistributor/internal/txn"
)

const (
	tombstoneCleanupInterval = 30 * time.Second
	tombstoneMaxRetries      = 3
)

// scheduleTombstoneCleanup runs detached from the main loop: it deletes
// completed data-move tombstones best-effort (§4.3's "background deletion")
// and never fails the DD. It exits when ctx is done. Nothing in this
// package starts it.
func scheduleTombstoneCleanup(ctx context.Context, t txn.TxnProcessor, pending func() []string) {
	ticker := time.NewTicker(tombstoneCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, moveID := range pending() {
				deleteTombstoneWithRetry(ctx, t, moveID)
			}
		}
	}
}

func deleteTombstoneWithRetry(ctx context.Context, t txn.TxnProcessor, moveID string) {
	var err error
	for attempt := 0; attempt < tombstoneMaxRetries; attempt++ {
		if err = t.DeleteDataMoveTombstone(ctx, moveID); err == nil {
			return
		}
	}
	log.Printf("distributor: giving up on tombstone cleanup for data move %s: %v", moveID, err)
}
