package distributor

import (
	"context"
	"log"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/txn"
)

// Fencer is the leadership-fence surface Bootstrap needs from *raftnode.Node
// (kept as an interface so tests can stand in a fake without a real raft
// cluster).
type Fencer interface {
	WaitForLeadership(ctx context.Context) error
	Fence() error
}

// BootstrapResult is the atomic snapshot handed to the main supervision loop
// once the state machine below reaches a stable, enabled configuration.
type BootstrapResult struct {
	Lock   txn.MoveKeysLock
	Config txn.DatabaseConfiguration
	Init   *ddstate.InitialDataDistribution
}

// Bootstrap runs the five-step state machine (§4.1), repeating until DD is
// enabled and the lock is held cleanly. The move-keys lock is modeled as
// raft leadership: WaitForLeadership blocks until this process is the
// fenced owner, and Fence proves that ownership still holds at the moment
// the persisted lock row is written, so two DD incarnations can never both
// decide to act on the same InitialDataDistribution snapshot.
func Bootstrap(ctx context.Context, es *EnabledState, node Fencer, t txn.TxnProcessor, ownerID string) (*BootstrapResult, error) {
	for {
		if err := es.WaitEnabled(ctx); err != nil {
			return nil, err
		}

		if err := node.WaitForLeadership(ctx); err != nil {
			return nil, err
		}
		if err := node.Fence(); err != nil {
			log.Printf("distributor: lost leadership while fencing, restarting bootstrap: %v", err)
			continue
		}

		lock, err := t.TakeMoveKeysLock(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		cfg, err := t.GetDatabaseConfiguration(ctx)
		if err != nil {
			return nil, err
		}
		if err := t.UpdateReplicaKeys(ctx, cfg.PrimaryDC, cfg.RemoteDC); err != nil {
			return nil, err
		}

		init, err := t.GetInitialDataDistribution(ctx)
		if err != nil {
			return nil, err
		}

		if !es.IsEnabled() {
			ranges := rangesOf(init)
			emitDisabledMetrics(ctx, es, ranges, func(ddstate.ShardMetrics) {})
			continue
		}

		return &BootstrapResult{Lock: lock, Config: cfg, Init: init}, nil
	}
}

func rangesOf(init *ddstate.InitialDataDistribution) []ddstate.KeyRange {
	if init == nil {
		return nil
	}
	ranges := make([]ddstate.KeyRange, 0, len(init.Shards))
	for _, s := range init.Shards {
		ranges = append(ranges, s.Range)
	}
	return ranges
}
