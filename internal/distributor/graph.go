package distributor

import (
	"context"
	"log"
	"time"

	"github.com/pavandhadge/datadistributor/internal/audit"
	"github.com/pavandhadge/datadistributor/internal/cooperative"
	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/teamdir"
	"github.com/pavandhadge/datadistributor/internal/wiggler"
)

// wiggleInterval is how often the graph checks each wiggler for a server
// that has become necessary to roll.
const wiggleInterval = 30 * time.Second

// DefaultGraph is the steady-state ensemble §4.4/§6.4 describes: the shard
// metrics tracker, the team directory, the primary/remote wigglers, and the
// audit table. It drains one bootstrap pass's relocations, records their
// resulting metrics, and then idles polling the wiggler queues and the ctx
// until something ends the pass.
type DefaultGraph struct {
	Tracker   *ddstate.MemTracker
	Directory *teamdir.Directory
	Primary   *wiggler.Wiggler
	Remote    *wiggler.Wiggler
	Audits    *audit.Supervisor
	Stats     wiggler.StatsStore

	// OnWiggle is called with the server GetNextServerID selects, after
	// the round has been persisted as started; the out-of-scope
	// storage-recruitment path (actually draining and replacing the
	// server) is the caller's problem, this graph only decides *which*
	// server is due and records the round.
	OnWiggle func(ctx context.Context, serverID string, remote bool)
}

// NewDefaultGraph wires the collaborators §6.4 lists into one Graph.
func NewDefaultGraph(tracker *ddstate.MemTracker, directory *teamdir.Directory, primary, remote *wiggler.Wiggler, audits *audit.Supervisor, stats wiggler.StatsStore) *DefaultGraph {
	return &DefaultGraph{Tracker: tracker, Directory: directory, Primary: primary, Remote: remote, Audits: audits, Stats: stats}
}

// Run drains relocations into the tracker, then idles servicing the wiggler
// queues on wiggleInterval until ctx is cancelled.
func (g *DefaultGraph) Run(ctx context.Context, relocations []*ddstate.RelocateShard) error {
	for _, r := range relocations {
		if err := cooperative.Yield(ctx); err != nil {
			return err
		}
		g.Tracker.Record(ddstate.ShardMetrics{Range: r.Keys})
		log.Printf("distributor: relocated %s reason=%v priority=%d", r.Keys, r.Reason, r.Priority)
	}

	ticker := time.NewTicker(wiggleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.pollWiggler(ctx, g.Primary, false)
			g.pollWiggler(ctx, g.Remote, true)
		}
	}
}

func (g *DefaultGraph) pollWiggler(ctx context.Context, w *wiggler.Wiggler, remote bool) {
	if w == nil || w.Len() == 0 {
		return
	}
	id, ok := w.GetNextServerID(true, time.Now())
	if !ok {
		return
	}
	role := "primary"
	if remote {
		role = "remote"
	}
	if g.Stats != nil {
		if err := wiggler.StartWiggle(g.Stats, role, id, alwaysStartNewRound); err != nil {
			log.Printf("distributor: persist wiggle round start for %s: %v", id, err)
		}
	}
	log.Printf("distributor: wiggling server %s remote=%v", id, remote)
	if g.OnWiggle != nil {
		g.OnWiggle(ctx, id, remote)
	}
	if g.Stats != nil {
		if err := wiggler.FinishWiggle(g.Stats, role, id, alwaysFinishRound); err != nil {
			log.Printf("distributor: persist wiggle round finish for %s: %v", id, err)
		}
	}
}

func alwaysStartNewRound(wiggler.RoundStats) bool { return true }
func alwaysFinishRound(wiggler.RoundStats) bool   { return true }
