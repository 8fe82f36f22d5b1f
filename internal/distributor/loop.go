// Package distributor implements the bootstrap state machine and main
// supervision loop (§4.1, §4.4): the outermost control flow tying
// everything else in this module together.
package distributor

import (
	"context"
	"errors"
	"log"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/teamdir"
	"github.com/pavandhadge/datadistributor/internal/txn"
)

// Graph is the steady-state ensemble the main loop assembles after bootstrap
// + resume: the tracker/queue pair, tenant cache, physical-shard monitor,
// blob-migrator server, and configuration watcher. It runs until one of
// them fails, then reports why so the failure-policy table can decide
// whether to restart or propagate.
type Graph interface {
	// Run blocks, driving relocations to completion, until ctx is
	// cancelled or an error condition described in §4.4 arises.
	Run(ctx context.Context, relocations []*ddstate.RelocateShard) error
}

// GraphBuilder assembles a fresh Graph from one bootstrap+resume cycle's
// state. Called once per pass through the main loop.
type GraphBuilder func(boot *BootstrapResult) (Graph, error)

// FailedServerError is returned by a Graph's Run when its team collection
// has resolved a removeFailedServer condition against a specific server.
type FailedServerError struct {
	ServerID string
	Cause    error
}

func (e *FailedServerError) Error() string {
	return "remove failed server " + e.ServerID + ": " + e.Cause.Error()
}

func (e *FailedServerError) Unwrap() error { return e.Cause }

// Config bundles the identity and tuning knobs the loop needs across
// bootstrap/resume/graph passes.
type Config struct {
	OwnerID   string
	ResumeCfg ddstate.ResumeConfig
}

// Run drives the bootstrap → resume → graph cycle forever, applying the
// §4.4 failure-policy table on every Graph error, until either ctx is
// cancelled or a fatal error propagates.
func Run(ctx context.Context, es *EnabledState, node Fencer, t txn.TxnProcessor, directory *teamdir.Directory, cfg Config, build GraphBuilder) error {
	for {
		boot, err := Bootstrap(ctx, es, node, t, cfg.OwnerID)
		if err != nil {
			return err
		}

		live := ddstate.NewShardsAffectedByTeamFailure()
		shardRelocations, err := ddstate.ResumeFromShards(ctx, live, boot.Init, cfg.ResumeCfg)
		if err != nil {
			return err
		}
		moveRelocations, err := ddstate.ResumeFromDataMoves(ctx, live, boot.Init, boot.Init.PhysicalShardsEnabled)
		if err != nil {
			return err
		}
		relocations := append(shardRelocations, moveRelocations...)

		graph, err := build(boot)
		if err != nil {
			return err
		}

		runErr := graph.Run(ctx, relocations)
		if runErr == nil {
			return nil
		}

		if shouldRestart, propagate := applyFailurePolicy(ctx, es, t, directory, runErr); !shouldRestart {
			return propagate
		}
	}
}

// applyFailurePolicy implements §4.4's table. It returns (true, nil) to
// restart the graph, or (false, err) to propagate err out of Run.
func applyFailurePolicy(ctx context.Context, es *EnabledState, t txn.TxnProcessor, directory *teamdir.Directory, err error) (bool, error) {
	if errors.Is(err, txn.ErrActorCancelled) || errors.Is(err, context.Canceled) {
		return false, err
	}

	var failedServer *FailedServerError
	if errors.As(err, &failedServer) {
		handleFailedServer(ctx, t, directory, failedServer)
		return true, nil
	}

	if errors.Is(err, txn.ErrMoveKeysConflict) || errors.Is(err, txn.ErrConfigChanged) {
		if es.IsEnabled() {
			return true, nil
		}
		return false, err
	}

	if txn.NormalDataDistributorErrors(err) {
		return true, nil
	}

	return false, err
}

// handleFailedServer picks a random healthy team from both regions and
// evicts the failed server's keys before removing it from the server list,
// per §4.4's removeFailedServer row.
func handleFailedServer(ctx context.Context, t txn.TxnProcessor, directory *teamdir.Directory, fs *FailedServerError) {
	pTeam, err := directory.RandomHealthyTeam(ddstate.RolePrimary)
	if err != nil {
		log.Printf("distributor: no healthy primary team to absorb failed server %s: %v", fs.ServerID, err)
		return
	}
	team := pTeam

	if directory.TeamCount(ddstate.RoleRemote) > 0 {
		rTeam, err := directory.RandomHealthyTeam(ddstate.RoleRemote)
		if err != nil {
			log.Printf("distributor: no healthy remote team to absorb failed server %s: %v", fs.ServerID, err)
			return
		}
		team.Servers = append(append([]string{}, pTeam.Servers...), rTeam.Servers...)
	}

	if err := t.RemoveKeysFromFailedServer(ctx, fs.ServerID, team); err != nil {
		log.Printf("distributor: removeKeysFromFailedServer(%s) failed: %v", fs.ServerID, err)
		return
	}
	if err := t.RemoveStorageServer(ctx, fs.ServerID); err != nil {
		log.Printf("distributor: removeStorageServer(%s) failed: %v", fs.ServerID, err)
	}
}
