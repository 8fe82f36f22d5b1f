// Package raftnode gives the distributor a singleton-leadership fence: the
// Go-native analogue of the move-keys lock's "only one DD incarnation may
// mutate metadata at a time" guarantee. It deliberately does not replicate
// DD domain state through the raft log — shards, teams, and audits are
// reconstructed from internal/txn at bootstrap (§4.1 step 5), not from a
// replicated FSM — so the FSM here is a no-op: leadership itself is the
// fenced resource.
package raftnode

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

const (
	retainSnapshotCount = 2
	applyTimeout        = 10 * time.Second
)

// Config is the wiring a node needs to join or bootstrap the fencing raft
// group.
type Config struct {
	NodeID     string
	ListenAddr string
	DataDir    string
	Bootstrap  bool
}

// Node wraps *raft.Raft with the narrow surface the distributor needs:
// knowing whether it currently holds leadership, and blocking until it
// does (or until ctx is done).
type Node struct {
	raft *raft.Raft
	fsm  *fencingFSM
}

// fencingFSM is an intentionally empty raft.FSM: Apply/Snapshot/Restore all
// no-op. Leadership changes, not log entries, are what fence out a prior DD
// incarnation here.
type fencingFSM struct{}

func (fencingFSM) Apply(*raft.Log) interface{}        { return nil }
func (fencingFSM) Snapshot() (raft.FSMSnapshot, error) { return fencingSnapshot{}, nil }
func (fencingFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type fencingSnapshot struct{}

func (fencingSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (fencingSnapshot) Release()                              {}

// New starts (or joins) the fencing raft group.
func New(cfg Config) (*Node, error) {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	transport, err := raft.NewTCPTransport(cfg.ListenAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, err
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, retainSnapshotCount, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("file snapshot store: %w", err)
	}

	logStore, err := openLogStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("new bolt store: %w", err)
	}

	fsm := &fencingFSM{}
	ra, err := raft.NewRaft(raftConfig, fsm, logStore, logStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr()}},
		}
		ra.BootstrapCluster(configuration)
	}

	return &Node{raft: ra, fsm: fsm}, nil
}

func openLogStore(path string) (*raftboltdb.BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return raftboltdb.NewBoltStore(path)
}

// IsLeader reports whether this node currently holds the fence.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// WaitForLeadership blocks until this node becomes leader or ctx is done,
// polling the leadership channel the way the bootstrap state machine's
// "wait until the lock is held" step (§4.1 step 2) needs.
func (n *Node) WaitForLeadership(ctx context.Context) error {
	if n.IsLeader() {
		return nil
	}
	ch := n.raft.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-ch:
			if isLeader {
				return nil
			}
		}
	}
}

// Fence performs a trivial no-op log append. A successful Apply proves this
// node is (still) the leader at the moment of the call, giving callers a
// synchronous "do I still hold the lock" check equivalent to
// pollMoveKeysLock, without maintaining any replicated DD state.
func (n *Node) Fence() error {
	future := n.raft.Apply(nil, applyTimeout)
	return future.Error()
}

// Shutdown releases the raft node's resources.
func (n *Node) Shutdown() error {
	return n.raft.Shutdown().Error()
}
