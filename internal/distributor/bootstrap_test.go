package distributor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/txn"
	"github.com/stretchr/testify/require"
)

type fakeFencer struct {
	waitErr   error
	fenceErrs []error // consumed in order, then nil forever
	fenceCall int32
}

func (f *fakeFencer) WaitForLeadership(ctx context.Context) error { return f.waitErr }

func (f *fakeFencer) Fence() error {
	i := atomic.AddInt32(&f.fenceCall, 1) - 1
	if int(i) < len(f.fenceErrs) {
		return f.fenceErrs[i]
	}
	return nil
}

type fakeTxn struct {
	lockOwner string
	cfg       txn.DatabaseConfiguration
	init      *ddstate.InitialDataDistribution

	removedKeysFor []string
	removedServers []string
	teamsPassed    []ddstate.Team
}

func (f *fakeTxn) TakeMoveKeysLock(ctx context.Context, myOwner string) (txn.MoveKeysLock, error) {
	f.lockOwner = myOwner
	return txn.MoveKeysLock{MyOwner: myOwner}, nil
}
func (f *fakeTxn) PollMoveKeysLock(ctx context.Context, lock txn.MoveKeysLock) error { return nil }
func (f *fakeTxn) GetDatabaseConfiguration(ctx context.Context) (txn.DatabaseConfiguration, error) {
	return f.cfg, nil
}
func (f *fakeTxn) UpdateReplicaKeys(ctx context.Context, primaryDC, remoteDC string) error {
	return nil
}
func (f *fakeTxn) GetInitialDataDistribution(ctx context.Context) (*ddstate.InitialDataDistribution, error) {
	return f.init, nil
}
func (f *fakeTxn) RemoveKeysFromFailedServer(ctx context.Context, serverID string, team ddstate.Team) error {
	f.removedKeysFor = append(f.removedKeysFor, serverID)
	f.teamsPassed = append(f.teamsPassed, team)
	return nil
}
func (f *fakeTxn) RemoveStorageServer(ctx context.Context, serverID string) error {
	f.removedServers = append(f.removedServers, serverID)
	return nil
}
func (f *fakeTxn) GetServerListAndProcessClasses(ctx context.Context) ([]txn.ServerListEntry, error) {
	return nil, nil
}
func (f *fakeTxn) GetSourceServerInterfacesForRange(ctx context.Context, r ddstate.KeyRange) ([]string, error) {
	return nil, nil
}
func (f *fakeTxn) PersistNewAuditState(ctx context.Context, lock txn.MoveKeysLock, state ddstate.AuditStorageState) (string, error) {
	return "", nil
}
func (f *fakeTxn) PersistAuditState(ctx context.Context, lock txn.MoveKeysLock, state ddstate.AuditStorageState) error {
	return nil
}
func (f *fakeTxn) GetAuditStateByRange(ctx context.Context, auditType ddstate.AuditType, r ddstate.KeyRange) ([]ddstate.AuditStorageState, error) {
	return nil, nil
}
func (f *fakeTxn) GetAuditStateByServer(ctx context.Context, auditType ddstate.AuditType, serverID string) ([]ddstate.AuditStorageState, error) {
	return nil, nil
}
func (f *fakeTxn) DeleteDataMoveTombstone(ctx context.Context, moveID string) error { return nil }
func (f *fakeTxn) SetWriteRecoveryKey(ctx context.Context) error                    { return nil }
func (f *fakeTxn) ClearWriteRecoveryKey(ctx context.Context) error                  { return nil }

func emptyInit() *ddstate.InitialDataDistribution {
	return &ddstate.InitialDataDistribution{DataMoves: map[string]*ddstate.DataMove{}}
}

func TestBootstrap_WaitsForEnabledThenSucceeds(t *testing.T) {
	es := NewEnabledState(false)
	fencer := &fakeFencer{}
	tx := &fakeTxn{cfg: txn.DatabaseConfiguration{StorageTeamSize: 3}, init: emptyInit()}

	go func() {
		time.Sleep(10 * time.Millisecond)
		es.SetEnabled(true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := Bootstrap(ctx, es, fencer, tx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, 3, result.Config.StorageTeamSize)
	require.Equal(t, "owner-1", tx.lockOwner)
}

func TestBootstrap_RestartsOnFenceFailure(t *testing.T) {
	es := NewEnabledState(true)
	fencer := &fakeFencer{fenceErrs: []error{errors.New("lost leadership"), errors.New("lost leadership"), nil}}
	tx := &fakeTxn{init: emptyInit()}

	result, err := Bootstrap(context.Background(), es, fencer, tx, "owner-2")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.GreaterOrEqual(t, int(fencer.fenceCall), 3)
}

func TestBootstrap_PropagatesContextCancellation(t *testing.T) {
	es := NewEnabledState(false)
	fencer := &fakeFencer{}
	tx := &fakeTxn{init: emptyInit()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Bootstrap(ctx, es, fencer, tx, "owner-3")
	require.ErrorIs(t, err, context.Canceled)
}
