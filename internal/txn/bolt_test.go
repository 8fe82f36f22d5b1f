package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/wiggler"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *BoltProcessor {
	t.Helper()
	p, err := Open(filepath.Join(t.TempDir(), "dd.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestBoltProcessor_MoveKeysLockFencing(t *testing.T) {
	p := openTest(t)
	ctx := context.Background()

	lockA, err := p.TakeMoveKeysLock(ctx, "dd-a")
	require.NoError(t, err)
	require.NoError(t, p.PollMoveKeysLock(ctx, lockA))

	lockB, err := p.TakeMoveKeysLock(ctx, "dd-b")
	require.NoError(t, err)
	require.Equal(t, "dd-a", lockB.PrevOwner)

	// dd-a's lock is now fenced out.
	require.ErrorIs(t, p.PollMoveKeysLock(ctx, lockA), ErrMoveKeysConflict)
	require.NoError(t, p.PollMoveKeysLock(ctx, lockB))
}

func TestBoltProcessor_AuditStateRoundTrip(t *testing.T) {
	p := openTest(t)
	ctx := context.Background()
	lock, err := p.TakeMoveKeysLock(ctx, "dd-a")
	require.NoError(t, err)

	state := ddstate.AuditStorageState{
		Type:  ddstate.AuditValidateHA,
		Range: ddstate.KeyRange{Begin: []byte("a"), End: []byte("z")},
		Phase: ddstate.AuditRunning,
	}
	id, err := p.PersistNewAuditState(ctx, lock, state)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	found, err := p.GetAuditStateByRange(ctx, ddstate.AuditValidateHA, ddstate.KeyRange{Begin: []byte("m"), End: []byte("n")})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, ddstate.AuditRunning, found[0].Phase)

	state.ID = id
	state.Phase = ddstate.AuditComplete
	require.NoError(t, p.PersistAuditState(ctx, lock, state))

	found, err = p.GetAuditStateByRange(ctx, ddstate.AuditValidateHA, ddstate.KeyRange{Begin: []byte("m"), End: []byte("n")})
	require.NoError(t, err)
	require.Equal(t, ddstate.AuditComplete, found[0].Phase)
}

func TestBoltProcessor_RecoveryKeyToggle(t *testing.T) {
	p := openTest(t)
	ctx := context.Background()
	require.NoError(t, p.SetWriteRecoveryKey(ctx))
	require.NoError(t, p.ClearWriteRecoveryKey(ctx))
}

func TestBoltProcessor_WiggleRoundRoundTrip(t *testing.T) {
	p := openTest(t)
	got, err := p.LoadWiggleRound("primary")
	require.NoError(t, err)
	require.False(t, got.Started)

	require.NoError(t, p.PersistWiggleRound("primary", wiggler.RoundStats{RoundID: "r1", Started: true}))

	got, err = p.LoadWiggleRound("primary")
	require.NoError(t, err)
	require.Equal(t, "r1", got.RoundID)
	require.True(t, got.Started)
}
