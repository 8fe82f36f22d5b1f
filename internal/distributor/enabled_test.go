package distributor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnabledState_WaitEnabledUnblocksOnSetEnabled(t *testing.T) {
	es := NewEnabledState(false)
	done := make(chan struct{})

	go func() {
		_ = es.WaitEnabled(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitEnabled returned before SetEnabled(true)")
	case <-time.After(20 * time.Millisecond):
	}

	es.SetEnabled(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitEnabled did not unblock after SetEnabled(true)")
	}
}

func TestEnabledState_WaitEnabledReturnsImmediatelyIfAlreadyEnabled(t *testing.T) {
	es := NewEnabledState(true)
	require.NoError(t, es.WaitEnabled(context.Background()))
}

func TestEnabledState_ContextCancellationUnblocks(t *testing.T) {
	es := NewEnabledState(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := es.WaitEnabled(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
