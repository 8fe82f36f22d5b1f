package wiggler

import (
	"testing"
	"time"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/stretchr/testify/require"
)

// TestWiggler_PopOrder covers scenario 1: S2/S3 (wrongConfigured) pop
// before S1/S4 (clean), and within each group oldest first. The fifth pop
// on an empty queue returns not-ok.
func TestWiggler_PopOrder(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	minAge := int64(3600) // 1 hour; only S1 is older, but these pops do not filter on age

	w := New(minAge)

	w.AddServer("S1", ddstate.StorageMetadata{CreatedTime: now.Unix() - 4000, KeyValueStoreType: "BTREE_V2"})
	w.AddServer("S2", ddstate.StorageMetadata{CreatedTime: now.Unix() - 3000, KeyValueStoreType: "MEMORY", WrongConfigured: true})
	w.AddServer("S3", ddstate.StorageMetadata{CreatedTime: now.Unix() - 2000, KeyValueStoreType: "ROCKSDB", WrongConfigured: true})
	w.AddServer("S4", ddstate.StorageMetadata{CreatedTime: now.Unix() - 1000, KeyValueStoreType: "BTREE_V2"})

	var order []string
	for i := 0; i < 4; i++ {
		id, ok := w.GetNextServerID(false, now)
		require.True(t, ok)
		order = append(order, id)
	}
	require.Equal(t, []string{"S2", "S3", "S1", "S4"}, order)

	_, ok := w.GetNextServerID(false, now)
	require.False(t, ok)
}

func TestWiggler_NecessaryOnlyDoesNotPopWhenNotNecessary(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	w := New(3600)
	w.AddServer("S1", ddstate.StorageMetadata{CreatedTime: now.Unix() - 10}) // too young, not flagged

	id, ok := w.GetNextServerID(true, now)
	require.False(t, ok)
	require.Empty(t, id)
	require.True(t, w.Contains("S1"), "necessaryOnly must not pop an unnecessary top")
}

func TestWiggler_HandleCoherence(t *testing.T) {
	w := New(3600)
	w.AddServer("S1", ddstate.StorageMetadata{})
	w.AddServer("S2", ddstate.StorageMetadata{})
	require.True(t, w.Contains("S1"))
	require.Equal(t, 2, w.Len())

	w.RemoveServer("S1")
	require.False(t, w.Contains("S1"))
	require.Equal(t, 1, w.Len())

	w.RemoveServer("S1") // no-op, absent
	require.Equal(t, 1, w.Len())
}

func TestWiggler_UpdateMetadataReorders(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	w := New(3600)
	w.AddServer("S1", ddstate.StorageMetadata{CreatedTime: now.Unix() - 100})
	w.AddServer("S2", ddstate.StorageMetadata{CreatedTime: now.Unix() - 50})

	w.UpdateMetadata("S2", ddstate.StorageMetadata{WrongConfigured: true, CreatedTime: now.Unix() - 50})

	id, ok := w.GetNextServerID(false, now)
	require.True(t, ok)
	require.Equal(t, "S2", id, "flagged server must now sort first")
}
