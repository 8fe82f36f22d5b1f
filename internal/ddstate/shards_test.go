package ddstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardsAffectedByTeamFailure_PartitionInvariant(t *testing.T) {
	m := NewShardsAffectedByTeamFailure()
	require.NoError(t, m.VerifyPartition())

	m.DefineShard(KeyRange{Begin: []byte("m"), End: []byte("z")})
	require.NoError(t, m.VerifyPartition())
	require.Len(t, m.All(), 3)

	m.DefineShard(KeyRange{Begin: []byte("m"), End: []byte("t")})
	require.NoError(t, m.VerifyPartition())
	require.Len(t, m.All(), 4)
}

func TestShardsAffectedByTeamFailure_ShardAt(t *testing.T) {
	m := NewShardsAffectedByTeamFailure()
	m.DefineShard(KeyRange{Begin: []byte("a"), End: []byte("m")})
	m.DefineShard(KeyRange{Begin: []byte("m"), End: nil})

	s := m.ShardAt([]byte("f"))
	require.NotNil(t, s)
	require.Equal(t, []byte("a"), s.Range.Begin)

	s = m.ShardAt([]byte("zzz"))
	require.NotNil(t, s)
	require.Equal(t, []byte("m"), s.Range.Begin)
}

func TestDataMove_ValidateRejectsMismatchedShard(t *testing.T) {
	move := &DataMove{
		ID:          "move-1",
		Ranges:      []KeyRange{{Begin: []byte("a"), End: []byte("b")}},
		PrimaryDest: Team{ID: "team-1", Servers: []string{"s1", "s2"}},
	}
	shard := &Shard{
		Range:       KeyRange{Begin: []byte("a"), End: []byte("b")},
		HasDest:     true,
		DestID:      "move-1",
		PrimaryDest: &Team{ID: "team-1", Servers: []string{"s1", "s3"}}, // s3 not in move dest
	}

	err := move.Validate([]*Shard{shard})
	require.Error(t, err)
	require.True(t, move.Cancelled)
}

func TestDataMove_ValidateAcceptsConsistentShard(t *testing.T) {
	move := &DataMove{
		ID:          "move-1",
		Ranges:      []KeyRange{{Begin: []byte("a"), End: []byte("b")}},
		PrimaryDest: Team{ID: "team-1", Servers: []string{"s1", "s2"}},
	}
	shard := &Shard{
		Range:       KeyRange{Begin: []byte("a"), End: []byte("b")},
		HasDest:     true,
		DestID:      "move-1",
		PrimaryDest: &Team{ID: "team-1", Servers: []string{"s1"}},
	}

	err := move.Validate([]*Shard{shard})
	require.NoError(t, err)
	require.False(t, move.Cancelled)
}

func TestStorageMetadata_Less(t *testing.T) {
	wrongConfigured := StorageMetadata{CreatedTime: 100, WrongConfigured: true}
	oldClean := StorageMetadata{CreatedTime: 1, WrongConfigured: false}

	require.True(t, wrongConfigured.Less(oldClean), "wrongConfigured must sort before older clean servers")
	require.False(t, oldClean.Less(wrongConfigured))
}
