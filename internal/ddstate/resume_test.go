package ddstate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func key(i int) []byte { return []byte(fmt.Sprintf("k%03d", i)) }

// TestResumeFromShards_RecoverMoveParallelism covers scenario 2: N shards
// all hasDest=true with an anonymous move id emit RelocateShard items in
// key order up to the parallelism bound; the rest are registered but do not
// emit, and shards with hasDest=false never emit.
func TestResumeFromShards_RecoverMoveParallelism(t *testing.T) {
	const n = 20
	init := &InitialDataDistribution{
		ConfigStorageTeamSize: 1,
		LargeTeamsEnabled:     false,
	}
	for i := 0; i < n; i++ {
		var end []byte
		if i < n-1 {
			end = key(i + 1)
		}
		init.Shards = append(init.Shards, &Shard{
			Range:      KeyRange{Begin: key(i), End: end},
			PrimarySrc: []string{"s1"},
			HasDest:    true,
			DestID:     AnonymousShard,
		})
	}
	// trailing shards with no tracked move at all
	for i := 0; i < 5; i++ {
		init.Shards = append(init.Shards, &Shard{
			Range:      KeyRange{Begin: key(n + i), End: key(n + i + 1)},
			PrimarySrc: []string{"s1"},
			HasDest:    false,
		})
	}

	live := NewShardsAffectedByTeamFailure()
	out, err := ResumeFromShards(context.Background(), live, init, ResumeConfig{})
	require.NoError(t, err)
	require.Len(t, out, DefaultMoveKeysParallelism)

	for i, item := range out {
		require.Equal(t, ReasonRecoverMove, item.Reason)
		require.Equal(t, PriorityRecoverMove, item.Priority)
		require.Equal(t, AnonymousShard, item.DataMoveID)
		require.False(t, item.Cancelled)
		require.Equal(t, key(i), item.Keys.Begin)
	}
	require.NoError(t, live.VerifyPartition())
}

// TestResumeFromShards_SplitFragment covers scenario 3: a custom-range
// boundary inside a shard produces two sub-ranges sharing the same team;
// only the second (the one starting at the boundary) emits SPLIT_SHARD.
func TestResumeFromShards_SplitFragment(t *testing.T) {
	init := &InitialDataDistribution{
		ConfigStorageTeamSize: 1,
		LargeTeamsEnabled:     true,
		CustomRangeBoundaries: []CustomRangeConfig{{Boundary: []byte("b"), Replicas: 1}},
		Shards: []*Shard{
			{
				Range:      KeyRange{Begin: []byte("a"), End: []byte("c")},
				PrimarySrc: []string{"s1"},
			},
		},
	}

	live := NewShardsAffectedByTeamFailure()
	out, err := ResumeFromShards(context.Background(), live, init, ResumeConfig{})
	require.NoError(t, err)

	all := live.All()
	require.Len(t, all, 4) // [nil,a), [a,b), [b,c), [c,nil)
	require.Equal(t, []byte("a"), all[1].Range.Begin)
	require.Equal(t, []byte("b"), all[1].Range.End)
	require.Equal(t, []byte("b"), all[2].Range.Begin)
	require.Equal(t, []byte("c"), all[2].Range.End)

	require.Len(t, out, 1)
	require.Equal(t, ReasonSplitShard, out[0].Reason)
	require.Equal(t, []byte("b"), out[0].Keys.Begin)
}

func TestResumeFromDataMoves_CancelledMoveEmitsUndo(t *testing.T) {
	init := &InitialDataDistribution{
		DataMoves: map[string]*DataMove{
			"m1": {ID: "m1", Ranges: []KeyRange{{Begin: []byte("a"), End: []byte("b")}}, Cancelled: true},
		},
	}
	live := NewShardsAffectedByTeamFailure()
	out, err := ResumeFromDataMoves(context.Background(), live, init, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].Cancelled)
	require.Equal(t, "m1", out[0].DataMoveID)
}

func TestResumeFromDataMoves_ValidMovePreserved(t *testing.T) {
	move := &DataMove{
		ID:          "m2",
		Ranges:      []KeyRange{{Begin: []byte("a"), End: []byte("b")}},
		PrimaryDest: Team{ID: "team-a", Servers: []string{"s1"}},
		Valid:       true,
	}
	init := &InitialDataDistribution{DataMoves: map[string]*DataMove{"m2": move}}
	live := NewShardsAffectedByTeamFailure()

	out, err := ResumeFromDataMoves(context.Background(), live, init, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.False(t, out[0].Cancelled)
	require.Equal(t, move, out[0].DataMove)

	s := live.ShardAt([]byte("a"))
	require.True(t, s.HasDest)
	require.Equal(t, "m2", s.DestID)
}

func TestResumeFromDataMoves_SkipsEmptyRangeMove(t *testing.T) {
	init := &InitialDataDistribution{
		DataMoves: map[string]*DataMove{"m3": {ID: "m3", Valid: true}},
	}
	live := NewShardsAffectedByTeamFailure()
	out, err := ResumeFromDataMoves(context.Background(), live, init, true)
	require.NoError(t, err)
	require.Empty(t, out)
}
