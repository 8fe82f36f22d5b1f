package distributor

import (
	"context"
	"testing"
	"time"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/teamdir"
	"github.com/pavandhadge/datadistributor/internal/wiggler"
	"github.com/stretchr/testify/require"
)

type fakeStatsStore struct {
	rounds map[string]wiggler.RoundStats
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{rounds: make(map[string]wiggler.RoundStats)}
}

func (s *fakeStatsStore) PersistWiggleRound(role string, stats wiggler.RoundStats) error {
	s.rounds[role] = stats
	return nil
}

func (s *fakeStatsStore) LoadWiggleRound(role string) (wiggler.RoundStats, error) {
	return s.rounds[role], nil
}

func TestDefaultGraph_RecordsRelocationsIntoTracker(t *testing.T) {
	tracker := ddstate.NewMemTracker()
	g := NewDefaultGraph(tracker, teamdir.New(), wiggler.New(0), wiggler.New(0), nil, newFakeStatsStore())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	relocations := []*ddstate.RelocateShard{
		{Keys: ddstate.KeyRange{Begin: []byte("a"), End: []byte("b")}},
	}
	err := g.Run(ctx, relocations)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, ok := tracker.ShardMetricsFor(ddstate.KeyRange{Begin: []byte("a"), End: []byte("b")})
	require.True(t, ok)
	require.Equal(t, []byte("a"), got.Range.Begin)
}

func TestDefaultGraph_WigglesNecessaryServerAndPersistsRound(t *testing.T) {
	primary := wiggler.New(0)
	primary.AddServer("s1", ddstate.StorageMetadata{WrongConfigured: true})

	stats := newFakeStatsStore()
	g := NewDefaultGraph(ddstate.NewMemTracker(), teamdir.New(), primary, wiggler.New(0), nil, stats)

	var wiggled string
	g.OnWiggle = func(ctx context.Context, serverID string, remote bool) { wiggled = serverID }

	g.pollWiggler(context.Background(), g.Primary, false)

	require.Equal(t, "s1", wiggled)
	require.True(t, stats.rounds["primary"].Finished)
	require.False(t, primary.Contains("s1"))
}

func TestDefaultGraph_SkipsUnnecessaryWiggle(t *testing.T) {
	primary := wiggler.New(1 << 30)
	primary.AddServer("s1", ddstate.StorageMetadata{CreatedTime: time.Now().Unix()})

	g := NewDefaultGraph(ddstate.NewMemTracker(), teamdir.New(), primary, wiggler.New(0), nil, newFakeStatsStore())

	var wiggled bool
	g.OnWiggle = func(ctx context.Context, serverID string, remote bool) { wiggled = true }

	g.pollWiggler(context.Background(), g.Primary, false)

	require.False(t, wiggled)
	require.True(t, primary.Contains("s1"))
}
