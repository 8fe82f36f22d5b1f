package teamdir

import (
	"testing"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/stretchr/testify/require"
)

func TestDirectory_RandomHealthyTeamExcludesUnhealthy(t *testing.T) {
	d := New()
	d.SetTeams(ddstate.RolePrimary,
		[]ddstate.Team{{ID: "t1"}, {ID: "t2"}},
		map[string]bool{"t1": false, "t2": true},
	)

	for i := 0; i < 10; i++ {
		team, err := d.RandomHealthyTeam(ddstate.RolePrimary)
		require.NoError(t, err)
		require.Equal(t, "t2", team.ID)
	}
}

func TestDirectory_RandomHealthyTeamNoneHealthy(t *testing.T) {
	d := New()
	d.SetTeams(ddstate.RolePrimary, []ddstate.Team{{ID: "t1"}}, map[string]bool{"t1": false})

	_, err := d.RandomHealthyTeam(ddstate.RolePrimary)
	require.ErrorIs(t, err, ErrNoHealthyTeam)
}

func TestDirectory_ExclusionSafetyCheck_RejectsAtMostOneTeam(t *testing.T) {
	d := New()
	d.SetTeams(ddstate.RolePrimary, []ddstate.Team{{ID: "t1"}}, map[string]bool{"t1": true})

	_, err := d.ExclusionSafetyCheck(nil, func([]string) bool { return true })
	require.ErrorIs(t, err, ErrExclusionUnsafe)
}

func TestDirectory_ExclusionSafetyCheck_DelegatesWhenEnoughTeams(t *testing.T) {
	d := New()
	d.SetTeams(ddstate.RolePrimary, []ddstate.Team{{ID: "t1"}, {ID: "t2"}}, map[string]bool{"t1": true, "t2": true})
	d.AddServer("s1", ddstate.StorageMetadata{})

	safe, err := d.ExclusionSafetyCheck([]AddressExclusion{{Address: "s1"}}, func(ids []string) bool {
		return len(ids) == 1 && ids[0] == "s1"
	})
	require.NoError(t, err)
	require.True(t, safe)
}
