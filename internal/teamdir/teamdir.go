// Package teamdir stands in for DDTeamCollection: the external
// team-formation engine whose own selection heuristics are explicitly out
// of scope. It exposes just the narrow surface the core actually calls
// into — picking a random healthy team and checking exclusion safety —
// grounded on the candidate-filtering shape of the teacher's own
// reconciliation pass.
package teamdir

import (
	"errors"
	"math/rand"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
)

// ErrNoHealthyTeam is returned when no team satisfies the health
// predicate; §4.4's removeFailedServer handler must not proceed without
// one.
var ErrNoHealthyTeam = errors.New("teamdir: no healthy team available")

// ErrExclusionUnsafe is returned when the exclusion safety check would
// leave the cluster with at most one team, per §4.9.
var ErrExclusionUnsafe = errors.New("teamdir: exclusion unsafe, at most one team would remain")

// Directory is a simplistic server/team directory: servers by id and the
// teams currently formed from them, per region role.
type Directory struct {
	servers map[string]ddstate.StorageMetadata
	teams   map[ddstate.TeamRole][]ddstate.Team
	healthy map[string]bool // team ID -> health
}

func New() *Directory {
	return &Directory{
		servers: make(map[string]ddstate.StorageMetadata),
		teams:   make(map[ddstate.TeamRole][]ddstate.Team),
		healthy: make(map[string]bool),
	}
}

// AddServer registers a server's directory entry (address resolution for
// §4.9's AddressExclusion translation).
func (d *Directory) AddServer(id string, meta ddstate.StorageMetadata) {
	d.servers[id] = meta
}

// SetTeams replaces the team list for role, along with each team's health.
func (d *Directory) SetTeams(role ddstate.TeamRole, teams []ddstate.Team, healthyByID map[string]bool) {
	d.teams[role] = teams
	for id, h := range healthyByID {
		d.healthy[id] = h
	}
}

// RandomHealthyTeam returns a uniformly random healthy team for role, or
// ErrNoHealthyTeam if none qualify. Used by the removeFailedServer handler
// in §4.4 to pick a replacement team for removeKeysFromFailedServer.
func (d *Directory) RandomHealthyTeam(role ddstate.TeamRole) (ddstate.Team, error) {
	var candidates []ddstate.Team
	for _, t := range d.teams[role] {
		if d.healthy[t.ID] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return ddstate.Team{}, ErrNoHealthyTeam
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// TeamCount returns the number of teams currently formed for role,
// regardless of health — used by ExclusionSafetyCheck's "≤1 team" guard.
func (d *Directory) TeamCount(role ddstate.TeamRole) int {
	return len(d.teams[role])
}

// AddressExclusion names a server to exclude by address, resolved to a
// server id via the directory before delegating to the team collection.
type AddressExclusion struct {
	Address string
}

// ResolveToServerID maps an AddressExclusion to the currently-known server
// id with that address, if any. The directory here keys servers by id
// directly (no separate address table), so this is the identity mapping;
// a real deployment's directory would carry an address->id index.
func (d *Directory) ResolveToServerID(ex AddressExclusion) (string, bool) {
	if _, ok := d.servers[ex.Address]; ok {
		return ex.Address, true
	}
	return "", false
}

// ExclusionSafetyCheck translates exclusions to server ids and delegates to
// the (out-of-scope) team collection's own safety predicate, but first
// rejects outright if the cluster has at most one primary team (remote
// teams are not counted), since team-building would stall (§4.9).
func (d *Directory) ExclusionSafetyCheck(exclusions []AddressExclusion, teamCollectionSafe func([]string) bool) (bool, error) {
	if d.TeamCount(ddstate.RolePrimary) <= 1 {
		return false, ErrExclusionUnsafe
	}
	ids := make([]string, 0, len(exclusions))
	for _, ex := range exclusions {
		if id, ok := d.ResolveToServerID(ex); ok {
			ids = append(ids, id)
		}
	}
	return teamCollectionSafe(ids), nil
}
