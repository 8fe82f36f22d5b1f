package ddstate

import (
	"bytes"
	"fmt"
	"sort"
)

// ShardsAffectedByTeamFailure is the live mapping from key range to owning
// teams. Ranges are held sorted by Begin and always tile allKeys with no
// gaps or overlaps; DefineShard/MoveShard are the only mutators, mirroring
// the source's contract that this map is the DD incarnation's exclusive,
// non-atomic, single-scheduler-owned state.
type ShardsAffectedByTeamFailure struct {
	shards []*Shard // sorted by Range.Begin
}

// NewShardsAffectedByTeamFailure seeds the map with a single shard covering
// all of allKeys, unassigned.
func NewShardsAffectedByTeamFailure() *ShardsAffectedByTeamFailure {
	return &ShardsAffectedByTeamFailure{
		shards: []*Shard{{Range: KeyRange{Begin: nil, End: nil}}},
	}
}

func (m *ShardsAffectedByTeamFailure) indexOf(begin []byte) int {
	return sort.Search(len(m.shards), func(i int) bool {
		return bytes.Compare(m.shards[i].Range.Begin, begin) >= 0
	})
}

// ShardAt returns the shard covering key, or nil if the partition doesn't
// yet cover it (should not happen once bootstrap has run).
func (m *ShardsAffectedByTeamFailure) ShardAt(key []byte) *Shard {
	for _, s := range m.shards {
		if s.Range.Contains(key) {
			return s
		}
	}
	return nil
}

// All returns the shard list in key order. Callers must not retain it
// across a mutation.
func (m *ShardsAffectedByTeamFailure) All() []*Shard {
	return m.shards
}

// ShardsIn returns every shard intersecting r, in key order.
func (m *ShardsAffectedByTeamFailure) ShardsIn(r KeyRange) []*Shard {
	var out []*Shard
	for _, s := range m.shards {
		if s.Range.Intersects(r) {
			out = append(out, s)
		}
	}
	return out
}

// DefineShard replaces whatever the map currently holds across r's exact
// span with a single fresh shard, splitting any boundary shard that
// straddles r.Begin or r.End. This is the primitive both bootstrap replay
// (§4.2) and steady-state splits use.
func (m *ShardsAffectedByTeamFailure) DefineShard(r KeyRange) *Shard {
	m.splitAt(r.Begin)
	m.splitAt(r.End)

	start := m.indexOf(r.Begin)
	end := start
	for end < len(m.shards) && (len(r.End) == 0 || bytes.Compare(m.shards[end].Range.Begin, r.End) < 0) {
		end++
	}

	fresh := &Shard{Range: r}
	replaced := append([]*Shard{}, m.shards[:start]...)
	replaced = append(replaced, fresh)
	replaced = append(replaced, m.shards[end:]...)
	m.shards = replaced
	return fresh
}

// splitAt ensures boundary is a shard boundary, splitting the shard that
// currently straddles it (if any) into two shards with identical team
// assignment. A no-op if boundary already falls on an existing boundary or
// is the unbounded end (nil).
func (m *ShardsAffectedByTeamFailure) splitAt(boundary []byte) {
	if boundary == nil {
		return
	}
	for i, s := range m.shards {
		if bytes.Equal(s.Range.Begin, boundary) {
			return
		}
		if !s.Range.Contains(boundary) {
			continue
		}
		left := &Shard{Range: KeyRange{Begin: s.Range.Begin, End: boundary}, PrimarySrc: s.PrimarySrc, RemoteSrc: s.RemoteSrc, PrimaryDest: s.PrimaryDest, RemoteDest: s.RemoteDest, SrcID: s.SrcID, DestID: s.DestID, HasDest: s.HasDest}
		right := &Shard{Range: KeyRange{Begin: boundary, End: s.Range.End}, PrimarySrc: s.PrimarySrc, RemoteSrc: s.RemoteSrc, PrimaryDest: s.PrimaryDest, RemoteDest: s.RemoteDest, SrcID: s.SrcID, DestID: s.DestID, HasDest: s.HasDest}
		out := append([]*Shard{}, m.shards[:i]...)
		out = append(out, left, right)
		out = append(out, m.shards[i+1:]...)
		m.shards = out
		return
	}
}

// MoveShard splits the partition at r's bounds and assigns primary/remote
// destination teams to every shard inside r, marking each as having a
// tracked (or anonymous) move; their source teams are kept.
func (m *ShardsAffectedByTeamFailure) MoveShard(r KeyRange, primaryDest, remoteDest *Team, destID string) {
	m.splitAt(r.Begin)
	m.splitAt(r.End)
	for _, s := range m.ShardsIn(r) {
		s.PrimaryDest = primaryDest
		s.RemoteDest = remoteDest
		s.DestID = destID
		s.HasDest = true
	}
}

// VerifyPartition checks the shard-partition invariant: ranges are
// contiguous, non-overlapping, and the last one is unbounded. The tests
// call it; the main loop does not.
func (m *ShardsAffectedByTeamFailure) VerifyPartition() error {
	if len(m.shards) == 0 {
		return fmt.Errorf("ddstate: empty shard partition")
	}
	if len(m.shards[0].Range.Begin) != 0 {
		return fmt.Errorf("ddstate: partition does not start at allKeys.begin")
	}
	for i := 1; i < len(m.shards); i++ {
		if !bytes.Equal(m.shards[i-1].Range.End, m.shards[i].Range.Begin) {
			return fmt.Errorf("ddstate: gap or overlap between %s and %s", m.shards[i-1].Range, m.shards[i].Range)
		}
	}
	if len(m.shards[len(m.shards)-1].Range.End) != 0 {
		return fmt.Errorf("ddstate: partition does not end at allKeys.end")
	}
	return nil
}

// PhysicalShardID names a coarser grouping of shards that are moved
// together as one unit.
type PhysicalShardID string

// PhysicalShardCollection is an optional coarser grouping of shards into
// physical shards, kept as a plain forward+reverse index; the spec's
// Non-goals exclude reimplementing DDTeamCollection's placement heuristics,
// so this stays a bookkeeping structure with no policy of its own.
type PhysicalShardCollection struct {
	enabled     bool
	byShard     map[string]PhysicalShardID // range key -> physical shard
	byPhysical  map[PhysicalShardID]map[string]bool
}

// NewPhysicalShardCollection returns a collection; when enabled is false
// every method is a no-op, matching the "optional" contract in §3.
func NewPhysicalShardCollection(enabled bool) *PhysicalShardCollection {
	return &PhysicalShardCollection{
		enabled:    enabled,
		byShard:    make(map[string]PhysicalShardID),
		byPhysical: make(map[PhysicalShardID]map[string]bool),
	}
}

func (c *PhysicalShardCollection) Enabled() bool { return c.enabled }

func rangeKey(r KeyRange) string { return string(r.Begin) + "\x00" + string(r.End) }

// Assign records that r belongs to physical shard id.
func (c *PhysicalShardCollection) Assign(r KeyRange, id PhysicalShardID) {
	if !c.enabled {
		return
	}
	k := rangeKey(r)
	if old, ok := c.byShard[k]; ok {
		delete(c.byPhysical[old], k)
	}
	c.byShard[k] = id
	if c.byPhysical[id] == nil {
		c.byPhysical[id] = make(map[string]bool)
	}
	c.byPhysical[id][k] = true
}

// MembersOf returns the range keys currently grouped under id.
func (c *PhysicalShardCollection) MembersOf(id PhysicalShardID) []string {
	if !c.enabled {
		return nil
	}
	out := make([]string, 0, len(c.byPhysical[id]))
	for k := range c.byPhysical[id] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// InitialDataDistribution is the immutable snapshot of shards, data moves,
// and audit states read at bootstrap step 5 (§4.1). It lives until replay
// (§4.2/§4.3) completes and may then be released.
type InitialDataDistribution struct {
	Shards     []*Shard
	DataMoves  map[string]*DataMove
	AuditStates []AuditStorageState

	ConfigStorageTeamSize int
	MultiRegion           bool
	MaxShardsOnLargeTeams int
	// LargeTeamsEnabled gates whether team-unhealthy and split-fragment
	// findings from replay produce RelocateShard items at all (§4.2); when
	// false only recover-move replay (hasDest with an anonymous move) does.
	LargeTeamsEnabled bool

	// CustomRangeBoundaries carries per-range custom replica-count
	// overrides configured by the operator (§4.2 step 1).
	CustomRangeBoundaries []CustomRangeConfig

	// PhysicalShardsEnabled gates whether a valid, preservable data move is
	// kept as-is on replay or undone for lack of physical-shard tracking
	// (§4.3).
	PhysicalShardsEnabled bool
}

// CustomRangeConfig is one operator-configured custom-replica-count
// override for a sub-range of allKeys.
type CustomRangeConfig struct {
	Boundary []byte
	Replicas int
}
