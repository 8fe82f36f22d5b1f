package ddstate

import (
	"context"
	"log"

	"github.com/pavandhadge/datadistributor/internal/cooperative"
)

// DefaultMoveKeysParallelism bounds how many recover-move RelocateShard
// items ResumeFromShards will emit in one bootstrap replay; the rest of the
// shards are still registered, just not re-queued for movement on this
// pass, avoiding a thundering herd of shard-tracker restarts.
const DefaultMoveKeysParallelism = 15

// ResumeConfig carries the tunables ResumeFromShards/ResumeFromDataMoves
// need beyond what InitialDataDistribution already states.
type ResumeConfig struct {
	MoveKeysParallelism int
}

func (c ResumeConfig) parallelism() int {
	if c.MoveKeysParallelism > 0 {
		return c.MoveKeysParallelism
	}
	return DefaultMoveKeysParallelism
}

// ResumeFromShards replays init's shard snapshot into live, splitting each
// shard at the custom-range boundaries inside it (both sub-ranges keep the
// shard's teams), classifying health per sub-range, and returning the
// RelocateShard items that must be re-queued (§4.2). It yields cooperatively
// between shards.
func ResumeFromShards(ctx context.Context, live *ShardsAffectedByTeamFailure, init *InitialDataDistribution, cfg ResumeConfig) ([]*RelocateShard, error) {
	for _, cr := range init.CustomRangeBoundaries {
		live.splitAt(cr.Boundary)
	}

	var out []*RelocateShard
	largeTeamCount := 0
	recoverMoveEmitted := 0
	parallelism := cfg.parallelism()

	var shards []*Shard
	for _, sh := range init.Shards {
		parts := []*Shard{sh}
		for _, cr := range init.CustomRangeBoundaries {
			for i, p := range parts {
				if string(cr.Boundary) != string(p.Range.Begin) && p.Range.Contains(cr.Boundary) {
					left, right := *p, *p
					left.Range.End, right.Range.Begin = cr.Boundary, cr.Boundary
					parts = append(parts[:i], append([]*Shard{&left, &right}, parts[i+1:]...)...)
					break
				}
			}
		}
		shards = append(shards, parts...)
	}

	for _, snapShard := range shards {
		if err := cooperative.Yield(ctx); err != nil {
			return out, err
		}

		customReplicas := customReplicasFor(init, snapShard.Range)

		unhealthy := len(snapShard.PrimarySrc) != customReplicas
		if init.MultiRegion && len(snapShard.RemoteSrc) != customReplicas {
			unhealthy = true
		}
		if len(snapShard.PrimarySrc) > init.ConfigStorageTeamSize {
			largeTeamCount++
			if largeTeamCount > init.MaxShardsOnLargeTeams {
				unhealthy = true
			}
		}

		s := live.DefineShard(snapShard.Range)
		s.PrimarySrc = snapShard.PrimarySrc
		s.RemoteSrc = snapShard.RemoteSrc
		s.SrcID = snapShard.SrcID
		if snapShard.HasDest {
			live.MoveShard(snapShard.Range, snapShard.PrimaryDest, snapShard.RemoteDest, snapShard.DestID)
		}

		isSplitFragment := isSplitFragment(init, snapShard.Range)

		switch {
		case init.LargeTeamsEnabled && (unhealthy || isSplitFragment):
			reason := ReasonTeamUnhealthy
			priority := PriorityTeamUnhealthy
			if isSplitFragment {
				reason = ReasonSplitShard
				priority = PrioritySplitShard
			}
			out = append(out, &RelocateShard{
				Keys:       snapShard.Range,
				Priority:   priority,
				Reason:     reason,
				DataMoveID: AnonymousShard,
			})
		case snapShard.HasDest && snapShard.DestID == AnonymousShard:
			if recoverMoveEmitted < parallelism {
				out = append(out, &RelocateShard{
					Keys:       snapShard.Range,
					Priority:   PriorityRecoverMove,
					Reason:     ReasonRecoverMove,
					DataMoveID: AnonymousShard,
				})
				recoverMoveEmitted++
			}
		}
	}
	return out, nil
}

// customReplicasFor returns max(configStorageTeamSize, the operator's
// custom replica count for r), defaulting to configStorageTeamSize when no
// override covers r.
func customReplicasFor(init *InitialDataDistribution, r KeyRange) int {
	replicas := init.ConfigStorageTeamSize
	for _, cr := range init.CustomRangeBoundaries {
		if r.Contains(cr.Boundary) || (len(r.Begin) == 0 && len(cr.Boundary) == 0) {
			if cr.Replicas > replicas {
				replicas = cr.Replicas
			}
		}
	}
	return replicas
}

// isSplitFragment reports whether r begins exactly at a configured
// custom-range boundary, i.e. r is the "second" sub-range produced by a
// split at that boundary (scenario 3: only the fragment starting at the
// boundary emits SPLIT_SHARD). A shard that already began at a boundary is
// reported the same way.
func isSplitFragment(init *InitialDataDistribution, r KeyRange) bool {
	for _, cr := range init.CustomRangeBoundaries {
		if len(r.Begin) != 0 && string(r.Begin) == string(cr.Boundary) {
			return true
		}
	}
	return false
}

// ResumeFromDataMoves awaits completion of ResumeFromShards (the caller is
// responsible for sequencing: this must run after, never concurrently with,
// ResumeFromShards per §4.3) and walks init's data-move map, producing the
// RelocateShard items needed to either resume or unwind each move.
func ResumeFromDataMoves(ctx context.Context, live *ShardsAffectedByTeamFailure, init *InitialDataDistribution, physicalShardsEnabled bool) ([]*RelocateShard, error) {
	var out []*RelocateShard

	for id, move := range init.DataMoves {
		if err := cooperative.Yield(ctx); err != nil {
			return out, err
		}
		if len(move.Ranges) == 0 {
			log.Printf("ddstate: data move %s has no ranges, skipping", id)
			continue
		}

		if move.Cancelled || (move.Valid && !physicalShardsEnabled) {
			for _, r := range move.Ranges {
				out = append(out, &RelocateShard{
					Keys:       r,
					Priority:   PriorityOther,
					Reason:     ReasonOther,
					Cancelled:  true,
					DataMoveID: move.ID,
				})
			}
			continue
		}

		if move.Valid {
			for _, r := range move.Ranges {
				live.MoveShard(r, &move.PrimaryDest, &move.RemoteDest, move.ID)
				out = append(out, &RelocateShard{
					Keys:       r,
					Priority:   PriorityRecoverMove,
					Reason:     ReasonRecoverMove,
					DataMove:   move,
					DataMoveID: move.ID,
				})
			}
		}
	}
	return out, nil
}
