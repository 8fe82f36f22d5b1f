package wiggler

// RoundStats tracks one wiggle round's persisted progress, matching the
// source's startWiggle/finishWiggle idempotency: calling either more than
// once within the same round is a no-op.
type RoundStats struct {
	RoundID     string
	Started     bool
	Finished    bool
	ServersDone int
}

// StatsStore is the persistence surface RoundStats reads/writes through;
// implemented by internal/txn's BoltProcessor, whose wiggle-round writes
// do not check the move-keys lock.
type StatsStore interface {
	PersistWiggleRound(role string, stats RoundStats) error
	LoadWiggleRound(role string) (RoundStats, error)
}

// StartWiggle begins roundID for role if a round with that id has not
// already been started, per shouldStartNewRound.
func StartWiggle(store StatsStore, role, roundID string, shouldStartNewRound func(RoundStats) bool) error {
	cur, err := store.LoadWiggleRound(role)
	if err != nil {
		return err
	}
	if cur.Started && cur.RoundID == roundID {
		return nil
	}
	if !shouldStartNewRound(cur) {
		return nil
	}
	return store.PersistWiggleRound(role, RoundStats{RoundID: roundID, Started: true})
}

// FinishWiggle marks roundID complete for role if not already finished, per
// shouldFinishRound.
func FinishWiggle(store StatsStore, role, roundID string, shouldFinishRound func(RoundStats) bool) error {
	cur, err := store.LoadWiggleRound(role)
	if err != nil {
		return err
	}
	if cur.Finished && cur.RoundID == roundID {
		return nil
	}
	if !shouldFinishRound(cur) {
		return nil
	}
	cur.Finished = true
	return store.PersistWiggleRound(role, cur)
}
