package snapshot

import (
	"sync"
	"time"

	"github.com/pavandhadge/datadistributor/internal/txn"
)

// SnapMinimumTimeGap is how long a completed snapshot's result is replayed
// to duplicate requests bearing the same UID (§4.7 concurrency control).
const SnapMinimumTimeGap = 10 * time.Minute

type ledgerState int

const (
	ledgerInFlight ledgerState = iota
	ledgerComplete
)

type ledgerEntry struct {
	state       ledgerState
	payload     string
	waiter      chan error // the channel the CURRENT owner is waiting on
	err         error
	completedAt time.Time
}

// ledger is the (uid -> state) dedup table for DistributorSnapRequest. It
// dedups per UID only: requests with different UIDs are not stopped from
// running at the same time. Its defining quirk (§8
// scenario 6): when a second request arrives for a UID that is still
// in-flight, the SECOND caller becomes the one waiting on the real
// outcome, and the FIRST caller's wait is immediately satisfied with
// ErrDuplicateSnapshotRequest — the new request "replaces the reply
// promise" rather than being told to go away.
type ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

func newLedger() *ledger {
	return &ledger{entries: make(map[string]*ledgerEntry)}
}

// join registers the caller against uid and returns the channel it should
// wait on, plus whether this caller is the one that must actually run the
// protocol (true only for the very first request, or the first after a
// stale completed entry ages out).
func (l *ledger) join(uid, payload string) (chan error, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[uid]
	if ok && e.state == ledgerComplete && time.Since(e.completedAt) < SnapMinimumTimeGap && e.payload == payload {
		ch := make(chan error, 1)
		ch <- e.err
		return ch, false
	}

	if ok && e.state == ledgerInFlight {
		old := e.waiter
		ch := make(chan error, 1)
		e.waiter = ch
		e.payload = payload
		if old != nil {
			old <- txn.ErrDuplicateSnapshotRequest
		}
		return ch, false
	}

	ch := make(chan error, 1)
	l.entries[uid] = &ledgerEntry{state: ledgerInFlight, payload: payload, waiter: ch}
	return ch, true
}

// deliver records the protocol's real outcome and wakes whichever caller
// currently owns the waiter channel.
func (l *ledger) deliver(uid string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[uid]
	if !ok {
		return
	}
	e.state = ledgerComplete
	e.err = err
	e.completedAt = time.Now()
	if e.waiter != nil {
		e.waiter <- err
	}
}

// timeoutAndErase wakes whoever currently owns uid's waiter with
// ErrTimedOut and removes the entry entirely (§4.7 "Timeout": "reply
// timed_out and erase the in-flight entry").
func (l *ledger) timeoutAndErase(uid string, timedOut error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[uid]
	delete(l.entries, uid)
	if ok && e.waiter != nil {
		e.waiter <- timedOut
	}
}
