package audit

import (
	"sync"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
)

// Audit is the in-memory supervisor for one audit run (DDAudit, §3): its
// persisted core state, its live child-task set, and the retry bookkeeping
// the completion step needs.
type Audit struct {
	mu sync.Mutex

	CoreState           ddstate.AuditStorageState
	Actors              *ActorCollection
	FoundError          bool
	AnyChildAuditFailed bool
	RetryCount          int
	Cancelled           bool

	cancel func()
}

func newAudit(state ddstate.AuditStorageState) *Audit {
	return &Audit{CoreState: state}
}

// Cancel marks the audit cancelled and cancels every in-flight child,
// waiting for them to actually stop before returning (§5 synchronous
// cleanup).
func (a *Audit) Cancel() {
	a.mu.Lock()
	a.Cancelled = true
	actors := a.Actors
	a.mu.Unlock()
	if actors != nil {
		actors.Cancel()
	}
}

func (a *Audit) markChildFailed() {
	a.mu.Lock()
	a.AnyChildAuditFailed = true
	a.mu.Unlock()
}

func (a *Audit) markFoundError() {
	a.mu.Lock()
	a.FoundError = true
	a.mu.Unlock()
}

func rangeCovers(outer, inner ddstate.KeyRange) bool {
	if len(outer.Begin) > 0 && (len(inner.Begin) == 0 || string(inner.Begin) < string(outer.Begin)) {
		return false
	}
	if len(outer.End) > 0 {
		if len(inner.End) == 0 || string(inner.End) > string(outer.End) {
			return false
		}
	}
	return true
}
