// Package wiggler implements the StorageWiggler priority queue: storage
// servers eligible for rolling replacement, ordered so that misconfigured
// servers are always wiggled before correctly-configured ones, and among
// equally-configured servers the oldest goes first.
package wiggler

import (
	"container/heap"
	"time"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
)

// entry is one element of the underlying heap; index is maintained by
// container/heap so RemoveServer/updateMetadata can operate in O(log n).
type entry struct {
	id    string
	meta  ddstate.StorageMetadata
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return h[i].meta.Less(h[j].meta)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// MinSSAge is the default DD_STORAGE_WIGGLE_MIN_SS_AGE_SEC: a server not
// flagged wrongConfigured only becomes "necessary" to wiggle once it has
// been alive this long.
const MinSSAge = 60 * 60 * 24 // seconds, one day

// Wiggler is the StorageWiggler priority queue plus the id->handle index
// (§4.5). It is not safe for concurrent use; callers serialize access the
// same way the rest of the core's state is single-scheduler-owned (§5).
type Wiggler struct {
	pq           entryHeap
	handles      map[string]*entry
	minAgeSecs   int64
	lastStateChange time.Time
}

// New returns an empty wiggler using minAgeSecs to decide "necessary" for
// non-flagged servers; minAgeSecs <= 0 uses MinSSAge.
func New(minAgeSecs int64) *Wiggler {
	if minAgeSecs <= 0 {
		minAgeSecs = MinSSAge
	}
	w := &Wiggler{
		handles:    make(map[string]*entry),
		minAgeSecs: minAgeSecs,
	}
	heap.Init(&w.pq)
	return w
}

// AddServer inserts id with meta. Precondition (caller-enforced, per §4.5):
// id must not already be present; a duplicate add is treated as a metadata
// update instead of failing, since the source's precondition violation has
// no meaningful recovery here.
func (w *Wiggler) AddServer(id string, meta ddstate.StorageMetadata) {
	if e, ok := w.handles[id]; ok {
		w.updateEntry(e, meta)
		return
	}
	e := &entry{id: id, meta: meta}
	heap.Push(&w.pq, e)
	w.handles[id] = e
	w.lastStateChange = time.Now()
}

// RemoveServer erases id from both the handle index and the heap. No-op if
// absent.
func (w *Wiggler) RemoveServer(id string) {
	e, ok := w.handles[id]
	if !ok {
		return
	}
	heap.Remove(&w.pq, e.index)
	delete(w.handles, id)
	w.lastStateChange = time.Now()
}

// UpdateMetadata reorders id in place if meta differs from what's stored;
// a no-op otherwise.
func (w *Wiggler) UpdateMetadata(id string, meta ddstate.StorageMetadata) {
	e, ok := w.handles[id]
	if !ok {
		return
	}
	w.updateEntry(e, meta)
}

func (w *Wiggler) updateEntry(e *entry, meta ddstate.StorageMetadata) {
	if e.meta.Equal(meta) {
		return
	}
	e.meta = meta
	heap.Fix(&w.pq, e.index)
	w.lastStateChange = time.Now()
}

// necessary reports whether meta makes a server eligible under
// necessaryOnly mode: flagged wrongConfigured, or older than minAgeSecs.
func (w *Wiggler) necessary(meta ddstate.StorageMetadata, now int64) bool {
	return meta.WrongConfigured || now-meta.CreatedTime > w.minAgeSecs
}

// GetNextServerID returns and removes the minimum-priority server. If
// necessaryOnly is set and the current minimum is not "necessary", it
// returns ("", false) without popping — the caller should try again later
// rather than wiggle a server that doesn't need it yet.
func (w *Wiggler) GetNextServerID(necessaryOnly bool, now time.Time) (string, bool) {
	if w.pq.Len() == 0 {
		return "", false
	}
	top := w.pq[0]
	if necessaryOnly && !w.necessary(top.meta, now.Unix()) {
		return "", false
	}
	heap.Pop(&w.pq)
	delete(w.handles, top.id)
	w.lastStateChange = time.Now()
	return top.id, true
}

// Contains reports whether id currently sits in the queue.
func (w *Wiggler) Contains(id string) bool {
	_, ok := w.handles[id]
	return ok
}

// Len returns the number of servers currently queued.
func (w *Wiggler) Len() int { return w.pq.Len() }

// LastStateChange reports when the queue was last mutated (add, remove, or
// a metadata update that actually changed ordering); used to answer
// GetStorageWigglerStateRequest's optional lastStateChange field.
func (w *Wiggler) LastStateChange() time.Time { return w.lastStateChange }
