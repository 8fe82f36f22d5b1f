// Package audit implements the DDAudit supervisor (§4.6): lifecycle and
// retry for long-running storage-consistency audits, at most one running
// audit per AuditType, with child failures absorbed rather than cancelling
// siblings.
package audit

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/pavandhadge/datadistributor/internal/cooperative"
	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/txn"
)

// DefaultAuditRetryCountMax is AUDIT_RETRY_COUNT_MAX.
const DefaultAuditRetryCountMax = 5

// retryBackoff is the brief wait between a retry decision and re-launching
// dispatch, matching the source's "wait briefly" between attempts.
var retryBackoff = 200 * time.Millisecond

// Dispatcher executes the actual per-server audit RPC; the storage-server
// RPC layer itself is out of scope (§1) and supplied by the caller.
type Dispatcher interface {
	DoAuditOnStorageServer(ctx context.Context, auditType ddstate.AuditType, target Target, subRange ddstate.KeyRange) error
}

// ReplicaLookup resolves the current replica membership for a sub-range,
// standing in for the out-of-scope DDTeamCollection/tracker pair.
type ReplicaLookup func(ctx context.Context, r ddstate.KeyRange) (SubRangeReplicas, error)

// ServerDirectory lists the storage servers ValidateStorageServerShard fans
// out across.
type ServerDirectory interface {
	NonTSSServers(ctx context.Context) ([]string, error)
}

// Supervisor owns the audits table (type -> id -> Audit) and the state
// machine driving each entry through launch/dispatch/progress/completion.
type Supervisor struct {
	mu    sync.Mutex
	table map[ddstate.AuditType]map[string]*Audit

	txn        txn.TxnProcessor
	lock       txn.MoveKeysLock
	dispatcher Dispatcher
	replicas   ReplicaLookup
	directory  ServerDirectory

	retryMax int

	initialized      <-chan struct{}
	auditInitialized <-chan struct{}
	ddEnabled        func() bool
}

// Config wires a Supervisor to its collaborators.
type Config struct {
	Txn              txn.TxnProcessor
	Lock             txn.MoveKeysLock
	Dispatcher       Dispatcher
	Replicas         ReplicaLookup
	Directory        ServerDirectory
	Initialized      <-chan struct{}
	AuditInitialized <-chan struct{}
	DDEnabled        func() bool
	RetryMax         int
}

func New(cfg Config) *Supervisor {
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = DefaultAuditRetryCountMax
	}
	return &Supervisor{
		table:            make(map[ddstate.AuditType]map[string]*Audit),
		txn:              cfg.Txn,
		lock:             cfg.Lock,
		dispatcher:       cfg.Dispatcher,
		replicas:         cfg.Replicas,
		directory:        cfg.Directory,
		retryMax:         retryMax,
		initialized:      cfg.Initialized,
		auditInitialized: cfg.AuditInitialized,
		ddEnabled:        cfg.DDEnabled,
	}
}

// LaunchAudit implements §4.6's launch step.
func (s *Supervisor) LaunchAudit(ctx context.Context, r ddstate.KeyRange, auditType ddstate.AuditType) (string, error) {
	if err := s.waitInitialized(ctx); err != nil {
		return "", err
	}

	if id, ok := s.findCoveringRunning(auditType, r); ok {
		return id, nil
	}
	if s.existsRunning(auditType) {
		return "", txn.ErrAuditExceededRequestLimit
	}

	if s.ddEnabled != nil && !s.ddEnabled() {
		return "", txn.ErrAuditStorageFailed
	}

	state := ddstate.AuditStorageState{Type: auditType, Range: r, Phase: ddstate.AuditRunning}
	var id string
	var err error
	for attempt := 0; attempt <= s.retryMax; attempt++ {
		id, err = s.txn.PersistNewAuditState(ctx, s.lock, state)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", txn.ErrAuditStorageFailed
	}
	state.ID = id

	a := newAudit(state)
	s.mu.Lock()
	if s.table[auditType] == nil {
		s.table[auditType] = make(map[string]*Audit)
	}
	s.table[auditType][id] = a
	s.mu.Unlock()

	go s.runAuditStorage(context.Background(), a, "Launch")
	return id, nil
}

func (s *Supervisor) waitInitialized(ctx context.Context) error {
	for _, ch := range []<-chan struct{}{s.initialized, s.auditInitialized} {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Supervisor) findCoveringRunning(auditType ddstate.AuditType, r ddstate.KeyRange) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.table[auditType] {
		a.mu.Lock()
		phase := a.CoreState.Phase
		coveringRange := a.CoreState.Range
		a.mu.Unlock()
		if phase == ddstate.AuditRunning && rangeCovers(coveringRange, r) {
			return id, true
		}
	}
	return "", false
}

// existsRunning reports whether any audit of auditType is already Running.
// Called only after findCoveringRunning has missed, so every entry seen
// here is by construction non-covering: per §4.6/§8, at most one
// non-covering audit of a given type may run at a time, and a second
// request must be rejected rather than queued alongside it.
func (s *Supervisor) existsRunning(auditType ddstate.AuditType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.table[auditType] {
		a.mu.Lock()
		phase := a.CoreState.Phase
		a.mu.Unlock()
		if phase == ddstate.AuditRunning {
			return true
		}
	}
	return false
}

func (s *Supervisor) remove(auditType ddstate.AuditType, id string) {
	s.mu.Lock()
	delete(s.table[auditType], id)
	s.mu.Unlock()
}

// runAuditStorage is auditStorageCore: dispatch, wait, then decide
// Complete/Error/Failed/retry.
func (s *Supervisor) runAuditStorage(ctx context.Context, a *Audit, reason string) {
	childCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.Actors = NewActorCollection(cancel)
	auditType := a.CoreState.Type
	auditRange := a.CoreState.Range
	a.mu.Unlock()

	err := s.loadAndDispatchAudit(childCtx, a, auditType, auditRange)
	a.Actors.Wait()
	cancel()

	if err != nil {
		s.handleDispatchError(ctx, a, err)
		return
	}

	a.mu.Lock()
	foundError := a.FoundError
	anyChildFailed := a.AnyChildAuditFailed
	a.mu.Unlock()

	switch {
	case foundError:
		s.persistTerminal(ctx, a, ddstate.AuditError)
	case anyChildFailed:
		a.mu.Lock()
		a.AnyChildAuditFailed = false
		a.mu.Unlock()
		s.retryOrFail(ctx, a, fmt.Errorf("audit: a child task failed"))
	default:
		s.persistTerminal(ctx, a, ddstate.AuditComplete)
	}
}

func (s *Supervisor) handleDispatchError(ctx context.Context, a *Audit, err error) {
	if err == context.Canceled || err == txn.ErrActorCancelled || err == txn.ErrMoveKeysConflict {
		s.remove(a.CoreState.Type, a.CoreState.ID)
		return
	}
	s.retryOrFail(ctx, a, err)
}

func (s *Supervisor) retryOrFail(ctx context.Context, a *Audit, cause error) {
	a.mu.Lock()
	retryCount := a.RetryCount
	a.mu.Unlock()

	if retryCount < s.retryMax && cause != txn.ErrNotImplemented {
		a.mu.Lock()
		a.RetryCount++
		a.mu.Unlock()
		a.Cancel()
		time.Sleep(retryBackoff)
		go s.runAuditStorage(ctx, a, "Retry")
		return
	}
	s.persistTerminal(ctx, a, ddstate.AuditFailed)
}

// persistTerminal writes the terminal phase and removes the in-memory
// supervisor. A persistence failure here leaves a zombie: the table entry
// is still removed, but the persisted phase stays Running until a future
// DD resumes it or the client times it out — accepted per §4.6.
func (s *Supervisor) persistTerminal(ctx context.Context, a *Audit, phase ddstate.AuditPhase) {
	a.mu.Lock()
	a.CoreState.Phase = phase
	state := a.CoreState
	a.mu.Unlock()

	if err := s.txn.PersistAuditState(ctx, s.lock, state); err != nil {
		log.Printf("audit: zombie record for %s/%s: terminal persist failed: %v", state.Type, state.ID, err)
	}
	s.remove(state.Type, state.ID)
}

// loadAndDispatchAudit branches by type (§4.6 "Dispatch").
func (s *Supervisor) loadAndDispatchAudit(ctx context.Context, a *Audit, auditType ddstate.AuditType, r ddstate.KeyRange) error {
	switch auditType {
	case ddstate.AuditValidateStorageServerShard:
		return s.dispatchPerServer(ctx, a, auditType)
	case ddstate.AuditValidateLocationMetadata:
		return s.makeAuditProgressOnRange(ctx, a, auditType, ddstate.KeyRange{})
	default: // ValidateHA, ValidateReplica
		return s.makeAuditProgressOnRange(ctx, a, auditType, r)
	}
}

func (s *Supervisor) dispatchPerServer(ctx context.Context, a *Audit, auditType ddstate.AuditType) error {
	if s.directory == nil {
		return txn.ErrNotImplemented
	}
	servers, err := s.directory.NonTSSServers(ctx)
	if err != nil {
		return err
	}
	for _, server := range servers {
		if err := cooperative.Yield(ctx); err != nil {
			return err
		}
		server := server
		a.Actors.Go(func() error {
			return s.doAuditOnStorageServer(ctx, a, auditType, Target{Server: server}, ddstate.KeyRange{})
		})
	}
	return nil
}

// makeAuditProgressOnRange walks persisted per-range audit states in order,
// scheduling the actual audit on any sub-range still Invalid (§4.6
// "Progress iteration").
func (s *Supervisor) makeAuditProgressOnRange(ctx context.Context, a *Audit, auditType ddstate.AuditType, r ddstate.KeyRange) error {
	states, err := s.txn.GetAuditStateByRange(ctx, auditType, r)
	if err != nil {
		return err
	}
	for _, st := range states {
		if err := cooperative.Yield(ctx); err != nil {
			return err
		}
		if st.Phase != ddstate.AuditInvalid {
			continue
		}
		subRange := st.Range
		var replicas SubRangeReplicas
		if s.replicas != nil {
			replicas, err = s.replicas(ctx, subRange)
			if err != nil {
				return err
			}
		}
		target := scheduleAuditOnRange(auditType, replicas)
		if target.Skipped {
			continue
		}
		a.Actors.Go(func() error {
			return s.doAuditOnStorageServer(ctx, a, auditType, target, subRange)
		})
	}
	return nil
}

// doAuditOnStorageServer runs one child audit task and records its
// Complete/Error outcome, matching §4.6: an Error is a final finding
// (foundError=true), not retried; an unexpected exception marks only
// anyChildAuditFailed, never cancelling siblings.
func (s *Supervisor) doAuditOnStorageServer(ctx context.Context, a *Audit, auditType ddstate.AuditType, target Target, subRange ddstate.KeyRange) error {
	err := s.dispatcher.DoAuditOnStorageServer(ctx, auditType, target, subRange)
	if err == nil {
		if len(subRange.Begin) != 0 || len(subRange.End) != 0 {
			_ = s.txn.PersistAuditState(ctx, s.lock, ddstate.AuditStorageState{Type: auditType, Range: subRange, Phase: ddstate.AuditComplete})
		}
		return nil
	}
	if err == txn.ErrAuditStorageError {
		a.markFoundError()
		if len(subRange.Begin) != 0 || len(subRange.End) != 0 {
			_ = s.txn.PersistAuditState(ctx, s.lock, ddstate.AuditStorageState{Type: auditType, Range: subRange, Phase: ddstate.AuditError})
		}
		return nil
	}
	a.markChildFailed()
	return nil
}

// ResumeOnRestart implements §4.6's "resume on restart": cancel any
// in-memory audits (none exist yet on a fresh boot; this matters when
// ResumeOnRestart is called after a graph rebuild), then relaunch every
// persisted Running audit with retryCount reset.
func (s *Supervisor) ResumeOnRestart(ctx context.Context, states []ddstate.AuditStorageState) {
	s.mu.Lock()
	for _, byID := range s.table {
		for _, a := range byID {
			a.Cancel()
		}
	}
	s.table = make(map[ddstate.AuditType]map[string]*Audit)
	s.mu.Unlock()

	for _, st := range states {
		if !st.Phase.Terminal() && st.Phase != ddstate.AuditInvalid {
			a := newAudit(st)
			s.mu.Lock()
			if s.table[st.Type] == nil {
				s.table[st.Type] = make(map[string]*Audit)
			}
			s.table[st.Type][st.ID] = a
			s.mu.Unlock()
			go s.runAuditStorage(ctx, a, "ResumeAudit")
		}
	}
}

// runAuditJobOnOneRandomServer is present but unused, exactly as the
// source's ValidateLocationMetadata dispatcher keeps it commented out
// (§9): kept defined, intentionally never called.
func (s *Supervisor) runAuditJobOnOneRandomServer(ctx context.Context, servers []string, r ddstate.KeyRange) error {
	if len(servers) == 0 {
		return nil
	}
	return s.dispatcher.DoAuditOnStorageServer(ctx, ddstate.AuditValidateLocationMetadata, Target{Server: servers[rand.Intn(len(servers))]}, r)
}
