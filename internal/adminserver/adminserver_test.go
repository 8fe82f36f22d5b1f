package adminserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavandhadge/datadistributor/internal/audit"
	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/distributor"
	"github.com/pavandhadge/datadistributor/internal/teamdir"
	"github.com/pavandhadge/datadistributor/internal/txn"
	"github.com/pavandhadge/datadistributor/internal/wiggler"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	metrics []ddstate.ShardMetrics
}

func (f fakeTracker) ShardMetricsFor(r ddstate.KeyRange) (ddstate.ShardMetrics, bool) {
	return ddstate.ShardMetrics{}, false
}
func (f fakeTracker) AllShardMetrics() []ddstate.ShardMetrics { return f.metrics }

func TestHandleMetrics_MidOnlyReturnsMedian(t *testing.T) {
	s := New(&Server{Tracker: fakeTracker{metrics: []ddstate.ShardMetrics{
		{Bytes: 300}, {Bytes: 100}, {Bytes: 200},
	}}})

	req := httptest.NewRequest(http.MethodGet, "/admin/metrics?midOnly=true", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp metricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(200), resp.MidShardSize)
}

func TestHandleHalt_NotWiredReturns503(t *testing.T) {
	s := New(&Server{Tracker: fakeTracker{}})
	req := httptest.NewRequest(http.MethodPost, "/admin/halt", bytes.NewBufferString(`{"requesterId":"op"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHalt_InvokesCallback(t *testing.T) {
	var got string
	s := New(&Server{Tracker: fakeTracker{}, Halt: func(requesterID string) { got = requesterID }})
	req := httptest.NewRequest(http.MethodPost, "/admin/halt", bytes.NewBufferString(`{"requesterId":"operator-1"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "operator-1", got)
}

func TestHandleExclusionSafetyCheck_RejectsWithOneTeam(t *testing.T) {
	dir := teamdir.New()
	dir.SetTeams(ddstate.RolePrimary, []ddstate.Team{{ID: "t1", Role: ddstate.RolePrimary}}, map[string]bool{"t1": true})

	s := New(&Server{Tracker: fakeTracker{}, Directory: dir})
	req := httptest.NewRequest(http.MethodPost, "/admin/exclusion-safety-check", bytes.NewBufferString(`{"exclusions":[]}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleExclusionSafetyCheck_SafeWithEnoughTeams(t *testing.T) {
	dir := teamdir.New()
	dir.SetTeams(ddstate.RolePrimary, []ddstate.Team{
		{ID: "t1", Role: ddstate.RolePrimary}, {ID: "t2", Role: ddstate.RolePrimary},
	}, map[string]bool{"t1": true, "t2": true})

	s := New(&Server{Tracker: fakeTracker{}, Directory: dir})
	req := httptest.NewRequest(http.MethodPost, "/admin/exclusion-safety-check", bytes.NewBufferString(`{"exclusions":[]}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp exclusionSafetyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Safe)
}

func TestHandleWigglerState_ReportsSizes(t *testing.T) {
	primary := wiggler.New(wiggler.MinSSAge)
	primary.AddServer("s1", ddstate.StorageMetadata{})
	remote := wiggler.New(wiggler.MinSSAge)

	s := New(&Server{Tracker: fakeTracker{}, WigglerPrimary: primary, WigglerRemote: remote})
	req := httptest.NewRequest(http.MethodGet, "/admin/wiggler-state", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp wigglerStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Primary.Size)
	require.Equal(t, 0, resp.Remote.Size)
}

type fakeDispatcher struct{}

func (fakeDispatcher) DoAuditOnStorageServer(ctx context.Context, auditType ddstate.AuditType, target audit.Target, subRange ddstate.KeyRange) error {
	return nil
}

type fakeAuditTxn struct{ txn.TxnProcessor }

func (fakeAuditTxn) PersistNewAuditState(ctx context.Context, lock txn.MoveKeysLock, state ddstate.AuditStorageState) (string, error) {
	return "audit-xyz", nil
}
func (fakeAuditTxn) PersistAuditState(ctx context.Context, lock txn.MoveKeysLock, state ddstate.AuditStorageState) error {
	return nil
}
func (fakeAuditTxn) GetAuditStateByRange(ctx context.Context, auditType ddstate.AuditType, r ddstate.KeyRange) ([]ddstate.AuditStorageState, error) {
	return []ddstate.AuditStorageState{{Type: auditType, Range: r, Phase: ddstate.AuditComplete}}, nil
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestHandleTriggerAudit_UnknownTypeIsBadRequest(t *testing.T) {
	sup := audit.New(audit.Config{
		Txn:        fakeAuditTxn{},
		Dispatcher: fakeDispatcher{},
		Replicas: func(ctx context.Context, r ddstate.KeyRange) (audit.SubRangeReplicas, error) {
			return audit.SubRangeReplicas{}, nil
		},
		Initialized:      closedChan(),
		AuditInitialized: closedChan(),
	})

	s := New(&Server{Tracker: fakeTracker{}, Audits: sup})
	req := httptest.NewRequest(http.MethodPost, "/admin/audit", bytes.NewBufferString(`{"type":"NotARealType"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePrepareBlobRestore_RejectsNonMigrator(t *testing.T) {
	s := New(&Server{
		Tracker:        fakeTracker{},
		BlobRestore:    &distributor.BlobRestoreState{},
		BlobMigratorID: "migrator-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/blob-restore/prepare", bytes.NewBufferString(`{"requesterId":"not-the-migrator"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlePrepareBlobRestore_SucceedsForMigrator(t *testing.T) {
	raised := false
	s := New(&Server{
		Tracker:            fakeTracker{},
		BlobRestore:        &distributor.BlobRestoreState{},
		BlobMigratorID:     "migrator-1",
		RaiseConfigChanged: func() { raised = true },
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/blob-restore/prepare", bytes.NewBufferString(`{"requesterId":"migrator-1"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, raised)

	var resp prepareBlobRestoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "SUCCESS", resp.Status)
}

func TestHandleSnapshot_NotWiredReturns503(t *testing.T) {
	s := New(&Server{Tracker: fakeTracker{}})
	req := httptest.NewRequest(http.MethodPost, "/admin/snapshot", bytes.NewBufferString(`{"snapUid":"u1","snapPayload":"p"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
