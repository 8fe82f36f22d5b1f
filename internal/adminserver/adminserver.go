// Package adminserver exposes the Data Distributor's admin RPC surface
// (§6 "served") as plain JSON-over-HTTP, the same idiom the teacher's own
// inter-node control protocol used for its /join handler, plus a bundled
// gRPC health service for liveness probing.
package adminserver

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/pavandhadge/datadistributor/internal/audit"
	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/distributor"
	"github.com/pavandhadge/datadistributor/internal/snapshot"
	"github.com/pavandhadge/datadistributor/internal/teamdir"
	"github.com/pavandhadge/datadistributor/internal/wiggler"
)

// Server wires the admin RPC surface to the core components it fronts.
// Every field is optional. A nil Tracker makes the metrics endpoint reply
// 503; a nil wiggler or TenantsOverQuota leaves its endpoint replying 200
// with empty values, and a nil TeamSafe counts every exclusion as safe.
type Server struct {
	mux *http.ServeMux

	Halt func(requesterID string)

	Tracker ddstate.DDTracker

	Snapshots *snapshot.Orchestrator

	Directory *teamdir.Directory
	// TeamSafe stands in for DDTeamCollection's own exclusion-safety
	// predicate, which is out of scope; it defaults to "always safe" if
	// nil.
	TeamSafe func(serverIDs []string) bool

	WigglerPrimary *wiggler.Wiggler
	WigglerRemote  *wiggler.Wiggler

	Audits *audit.Supervisor

	TenantsOverQuota func() []string

	BlobRestore        *distributor.BlobRestoreState
	BlobMigratorID     string
	SnapshotInProgress func() bool
	RaiseConfigChanged func()
}

// New builds the admin HTTP mux. Call Handler() to get the http.Handler to
// serve.
func New(s *Server) *Server {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/admin/halt", s.handleHalt)
	s.mux.HandleFunc("/admin/metrics", s.handleMetrics)
	s.mux.HandleFunc("/admin/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("/admin/exclusion-safety-check", s.handleExclusionSafetyCheck)
	s.mux.HandleFunc("/admin/wiggler-state", s.handleWigglerState)
	s.mux.HandleFunc("/admin/audit", s.handleTriggerAudit)
	s.mux.HandleFunc("/admin/tenants-over-quota", s.handleTenantsOverQuota)
	s.mux.HandleFunc("/admin/blob-restore/prepare", s.handlePrepareBlobRestore)
	return s
}

// Handler returns the http.Handler to mount (directly, or behind your own
// middleware/TLS listener).
func (s *Server) Handler() http.Handler { return s.mux }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// --- HaltDataDistributor ---

type haltRequest struct {
	RequesterID string `json:"requesterId"`
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req haltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.Halt == nil {
		http.Error(w, "halt not wired", http.StatusServiceUnavailable)
		return
	}
	s.Halt(req.RequesterID)
	w.WriteHeader(http.StatusOK)
}

// --- GetDataDistributorMetrics ---

type metricsResponse struct {
	Shards       []ddstate.ShardMetrics `json:"shards,omitempty"`
	MidShardSize int64                  `json:"midShardSize,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Tracker == nil {
		http.Error(w, "tracker not wired", http.StatusServiceUnavailable)
		return
	}
	all := s.Tracker.AllShardMetrics()

	if shardLimit := r.URL.Query().Get("shardLimit"); shardLimit != "" {
		// Caller asked for a bounded sample; a limit of 0 or a parse
		// failure just means "no limit" here.
		if n := parsePositiveInt(shardLimit); n > 0 && n < len(all) {
			all = all[:n]
		}
	}

	if r.URL.Query().Get("midOnly") == "true" {
		writeJSON(w, http.StatusOK, metricsResponse{MidShardSize: medianShardSize(all)})
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{Shards: all})
}

func parsePositiveInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// medianShardSize returns the nth-element median of the shard-size
// distribution. The corpus carries no dedicated order-statistics library,
// so this is one of the few spots that legitimately falls back to the
// standard library (sort.Slice); see DESIGN.md.
func medianShardSize(all []ddstate.ShardMetrics) int64 {
	if len(all) == 0 {
		return 0
	}
	sizes := make([]int64, len(all))
	for i, m := range all {
		sizes[i] = m.Bytes
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes[len(sizes)/2]
}

// --- DistributorSnapRequest ---

type snapshotRequest struct {
	SnapUID     string `json:"snapUid"`
	SnapPayload string `json:"snapPayload"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Snapshots == nil {
		http.Error(w, "snapshot orchestrator not wired", http.StatusServiceUnavailable)
		return
	}
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Snapshots.Request(r.Context(), req.SnapUID, req.SnapPayload); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- DistributorExclusionSafetyCheckRequest ---

type exclusionSafetyRequest struct {
	Exclusions []string `json:"exclusions"`
}

type exclusionSafetyResponse struct {
	Safe bool `json:"safe"`
}

func (s *Server) handleExclusionSafetyCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Directory == nil {
		http.Error(w, "team directory not wired", http.StatusServiceUnavailable)
		return
	}
	var req exclusionSafetyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	exclusions := make([]teamdir.AddressExclusion, len(req.Exclusions))
	for i, addr := range req.Exclusions {
		exclusions[i] = teamdir.AddressExclusion{Address: addr}
	}

	teamSafe := s.TeamSafe
	if teamSafe == nil {
		teamSafe = func([]string) bool { return true }
	}

	safe, err := s.Directory.ExclusionSafetyCheck(exclusions, teamSafe)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, exclusionSafetyResponse{Safe: safe})
}

// --- GetStorageWigglerStateRequest ---

type wigglerRoleState struct {
	Size int `json:"size"`
}

type wigglerStateResponse struct {
	Primary         wigglerRoleState `json:"primary"`
	Remote          wigglerRoleState `json:"remote,omitempty"`
	LastStateChange string           `json:"lastStateChange,omitempty"`
}

func (s *Server) handleWigglerState(w http.ResponseWriter, r *http.Request) {
	resp := wigglerStateResponse{}
	if s.WigglerPrimary != nil {
		resp.Primary = wigglerRoleState{Size: s.WigglerPrimary.Len()}
		if t := s.WigglerPrimary.LastStateChange(); !t.IsZero() {
			resp.LastStateChange = t.Format("2006-01-02T15:04:05Z07:00")
		}
	}
	if s.WigglerRemote != nil {
		resp.Remote = wigglerRoleState{Size: s.WigglerRemote.Len()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- TriggerAuditRequest ---

type triggerAuditRequest struct {
	Type  string `json:"type"`
	Begin []byte `json:"begin"`
	End   []byte `json:"end"`
}

type triggerAuditResponse struct {
	AuditID string `json:"auditId"`
}

func (s *Server) handleTriggerAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Audits == nil {
		http.Error(w, "audit supervisor not wired", http.StatusServiceUnavailable)
		return
	}
	var req triggerAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	auditType, ok := ddstate.ParseAuditType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, errUnknownAuditType(req.Type))
		return
	}
	id, err := s.Audits.LaunchAudit(r.Context(), ddstate.KeyRange{Begin: req.Begin, End: req.End}, auditType)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, triggerAuditResponse{AuditID: id})
}

// --- TenantsOverStorageQuotaRequest ---

type tenantsOverQuotaResponse struct {
	Tenants []string `json:"tenants"`
}

func (s *Server) handleTenantsOverQuota(w http.ResponseWriter, r *http.Request) {
	var tenants []string
	if s.TenantsOverQuota != nil {
		tenants = s.TenantsOverQuota()
	}
	writeJSON(w, http.StatusOK, tenantsOverQuotaResponse{Tenants: tenants})
}

// --- PrepareBlobRestoreRequest ---

type prepareBlobRestoreRequest struct {
	RequesterID string `json:"requesterId"`
	Begin       []byte `json:"begin"`
	End         []byte `json:"end"`
}

type prepareBlobRestoreResponse struct {
	Status string `json:"status"`
}

func (s *Server) handlePrepareBlobRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.BlobRestore == nil {
		http.Error(w, "blob restore state not wired", http.StatusServiceUnavailable)
		return
	}
	var req prepareBlobRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	isMigrator := s.BlobMigratorID != "" && req.RequesterID == s.BlobMigratorID
	snapshotInProgress := s.SnapshotInProgress
	if snapshotInProgress == nil {
		snapshotInProgress = func() bool { return false }
	}
	raiseConfigChanged := s.RaiseConfigChanged
	if raiseConfigChanged == nil {
		raiseConfigChanged = func() {}
	}

	if err := s.BlobRestore.TryPrepareBlobRestore(req.RequesterID, isMigrator, snapshotInProgress, raiseConfigChanged); err != nil {
		switch err {
		case distributor.ErrConflictBlobRestore:
			writeJSON(w, http.StatusConflict, prepareBlobRestoreResponse{Status: "CONFLICT_BLOB_RESTORE"})
		case distributor.ErrConflictSnapshot:
			writeJSON(w, http.StatusConflict, prepareBlobRestoreResponse{Status: "CONFLICT_SNAPSHOT"})
		default:
			writeError(w, http.StatusForbidden, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, prepareBlobRestoreResponse{Status: "SUCCESS"})
}

type unknownAuditTypeError string

func (e unknownAuditTypeError) Error() string { return "unknown audit type: " + string(e) }

func errUnknownAuditType(name string) error { return unknownAuditTypeError(name) }
