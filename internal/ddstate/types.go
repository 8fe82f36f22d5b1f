// Package ddstate holds the live, in-memory shard/team/data-move model the
// distributor reconstructs at bootstrap and mutates for the life of one
// incarnation: the key-range partition, the shard-to-team assignment, and
// the relocation work items produced from it.
package ddstate

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// AnonymousShard is the distinguished move id meaning "no tracked move".
const AnonymousShard = ""

// KeyRange is a half-open interval [Begin, End) over an unbounded byte-key
// space. An empty End means "no upper bound" (the last range of a
// partition).
type KeyRange struct {
	Begin []byte
	End   []byte
}

// Contains reports whether key falls in [r.Begin, r.End).
func (r KeyRange) Contains(key []byte) bool {
	if bytes.Compare(key, r.Begin) < 0 {
		return false
	}
	if len(r.End) == 0 {
		return true
	}
	return bytes.Compare(key, r.End) < 0
}

// Intersects reports whether r and o share any keys.
func (r KeyRange) Intersects(o KeyRange) bool {
	if len(r.End) != 0 && bytes.Compare(o.Begin, r.End) >= 0 {
		return false
	}
	if len(o.End) != 0 && bytes.Compare(r.Begin, o.End) >= 0 {
		return false
	}
	return true
}

func (r KeyRange) String() string {
	return fmt.Sprintf("[%x, %x)", r.Begin, r.End)
}

// TeamRole distinguishes the two region roles a Team can play for a shard.
type TeamRole int

const (
	RolePrimary TeamRole = iota
	RoleRemote
)

// Team is an unordered set of storage-server IDs jointly responsible for a
// shard's replicas in one region. The core holds teams by value-copy; the
// team-collection component (out of scope here) owns their lifecycle and
// health.
type Team struct {
	ID      string
	Role    TeamRole
	Servers []string
}

// Contains reports whether serverID is a member of the team.
func (t Team) Contains(serverID string) bool {
	for _, s := range t.Servers {
		if s == serverID {
			return true
		}
	}
	return false
}

// Subset reports whether every server in t is also in o.
func (t Team) Subset(o Team) bool {
	for _, s := range t.Servers {
		if !o.Contains(s) {
			return false
		}
	}
	return true
}

// RelocateReason classifies why a RelocateShard item was produced.
type RelocateReason int

const (
	ReasonRecoverMove RelocateReason = iota
	ReasonTeamUnhealthy
	ReasonSplitShard
	ReasonWriteSplit
	ReasonSizeSplit
	ReasonOther
)

func (r RelocateReason) String() string {
	switch r {
	case ReasonRecoverMove:
		return "recover_move"
	case ReasonTeamUnhealthy:
		return "team_unhealthy"
	case ReasonSplitShard:
		return "split_shard"
	case ReasonWriteSplit:
		return "write_split"
	case ReasonSizeSplit:
		return "size_split"
	default:
		return "other"
	}
}

// Relocation priority bands, ordered lowest-value-first (min-heap consumers
// pop recover_move ahead of everything else).
const (
	PriorityRecoverMove  = 0
	PriorityTeamUnhealthy = 100
	PrioritySplitShard   = 200
	PriorityOther        = 900
)

// Shard is a maximal key range treated atomically for placement.
type Shard struct {
	Range KeyRange

	PrimarySrc []string
	RemoteSrc  []string

	PrimaryDest *Team
	RemoteDest  *Team

	SrcID  string
	DestID string

	HasDest bool
}

// HasTrackedMove reports whether the shard is mid-relocation under a real
// (non-anonymous) DataMove id.
func (s *Shard) HasTrackedMove() bool {
	return s.HasDest && s.DestID != AnonymousShard
}

// DataMove is an in-flight relocation spanning one or more ranges.
type DataMove struct {
	ID          string
	Ranges      []KeyRange
	PrimaryDest Team
	RemoteDest  Team
	Valid       bool
	Cancelled   bool
}

// NewDataMoveID mints a fresh, non-anonymous move identifier.
func NewDataMoveID() string {
	return uuid.NewString()
}

// Validate checks the DataMove invariant against the shards it claims to
// own: every shard inside its ranges must point back at it with dest teams
// that are subsets of the move's own dest teams. On the first violation it
// marks the move cancelled and returns a DataMoveValidationError; the
// caller is expected to persist the cancellation.
func (m *DataMove) Validate(shardsInRange []*Shard) error {
	for _, s := range shardsInRange {
		if !s.HasDest || s.DestID != m.ID {
			m.Cancelled = true
			return &DataMoveValidationError{MoveID: m.ID, Range: s.Range, Reason: "shard does not point back at move"}
		}
		if s.PrimaryDest == nil || !s.PrimaryDest.Subset(m.PrimaryDest) {
			m.Cancelled = true
			return &DataMoveValidationError{MoveID: m.ID, Range: s.Range, Reason: "primary dest not subset of move primary dest"}
		}
		if s.RemoteDest != nil && !s.RemoteDest.Subset(m.RemoteDest) {
			m.Cancelled = true
			return &DataMoveValidationError{MoveID: m.ID, Range: s.Range, Reason: "remote dest not subset of move remote dest"}
		}
	}
	return nil
}

// DataMoveValidationError reports why Validate marked a move cancelled.
type DataMoveValidationError struct {
	MoveID string
	Range  KeyRange
	Reason string
}

func (e *DataMoveValidationError) Error() string {
	return fmt.Sprintf("data move validation failed for %s at %s: %s", e.MoveID, e.Range, e.Reason)
}

// RelocateShard is a work item emitted by the core to the (external)
// relocation queue.
type RelocateShard struct {
	Keys       KeyRange
	Priority   int
	Reason     RelocateReason
	DataMoveID string
	DataMove   *DataMove
	Cancelled  bool

	// ParentRange is set (and required non-nil) when Reason is
	// ReasonWriteSplit or ReasonSizeSplit.
	ParentRange *KeyRange
}

// NewSplitRelocation builds a RelocateShard for a write- or size-driven
// split, asserting the parent range is supplied, matching the source's
// construction-time assertion.
func NewSplitRelocation(reason RelocateReason, keys KeyRange, parent KeyRange, priority int) *RelocateShard {
	if reason != ReasonWriteSplit && reason != ReasonSizeSplit {
		panic("ddstate: NewSplitRelocation called with non-split reason")
	}
	pr := parent
	return &RelocateShard{
		Keys:        keys,
		Priority:    priority,
		Reason:      reason,
		DataMoveID:  AnonymousShard,
		ParentRange: &pr,
	}
}

// KeyValueStoreType names the on-disk engine backing a storage server, used
// only to decide wiggle eligibility (wrongConfigured), never interpreted
// further here.
type KeyValueStoreType string

// StorageMetadata is the wiggler's ordering key for one storage server.
type StorageMetadata struct {
	CreatedTime     int64
	KeyValueStoreType KeyValueStoreType
	WrongConfigured bool
}

// Equal reports whether two StorageMetadata values are identical, used by
// the wiggler to detect metadata updates that are actually no-ops.
func (m StorageMetadata) Equal(o StorageMetadata) bool {
	return m.CreatedTime == o.CreatedTime && m.KeyValueStoreType == o.KeyValueStoreType && m.WrongConfigured == o.WrongConfigured
}

// Less orders StorageMetadata for the wiggler's priority queue:
// wrongConfigured servers sort strictly before non-flagged ones regardless
// of age; within the same flag, least-recently-created first.
func (m StorageMetadata) Less(o StorageMetadata) bool {
	if m.WrongConfigured != o.WrongConfigured {
		return m.WrongConfigured
	}
	return m.CreatedTime < o.CreatedTime
}

// AuditType enumerates the consistency audits the audit supervisor can run.
type AuditType int

const (
	AuditValidateHA AuditType = iota
	AuditValidateReplica
	AuditValidateLocationMetadata
	AuditValidateStorageServerShard
)

func (t AuditType) String() string {
	switch t {
	case AuditValidateHA:
		return "ValidateHA"
	case AuditValidateReplica:
		return "ValidateReplica"
	case AuditValidateLocationMetadata:
		return "ValidateLocationMetadata"
	case AuditValidateStorageServerShard:
		return "ValidateStorageServerShard"
	default:
		return "Unknown"
	}
}

// AuditPhase is the persisted lifecycle state of one AuditStorageState row.
type AuditPhase int

const (
	AuditInvalid AuditPhase = iota
	AuditRunning
	AuditComplete
	AuditError
	AuditFailed
)

func (p AuditPhase) String() string {
	switch p {
	case AuditRunning:
		return "Running"
	case AuditComplete:
		return "Complete"
	case AuditError:
		return "Error"
	case AuditFailed:
		return "Failed"
	default:
		return "Invalid"
	}
}

func (p AuditPhase) Terminal() bool {
	return p == AuditComplete || p == AuditError || p == AuditFailed
}

// ParseAuditType maps the wire name used by TriggerAuditRequest back onto an
// AuditType, for admin-surface request decoding.
func ParseAuditType(name string) (AuditType, bool) {
	switch name {
	case "ValidateHA":
		return AuditValidateHA, true
	case "ValidateReplica":
		return AuditValidateReplica, true
	case "ValidateLocationMetadata":
		return AuditValidateLocationMetadata, true
	case "ValidateStorageServerShard":
		return AuditValidateStorageServerShard, true
	default:
		return 0, false
	}
}

// AuditStorageState is one persisted per-range (or per-server-range) audit
// progress row.
type AuditStorageState struct {
	ID    string
	Type  AuditType
	Range KeyRange
	Phase AuditPhase
}
