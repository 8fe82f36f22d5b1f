package txn

import (
	"context"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
)

// MoveKeysLock is the persisted (myOwner, prevOwner, prevWrite) triple that
// fences metadata writes to a single DD incarnation at a time (§4.1 step 2).
type MoveKeysLock struct {
	MyOwner   string
	PrevOwner string
	PrevWrite string
}

// DatabaseConfiguration is the cluster-wide policy the bootstrap state
// machine loads in step 3: team size, usable regions, and per-region DC
// ids.
type DatabaseConfiguration struct {
	StorageTeamSize int
	UsableRegions   int
	PrimaryDC       string
	RemoteDC        string
}

func (c DatabaseConfiguration) MultiRegion() bool { return c.UsableRegions > 1 }

// ServerListEntry pairs a storage-server id with its process class and
// current StorageMetadata, as returned by getServerListAndProcessClasses.
type ServerListEntry struct {
	ID       string
	DC       string
	IsTSS    bool
	Metadata ddstate.StorageMetadata
}

// TxnProcessor is the external collaborator (§6, "consumed") giving the
// distributor core every persistent read/write against the cluster's
// metadata keyspace. Every method either succeeds transactionally against
// the fenced lock or returns one of the sentinel errors in errors.go.
type TxnProcessor interface {
	TakeMoveKeysLock(ctx context.Context, myOwner string) (MoveKeysLock, error)
	PollMoveKeysLock(ctx context.Context, lock MoveKeysLock) error

	GetDatabaseConfiguration(ctx context.Context) (DatabaseConfiguration, error)
	UpdateReplicaKeys(ctx context.Context, primaryDC, remoteDC string) error

	GetInitialDataDistribution(ctx context.Context) (*ddstate.InitialDataDistribution, error)

	RemoveKeysFromFailedServer(ctx context.Context, serverID string, team ddstate.Team) error
	RemoveStorageServer(ctx context.Context, serverID string) error

	GetServerListAndProcessClasses(ctx context.Context) ([]ServerListEntry, error)
	GetSourceServerInterfacesForRange(ctx context.Context, r ddstate.KeyRange) ([]string, error)

	PersistNewAuditState(ctx context.Context, lock MoveKeysLock, state ddstate.AuditStorageState) (string, error)
	PersistAuditState(ctx context.Context, lock MoveKeysLock, state ddstate.AuditStorageState) error
	GetAuditStateByRange(ctx context.Context, auditType ddstate.AuditType, r ddstate.KeyRange) ([]ddstate.AuditStorageState, error)
	GetAuditStateByServer(ctx context.Context, auditType ddstate.AuditType, serverID string) ([]ddstate.AuditStorageState, error)

	// DeleteDataMoveTombstone removes a completed-move marker; the
	// best-effort background cleanup (distributor.scheduleTombstoneCleanup)
	// calls it, and nothing starts that cleanup.
	DeleteDataMoveTombstone(ctx context.Context, moveID string) error

	// SetWriteRecoveryKey and ClearWriteRecoveryKey implement the
	// durable "a snapshot is in progress" flag (§4.7 steps 1 and 8).
	SetWriteRecoveryKey(ctx context.Context) error
	ClearWriteRecoveryKey(ctx context.Context) error
}
