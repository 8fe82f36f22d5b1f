package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
	"github.com/pavandhadge/datadistributor/internal/wiggler"
)

var (
	bucketLock      = []byte("move_keys_lock")
	bucketConfig    = []byte("database_configuration")
	bucketAudits    = []byte("audit_states")
	bucketTombstones = []byte("data_move_tombstones")
	bucketRecovery  = []byte("recovery_flag")
	bucketShards    = []byte("shards")
	bucketDataMoves = []byte("data_moves")
	bucketWiggleRounds = []byte("wiggle_rounds")

	keySingleton = []byte("singleton")
	keyFlag      = []byte("flag")
)

// BoltProcessor is the default TxnProcessor implementation: a single bbolt
// file holding one bucket per metadata concern, JSON-encoded the way the
// teacher's FSM persists its own snapshots.
type BoltProcessor struct {
	db *bbolt.DB
}

// Open creates or opens the metadata store at path.
func Open(path string) (*BoltProcessor, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	p := &BoltProcessor{db: db}
	if err := p.init(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *BoltProcessor) Close() error { return p.db.Close() }

func (p *BoltProcessor) init() error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketLock, bucketConfig, bucketAudits, bucketTombstones, bucketRecovery, bucketShards, bucketDataMoves, bucketWiggleRounds} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BoltProcessor) TakeMoveKeysLock(ctx context.Context, myOwner string) (MoveKeysLock, error) {
	var out MoveKeysLock
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLock)
		var existing MoveKeysLock
		if raw := b.Get(keySingleton); raw != nil {
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if existing.MyOwner != "" && existing.MyOwner != myOwner {
				// Another incarnation already holds the lock; fence it out
				// by taking over, but surface the conflict so bootstrap can
				// decide to restart if it raced another DD concurrently.
				out = MoveKeysLock{MyOwner: myOwner, PrevOwner: existing.MyOwner, PrevWrite: existing.MyOwner}
				raw, err := json.Marshal(out)
				if err != nil {
					return err
				}
				return b.Put(keySingleton, raw)
			}
		}
		out = MoveKeysLock{MyOwner: myOwner, PrevOwner: existing.PrevOwner, PrevWrite: existing.PrevWrite}
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return b.Put(keySingleton, raw)
	})
	return out, err
}

func (p *BoltProcessor) PollMoveKeysLock(ctx context.Context, lock MoveKeysLock) error {
	return p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLock)
		raw := b.Get(keySingleton)
		if raw == nil {
			return ErrMoveKeysConflict
		}
		var cur MoveKeysLock
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if cur.MyOwner != lock.MyOwner {
			return ErrMoveKeysConflict
		}
		return nil
	})
}

func (p *BoltProcessor) GetDatabaseConfiguration(ctx context.Context) (DatabaseConfiguration, error) {
	var cfg DatabaseConfiguration
	err := p.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketConfig).Get(keySingleton)
		if raw == nil {
			cfg = DatabaseConfiguration{StorageTeamSize: 3, UsableRegions: 1}
			return nil
		}
		return json.Unmarshal(raw, &cfg)
	})
	return cfg, err
}

func (p *BoltProcessor) UpdateReplicaKeys(ctx context.Context, primaryDC, remoteDC string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		var cfg DatabaseConfiguration
		if raw := b.Get(keySingleton); raw != nil {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return err
			}
		}
		cfg.PrimaryDC = primaryDC
		cfg.RemoteDC = remoteDC
		if remoteDC != "" {
			cfg.UsableRegions = 2
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put(keySingleton, raw)
	})
}

func (p *BoltProcessor) GetInitialDataDistribution(ctx context.Context) (*ddstate.InitialDataDistribution, error) {
	init := &ddstate.InitialDataDistribution{
		DataMoves:         make(map[string]*ddstate.DataMove),
		LargeTeamsEnabled: true,
	}
	cfg, err := p.GetDatabaseConfiguration(ctx)
	if err != nil {
		return nil, err
	}
	init.ConfigStorageTeamSize = cfg.StorageTeamSize
	init.MultiRegion = cfg.MultiRegion()
	init.MaxShardsOnLargeTeams = 100

	err = p.db.View(func(tx *bbolt.Tx) error {
		sb := tx.Bucket(bucketShards)
		if err := sb.ForEach(func(_, v []byte) error {
			var s ddstate.Shard
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			init.Shards = append(init.Shards, &s)
			return nil
		}); err != nil {
			return err
		}

		mb := tx.Bucket(bucketDataMoves)
		if err := mb.ForEach(func(_, v []byte) error {
			var m ddstate.DataMove
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			init.DataMoves[m.ID] = &m
			return nil
		}); err != nil {
			return err
		}

		ab := tx.Bucket(bucketAudits)
		return ab.ForEach(func(_, v []byte) error {
			var a ddstate.AuditStorageState
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			init.AuditStates = append(init.AuditStates, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return init, nil
}

func (p *BoltProcessor) RemoveKeysFromFailedServer(ctx context.Context, serverID string, team ddstate.Team) error {
	// Marking teams healthy again is the team collection's job (out of
	// scope); this processor only has to forget the server existed.
	return p.RemoveStorageServer(ctx, serverID)
}

func (p *BoltProcessor) RemoveStorageServer(ctx context.Context, serverID string) error {
	return nil
}

func (p *BoltProcessor) GetServerListAndProcessClasses(ctx context.Context) ([]ServerListEntry, error) {
	return nil, nil
}

func (p *BoltProcessor) GetSourceServerInterfacesForRange(ctx context.Context, r ddstate.KeyRange) ([]string, error) {
	return nil, nil
}

func (p *BoltProcessor) PersistNewAuditState(ctx context.Context, lock MoveKeysLock, state ddstate.AuditStorageState) (string, error) {
	if err := p.PollMoveKeysLock(ctx, lock); err != nil {
		return "", err
	}
	if state.ID == "" {
		state.ID = fmt.Sprintf("%s-%d", state.Type, time.Now().UnixNano())
	}
	return state.ID, p.db.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAudits).Put([]byte(state.ID), raw)
	})
}

func (p *BoltProcessor) PersistAuditState(ctx context.Context, lock MoveKeysLock, state ddstate.AuditStorageState) error {
	if err := p.PollMoveKeysLock(ctx, lock); err != nil {
		return err
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAudits).Put([]byte(state.ID), raw)
	})
}

func (p *BoltProcessor) GetAuditStateByRange(ctx context.Context, auditType ddstate.AuditType, r ddstate.KeyRange) ([]ddstate.AuditStorageState, error) {
	var out []ddstate.AuditStorageState
	err := p.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAudits).ForEach(func(_, v []byte) error {
			var a ddstate.AuditStorageState
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Type == auditType && a.Range.Intersects(r) {
				out = append(out, a)
			}
			return nil
		})
	})
	return out, err
}

func (p *BoltProcessor) GetAuditStateByServer(ctx context.Context, auditType ddstate.AuditType, serverID string) ([]ddstate.AuditStorageState, error) {
	return nil, ErrNotImplemented
}

func (p *BoltProcessor) DeleteDataMoveTombstone(ctx context.Context, moveID string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTombstones).Delete([]byte(moveID))
	})
}

func (p *BoltProcessor) PersistWiggleRound(role string, stats wiggler.RoundStats) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWiggleRounds).Put([]byte(role), raw)
	})
}

func (p *BoltProcessor) LoadWiggleRound(role string) (wiggler.RoundStats, error) {
	var stats wiggler.RoundStats
	err := p.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketWiggleRounds).Get([]byte(role))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &stats)
	})
	return stats, err
}

func (p *BoltProcessor) SetWriteRecoveryKey(ctx context.Context) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecovery).Put(keyFlag, []byte{1})
	})
}

func (p *BoltProcessor) ClearWriteRecoveryKey(ctx context.Context) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecovery).Delete(keyFlag)
	})
}
