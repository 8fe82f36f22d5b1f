package audit

import (
	"math/rand"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
)

// SubRangeReplicas is the replica membership scheduleAuditOnRange needs for
// one sub-range: the primary-DC replica set, and remote replicas grouped by
// DC (empty in single-region mode).
type SubRangeReplicas struct {
	Primary []string
	Remote  map[string][]string
}

// Target is the outcome of scheduling one sub-range: which server the audit
// actually runs on, and which additional servers it cross-checks against.
type Target struct {
	Server  string
	Extra   []string
	Skipped bool
}

// scheduleAuditOnRange picks target servers for one sub-range by audit
// type (§4.6). Single-replica sub-ranges are skipped for ValidateHA and
// ValidateReplica, since there is nothing to cross-check against.
func scheduleAuditOnRange(auditType ddstate.AuditType, replicas SubRangeReplicas) Target {
	switch auditType {
	case ddstate.AuditValidateHA:
		if len(replicas.Primary) == 0 {
			return Target{Skipped: true}
		}
		if len(replicas.Primary) < 2 && totalRemote(replicas.Remote) == 0 {
			return Target{Skipped: true}
		}
		target := replicas.Primary[rand.Intn(len(replicas.Primary))]
		var extra []string
		for _, servers := range replicas.Remote {
			if len(servers) == 0 {
				continue
			}
			extra = append(extra, servers[rand.Intn(len(servers))])
		}
		return Target{Server: target, Extra: extra}

	case ddstate.AuditValidateReplica:
		if len(replicas.Primary) < 2 {
			return Target{Skipped: true}
		}
		idx := rand.Intn(len(replicas.Primary))
		target := replicas.Primary[idx]
		extra := make([]string, 0, len(replicas.Primary)-1)
		for i, s := range replicas.Primary {
			if i != idx {
				extra = append(extra, s)
			}
		}
		return Target{Server: target, Extra: extra}

	case ddstate.AuditValidateLocationMetadata:
		if len(replicas.Primary) == 0 {
			return Target{Skipped: true}
		}
		return Target{Server: replicas.Primary[rand.Intn(len(replicas.Primary))]}

	default:
		return Target{Skipped: true}
	}
}

func totalRemote(remote map[string][]string) int {
	n := 0
	for _, s := range remote {
		n += len(s)
	}
	return n
}
