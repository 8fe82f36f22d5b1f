// Package workerclient talks to the out-of-scope storage-server fleet over
// plain JSON-over-HTTP, in the same idiom as the control plane's own
// inter-node protocol (see internal/adminserver and the teacher's original
// /join handler): a fixed set of addresses, one POST per RPC; a transport
// error is returned to the caller without retrying.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pavandhadge/datadistributor/internal/audit"
	"github.com/pavandhadge/datadistributor/internal/ddstate"
)

// Roster is the static addressing the worker fleet is configured with: the
// DDTeamCollection-equivalent recruitment and discovery process itself is
// out of scope (§1's storage-engine exclusion), so this is a fixed list
// rather than a live membership service.
type Roster struct {
	Storages     []string
	TLogs        []string
	Coordinators []string
}

// Client implements snapshot.Workers, snapshot.Ops, audit.Dispatcher, and
// audit.ServerDirectory against a Roster over HTTP.
type Client struct {
	roster Roster
	http   *http.Client
}

func New(roster Roster) *Client {
	return &Client{roster: roster, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Storages(ctx context.Context) ([]string, error)     { return c.roster.Storages, nil }
func (c *Client) TLogs(ctx context.Context) ([]string, error)        { return c.roster.TLogs, nil }
func (c *Client) Coordinators(ctx context.Context) ([]string, error) { return c.roster.Coordinators, nil }

func (c *Client) NonTSSServers(ctx context.Context) ([]string, error) { return c.roster.Storages, nil }

func (c *Client) DisableTLogPop(ctx context.Context, tlogID string) error {
	return c.post(ctx, tlogID, "/tlog/disable-pop", nil)
}

func (c *Client) EnableTLogPop(ctx context.Context, tlogID string) error {
	return c.post(ctx, tlogID, "/tlog/enable-pop", nil)
}

func (c *Client) SnapStorage(ctx context.Context, serverID, uid string) error {
	return c.post(ctx, serverID, "/snapshot", map[string]string{"uid": uid})
}

func (c *Client) SnapTLog(ctx context.Context, tlogID, uid string) error {
	return c.post(ctx, tlogID, "/snapshot", map[string]string{"uid": uid})
}

func (c *Client) SnapCoordinator(ctx context.Context, coordID, uid string) error {
	return c.post(ctx, coordID, "/snapshot", map[string]string{"uid": uid})
}

func (c *Client) DoAuditOnStorageServer(ctx context.Context, auditType ddstate.AuditType, target audit.Target, subRange ddstate.KeyRange) error {
	if target.Skipped {
		return nil
	}
	body := map[string]any{
		"auditType": int(auditType),
		"start":     string(subRange.Begin),
		"end":       string(subRange.End),
	}
	return c.post(ctx, target.Server, "/audit", body)
}

func (c *Client) post(ctx context.Context, addr, path string, body any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workerclient: %s%s: %w", addr, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("workerclient: %s%s: status %d", addr, path, resp.StatusCode)
	}
	return nil
}
