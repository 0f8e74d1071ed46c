package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusStandalone Status = "standalone"
	StatusSyncing    Status = "syncing"
	StatusSynced     Status = "synced"
	StatusError      Status = "error"
)

type PeerInfo struct {
	Host        string `json:"host"`
	Port        uint16 `json:"port"`
	DisplayName string `json:"displayName"`
}

// Key identifies a peer in the registry. Display names are neither unique
// nor stable, so identity is host:port.
func (p PeerInfo) Key() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func (p PeerInfo) String() string {
	if p.DisplayName == "" {
		return p.Key()
	}
	return fmt.Sprintf("%s (%s)", p.DisplayName, p.Key())
}

// SyncState is the engine's externally visible state. LastSyncTimestamp is
// the replication cursor: the completion time of the previous successful
// cycle, sent as the "since" filter on the next pull. It is never advanced
// by a failed cycle.
type SyncState struct {
	Status            Status     `json:"status"`
	ActivePeer        *PeerInfo  `json:"activePeer"`
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp"`
}

// Wire DTOs for /api/sync/pull and /api/sync/push. Records stay raw: the
// engine transports them verbatim and never looks inside.

type PullRequest struct {
	Since    *time.Time `json:"since"`
	DeviceID string     `json:"device_id"`
}

type PullResponse struct {
	DeviceID      string            `json:"device_id,omitempty"`
	Records       []json.RawMessage `json:"records"`
	SyncTimestamp *time.Time        `json:"sync_timestamp,omitempty"`
	HasMore       bool              `json:"has_more,omitempty"`
}

type PushRequest struct {
	DeviceID string            `json:"device_id"`
	Records  []json.RawMessage `json:"records"`
}

type PushResponse struct {
	Accepted      int        `json:"accepted"`
	Rejected      int        `json:"rejected"`
	Conflicts     int        `json:"conflicts"`
	SyncTimestamp *time.Time `json:"sync_timestamp,omitempty"`
}
