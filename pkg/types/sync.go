package types

import "time"

// SyncState says whether a tenant participates in background refresh.
type SyncState string

// Sync states.
const (
	SyncActive SyncState = "ACTIVE_SYNC"
	SyncPaused SyncState = "PAUSED"
)

// Health is reported by the background refresh job.
type Health string

// Health values.
const (
	HealthOK       Health = "OK"
	HealthDegraded Health = "DEGRADED"
	HealthError    Health = "ERROR"
)

// DefaultMaxActiveTenants is the number of tenants that may be in
// ACTIVE_SYNC at the same time unless configured otherwise.
const DefaultMaxActiveTenants = 4

// SyncInfo is the in-memory sync status of one tenant.
type SyncInfo struct {
	State             SyncState  `json:"state"`
	Health            Health     `json:"health"`
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp,omitempty"`
}

// DefaultSyncInfo is reported for tenants the coordinator has never seen.
func DefaultSyncInfo() SyncInfo {
	return SyncInfo{State: SyncPaused, Health: HealthOK}
}
