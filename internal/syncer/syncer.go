// Package syncer decides which tenants take part in background refresh.
// At most Cap tenants are ACTIVE_SYNC at any time; the coordinator enforces
// the cap itself rather than trusting callers to check first.
//
// State lives in memory only. Health and timestamps are written by the
// refresh job and merely stored here.
// See docs/ARCHITECTURE.md § Sync Coordinator.
package syncer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

// Coordinator tracks per-tenant sync state. It is safe for concurrent use.
type Coordinator struct {
	mu      sync.RWMutex
	cap     int
	slots   *semaphore.Weighted // one unit per ACTIVE_SYNC tenant; the only active count
	tenants map[string]types.SyncInfo
}

// New returns a coordinator allowing limit active tenants. A limit of zero
// or less means types.DefaultMaxActiveTenants.
func New(limit int) *Coordinator {
	if limit <= 0 {
		limit = types.DefaultMaxActiveTenants
	}
	return &Coordinator{
		cap:     limit,
		slots:   semaphore.NewWeighted(int64(limit)),
		tenants: make(map[string]types.SyncInfo),
	}
}

// Cap returns the maximum number of active tenants.
func (c *Coordinator) Cap() int {
	return c.cap
}

func copyInfo(info types.SyncInfo) types.SyncInfo {
	if info.LastSyncTimestamp != nil {
		ts := *info.LastSyncTimestamp
		info.LastSyncTimestamp = &ts
	}
	return info
}

// GetSyncInfo returns the tenant's sync info, or PAUSED/OK for a tenant the
// coordinator has never seen.
func (c *Coordinator) GetSyncInfo(tenantID string) types.SyncInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.tenants[tenantID]
	if !ok {
		return types.DefaultSyncInfo()
	}
	return copyInfo(info)
}

// GetAllSyncInfo returns a copy of every known tenant's sync info.
func (c *Coordinator) GetAllSyncInfo() map[string]types.SyncInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]types.SyncInfo, len(c.tenants))
	for id, info := range c.tenants {
		out[id] = copyInfo(info)
	}
	return out
}

// GetActiveSyncTenants returns the ACTIVE_SYNC tenants, sorted.
func (c *Coordinator) GetActiveSyncTenants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for id, info := range c.tenants {
		if info.State == types.SyncActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsActive reports whether the tenant is ACTIVE_SYNC.
func (c *Coordinator) IsActive(tenantID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenants[tenantID].State == types.SyncActive
}

// CanActivateSync reports whether ResumeSync would succeed now: the tenant
// is already active or a slot is free.
func (c *Coordinator) CanActivateSync(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tenants[tenantID].State == types.SyncActive {
		return true
	}
	// Slots only change under mu, so a probe acquire is exact.
	if !c.slots.TryAcquire(1) {
		return false
	}
	c.slots.Release(1)
	return true
}

// ResumeSync makes the tenant ACTIVE_SYNC. Resuming an active tenant is a
// no-op. Returns ErrCapacityExceeded, leaving the tenant paused, when every
// slot is taken.
func (c *Coordinator) ResumeSync(tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.tenants[tenantID]
	if !ok {
		info = types.DefaultSyncInfo()
	}
	if info.State == types.SyncActive {
		return nil
	}
	if !c.slots.TryAcquire(1) {
		return fmt.Errorf("tenant %s: %w (%d active)", tenantID, types.ErrCapacityExceeded, c.cap)
	}

	info.State = types.SyncActive
	c.tenants[tenantID] = info
	return nil
}

// PauseSync makes the tenant PAUSED, freeing its slot. It always succeeds,
// for known and unknown tenants alike.
func (c *Coordinator) PauseSync(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.tenants[tenantID]
	if !ok {
		info = types.DefaultSyncInfo()
	}
	if info.State == types.SyncActive {
		c.slots.Release(1)
	}
	info.State = types.SyncPaused
	c.tenants[tenantID] = info
}

// RecordSync stores the outcome of a refresh run for the tenant.
func (c *Coordinator) RecordSync(tenantID string, health types.Health, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.tenants[tenantID]
	if !ok {
		info = types.DefaultSyncInfo()
	}
	info.Health = health
	ts := at.UTC()
	info.LastSyncTimestamp = &ts
	c.tenants[tenantID] = info
}
