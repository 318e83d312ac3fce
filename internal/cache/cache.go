// Package cache implements the local entity cache: remote baselines, local
// edits, dirty tracking and reconciliation on top of a types.EntityStore.
//
// Every read-modify-write runs under a per-key lock, so operations on the same
// (tenant, type, id) are linearizable. Tenant and global clears exclude all
// per-key operations while they run.
//
// The cache does not log. Corrupt records read as not found and are omitted
// from listings; callers decide whether that is worth reporting.
// See docs/ARCHITECTURE.md § Local Cache.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mesh-intelligence/idcache/internal/hash"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// Cache is the local entity cache. It is safe for concurrent use.
type Cache struct {
	store  types.EntityStore
	policy string
	now    func() time.Time

	// gate is held shared by per-key operations and exclusively by clears.
	gate  sync.RWMutex
	locks keyLocks
}

// Option configures a Cache.
type Option func(*Cache)

// WithRefreshPolicy sets what CacheEntity does to pending local edits:
// types.RefreshOverwrite (the default) or types.RefreshPreserve.
func WithRefreshPolicy(policy string) Option {
	return func(c *Cache) {
		if policy != "" {
			c.policy = policy
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a cache backed by store.
func New(store types.EntityStore, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		policy: types.RefreshOverwrite,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefreshPolicy returns the policy CacheEntity applies.
func (c *Cache) RefreshPolicy() string {
	return c.policy
}

func (c *Cache) lockKey(tenantID string, t types.EntityType, id string) func() {
	c.gate.RLock()
	unlock := c.locks.lock(tenantID + "/" + t.Segment() + "/" + id)
	return func() {
		unlock()
		c.gate.RUnlock()
	}
}

func (c *Cache) timestamp() time.Time {
	return c.now().UTC()
}

// fingerprint validates data and returns its hash together with a private
// copy of the bytes.
func fingerprint(data json.RawMessage) (json.RawMessage, string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", fmt.Errorf("%w: empty document", types.ErrInvalidData)
	}
	h, err := hash.Hash(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	return append(json.RawMessage(nil), data...), h, nil
}

// readExisting returns the stored record, or nil when it is absent or corrupt.
func (c *Cache) readExisting(tenantID string, t types.EntityType, id string) (*types.CachedEntity, error) {
	rec, err := c.store.Read(tenantID, t, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// CacheEntity records data as the remote baseline of an entity. The result is
// clean: RemoteHash and LocalHash both fingerprint data.
//
// Under the overwrite policy pending local edits are replaced. Under the
// preserve policy a dirty entity keeps its local data and only its baseline
// is refreshed.
func (c *Cache) CacheEntity(tenantID string, t types.EntityType, id, name string, data json.RawMessage, parentID string) (*types.CachedEntity, error) {
	return c.cacheEntity(tenantID, t, id, name, data, parentID, c.policy)
}

// CacheEntityForce is CacheEntity with the overwrite policy, whatever the
// configured policy is.
func (c *Cache) CacheEntityForce(tenantID string, t types.EntityType, id, name string, data json.RawMessage, parentID string) (*types.CachedEntity, error) {
	return c.cacheEntity(tenantID, t, id, name, data, parentID, types.RefreshOverwrite)
}

func (c *Cache) cacheEntity(tenantID string, t types.EntityType, id, name string, data json.RawMessage, parentID, policy string) (*types.CachedEntity, error) {
	data, h, err := fingerprint(data)
	if err != nil {
		return nil, err
	}

	unlock := c.lockKey(tenantID, t, id)
	defer unlock()

	now := c.timestamp()

	if policy == types.RefreshPreserve {
		existing, err := c.readExisting(tenantID, t, id)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.HasLocalChanges() {
			existing.Name = name
			existing.ParentID = parentID
			existing.RemoteData = data
			existing.RemoteHash = h
			existing.LastFetched = now
			if !existing.HasLocalChanges() {
				existing.LastModifiedLocal = nil
			}
			if err := c.store.Write(existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	rec := &types.CachedEntity{
		ID:          id,
		Name:        name,
		Type:        t,
		TenantID:    tenantID,
		Data:        data,
		RemoteData:  append(json.RawMessage(nil), data...),
		RemoteHash:  h,
		LocalHash:   h,
		LastFetched: now,
		ParentID:    parentID,
	}
	if err := c.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateLocalEntity adds an entity that does not exist remotely yet. It has
// no baseline, so it is dirty until committed. Returns ErrAlreadyExists if the
// key is taken.
func (c *Cache) CreateLocalEntity(tenantID string, t types.EntityType, id, name string, data json.RawMessage, parentID string) (*types.CachedEntity, error) {
	data, h, err := fingerprint(data)
	if err != nil {
		return nil, err
	}

	unlock := c.lockKey(tenantID, t, id)
	defer unlock()

	existing, err := c.readExisting(tenantID, t, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%s/%s/%s: %w", tenantID, t, id, types.ErrAlreadyExists)
	}

	now := c.timestamp()
	rec := &types.CachedEntity{
		ID:                id,
		Name:              name,
		Type:              t,
		TenantID:          tenantID,
		Data:              data,
		LocalHash:         h,
		LastModifiedLocal: &now,
		ParentID:          parentID,
	}
	if err := c.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateLocalEntity replaces the local data of an existing entity. It never
// creates one: an absent entity yields ErrNotFound. Editing back to the
// baseline content makes the entity clean again.
func (c *Cache) UpdateLocalEntity(tenantID string, t types.EntityType, id string, data json.RawMessage) (*types.CachedEntity, error) {
	data, h, err := fingerprint(data)
	if err != nil {
		return nil, err
	}

	unlock := c.lockKey(tenantID, t, id)
	defer unlock()

	rec, err := c.store.Read(tenantID, t, id)
	if err != nil {
		return nil, err
	}

	now := c.timestamp()
	rec.Data = data
	rec.LocalHash = h
	rec.LastModifiedLocal = &now
	if err := c.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetCachedEntity returns the cached entity or ErrNotFound.
func (c *Cache) GetCachedEntity(tenantID string, t types.EntityType, id string) (*types.CachedEntity, error) {
	unlock := c.lockKey(tenantID, t, id)
	defer unlock()
	return c.store.Read(tenantID, t, id)
}

// GetAllCachedEntities returns every readable entity of a type for a tenant,
// ordered by ID. Missing and corrupt records are omitted.
func (c *Cache) GetAllCachedEntities(tenantID string, t types.EntityType) ([]*types.CachedEntity, error) {
	ids, err := c.store.ListIDs(tenantID, t)
	if err != nil {
		return nil, err
	}

	out := make([]*types.CachedEntity, 0, len(ids))
	for _, id := range ids {
		rec, err := c.GetCachedEntity(tenantID, t, id)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetEntitiesWithLocalChanges lists dirty entities from the index, scoped to
// tenantID when non-empty, ordered by tenant, type and ID.
func (c *Cache) GetEntitiesWithLocalChanges(tenantID string) ([]types.EntityRef, error) {
	var refs []types.EntityRef
	err := c.store.ScanIndex(tenantID, func(ref types.EntityRef, entry types.IndexEntry) bool {
		if entry.HasLocalChanges {
			refs = append(refs, ref)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// HasLocalChanges reports the index's dirty flag for an entity. Unknown
// entities are clean.
func (c *Cache) HasLocalChanges(tenantID string, t types.EntityType, id string) bool {
	entry, ok, err := c.store.Entry(tenantID, t, id)
	if err != nil || !ok {
		return false
	}
	return entry.HasLocalChanges
}

// MarkAsCommitted makes the current local data the baseline. It assumes the
// caller has just pushed exactly that data.
func (c *Cache) MarkAsCommitted(tenantID string, t types.EntityType, id string) (*types.CachedEntity, error) {
	unlock := c.lockKey(tenantID, t, id)
	defer unlock()

	rec, err := c.store.Read(tenantID, t, id)
	if err != nil {
		return nil, err
	}
	return c.markPushedLocked(rec, rec.Data, rec.LocalHash)
}

// MarkPushed records that data, fingerprinted as pushedHash, is now the
// remote state of an entity. When the local data still matches, the entity
// becomes clean. When it was edited again after the push, the new baseline is
// recorded and the entity stays dirty.
func (c *Cache) MarkPushed(tenantID string, t types.EntityType, id string, data json.RawMessage, pushedHash string) (*types.CachedEntity, error) {
	unlock := c.lockKey(tenantID, t, id)
	defer unlock()

	rec, err := c.store.Read(tenantID, t, id)
	if err != nil {
		return nil, err
	}
	return c.markPushedLocked(rec, data, pushedHash)
}

func (c *Cache) markPushedLocked(rec *types.CachedEntity, data json.RawMessage, pushedHash string) (*types.CachedEntity, error) {
	rec.RemoteData = append(json.RawMessage(nil), data...)
	rec.RemoteHash = pushedHash
	if !rec.HasLocalChanges() {
		rec.LastModifiedLocal = nil
	}
	if err := c.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RevertEntity restores the local data to the remote baseline. A clean
// entity is returned unchanged. An entity that was only ever local has no
// baseline and yields ErrNoBaseline; it is left in place.
func (c *Cache) RevertEntity(tenantID string, t types.EntityType, id string) (*types.CachedEntity, error) {
	unlock := c.lockKey(tenantID, t, id)
	defer unlock()

	rec, err := c.store.Read(tenantID, t, id)
	if err != nil {
		return nil, err
	}
	if !rec.HasLocalChanges() {
		return rec, nil
	}
	if !rec.HasBaseline() {
		return nil, fmt.Errorf("%s/%s/%s: %w", tenantID, t, id, types.ErrNoBaseline)
	}

	rec.Data = append(json.RawMessage(nil), rec.RemoteData...)
	rec.LocalHash = rec.RemoteHash
	rec.LastModifiedLocal = nil
	if err := c.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteEntity removes one entity, committed or not. It is how local-only
// entities are discarded.
func (c *Cache) DeleteEntity(tenantID string, t types.EntityType, id string) error {
	unlock := c.lockKey(tenantID, t, id)
	defer unlock()
	return c.store.Delete(tenantID, t, id)
}

// ClearTenantCache removes every cached entity of a tenant, local edits
// included.
func (c *Cache) ClearTenantCache(tenantID string) error {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.store.DeleteTenant(tenantID)
}

// ClearAllCache removes every cached entity of every tenant.
func (c *Cache) ClearAllCache() error {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.store.DeleteAll()
}

// RebuildIndex regenerates the index from the entity records.
func (c *Cache) RebuildIndex() (int, error) {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.store.RebuildIndex()
}
