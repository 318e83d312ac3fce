package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/tidwall/btree"

	"github.com/mesh-intelligence/idcache/internal/atomicfile"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// keySep separates the components of an index key. It cannot appear in
// validated tenant or entity IDs.
const keySep = "\x00"

// indexValue is one entry of the in-memory index.
type indexValue struct {
	ref   types.EntityRef
	entry types.IndexEntry
}

func newIndex() *btree.Map[string, indexValue] {
	return btree.NewMap[string, indexValue](32)
}

func indexKey(tenantID string, t types.EntityType, id string) string {
	return tenantID + keySep + t.Segment() + keySep + id
}

func tenantPrefix(tenantID string) string {
	return tenantID + keySep
}

func typePrefix(tenantID string, t types.EntityType) string {
	return tenantID + keySep + t.Segment() + keySep
}

// loadIndex reads the index file. It returns an empty index and reset=true
// when the file is missing, unreadable as JSON, or at another version. Only
// I/O failures other than "not exist" are returned as errors.
func loadIndex(path string) (*btree.Map[string, indexValue], bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newIndex(), true, nil
	}
	if err != nil {
		return nil, false, &types.StorageError{Op: "read index", Path: path, Err: err}
	}

	var ix types.CacheIndex
	if err := json.Unmarshal(raw, &ix); err != nil {
		return newIndex(), true, nil
	}
	if ix.Version != types.IndexVersion {
		return newIndex(), true, nil
	}
	return fromCacheIndex(&ix), false, nil
}

// fromCacheIndex converts the on-disk shape into the ordered in-memory index.
func fromCacheIndex(ix *types.CacheIndex) *btree.Map[string, indexValue] {
	m := newIndex()
	for tenantID, byType := range ix.Tenants {
		for t, byID := range byType {
			for id, entry := range byID {
				m.Set(indexKey(tenantID, t, id), indexValue{
					ref:   types.EntityRef{TenantID: tenantID, Type: t, ID: id, Name: entry.Name},
					entry: entry,
				})
			}
		}
	}
	return m
}

// toCacheIndex converts the in-memory index into the on-disk shape.
func toCacheIndex(m *btree.Map[string, indexValue]) *types.CacheIndex {
	ix := types.NewCacheIndex()
	m.Scan(func(_ string, v indexValue) bool {
		byType, ok := ix.Tenants[v.ref.TenantID]
		if !ok {
			byType = make(map[types.EntityType]map[string]types.IndexEntry)
			ix.Tenants[v.ref.TenantID] = byType
		}
		byID, ok := byType[v.ref.Type]
		if !ok {
			byID = make(map[string]types.IndexEntry)
			byType[v.ref.Type] = byID
		}
		byID[v.ref.ID] = v.entry
		return true
	})
	return ix
}

// persistIndexLocked writes the index file atomically and clears the pending
// counter. The caller must hold s.mu for writing.
func (s *Store) persistIndexLocked() error {
	path := s.indexPath()
	if err := atomicfile.WriteJSON(path, toCacheIndex(s.index)); err != nil {
		return &types.StorageError{Op: "persist index", Path: path, Err: err}
	}
	s.pending = 0
	return nil
}

// scanPrefixLocked visits index values whose key starts with prefix, in key
// order. The caller must hold s.mu.
func (s *Store) scanPrefixLocked(prefix string, fn func(key string, v indexValue) bool) {
	if prefix == "" {
		s.index.Scan(fn)
		return
	}
	s.index.Ascend(prefix, func(key string, v indexValue) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		return fn(key, v)
	})
}

// Entry returns the index entry for a key.
func (s *Store) Entry(tenantID string, t types.EntityType, id string) (types.IndexEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return types.IndexEntry{}, false, types.ErrStoreDetached
	}
	v, ok := s.index.Get(indexKey(tenantID, t, id))
	return v.entry, ok, nil
}

// ListIDs returns the IDs the index holds for tenant and type, sorted.
func (s *Store) ListIDs(tenantID string, t types.EntityType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	var ids []string
	s.scanPrefixLocked(typePrefix(tenantID, t), func(_ string, v indexValue) bool {
		ids = append(ids, v.ref.ID)
		return true
	})
	return ids, nil
}

// ScanIndex calls fn for each index entry, scoped to tenantID when non-empty,
// in tenant/type/id order. Entries are collected first, so fn may call back
// into the store.
func (s *Store) ScanIndex(tenantID string, fn func(ref types.EntityRef, entry types.IndexEntry) bool) error {
	s.mu.RLock()
	if !s.attached {
		s.mu.RUnlock()
		return types.ErrStoreDetached
	}
	prefix := ""
	if tenantID != "" {
		prefix = tenantPrefix(tenantID)
	}
	var values []indexValue
	s.scanPrefixLocked(prefix, func(_ string, v indexValue) bool {
		values = append(values, v)
		return true
	})
	s.mu.RUnlock()

	for _, v := range values {
		if !fn(v.ref, v.entry) {
			break
		}
	}
	return nil
}

// Snapshot returns a copy of the whole index in its on-disk shape.
func (s *Store) Snapshot() (*types.CacheIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	return toCacheIndex(s.index), nil
}

// Tenants returns the tenant IDs present in the index, sorted.
func (s *Store) Tenants() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	var tenants []string
	s.index.Scan(func(_ string, v indexValue) bool {
		if n := len(tenants); n == 0 || tenants[n-1] != v.ref.TenantID {
			tenants = append(tenants, v.ref.TenantID)
		}
		return true
	})
	return tenants, nil
}
