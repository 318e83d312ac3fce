package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/btree"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

// RebuildIndex discards the index and regenerates it from the entity files,
// which are the source of truth. Unreadable or corrupt records and unknown
// directories are skipped. The new index is persisted immediately.
// Returns the number of entries indexed.
func (s *Store) RebuildIndex() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return 0, types.ErrStoreDetached
	}

	tenants, err := os.ReadDir(s.root)
	if err != nil {
		return 0, &types.StorageError{Op: "list root", Path: s.root, Err: err}
	}

	index := newIndex()
	for _, tenant := range tenants {
		if !tenant.IsDir() || validateTenant(tenant.Name()) != nil {
			continue
		}
		tenantDir := filepath.Join(s.root, tenant.Name())
		segments, err := os.ReadDir(tenantDir)
		if err != nil {
			return 0, &types.StorageError{Op: "list tenant", Path: tenantDir, Err: err}
		}
		for _, seg := range segments {
			if !seg.IsDir() {
				continue
			}
			t, err := types.ParseSegment(seg.Name())
			if err != nil {
				continue
			}
			indexSegment(index, tenant.Name(), t, filepath.Join(tenantDir, seg.Name()))
		}
	}

	s.index = index
	if err := s.persistIndexLocked(); err != nil {
		return 0, err
	}
	return index.Len(), nil
}

// indexSegment adds every readable record in dir to index.
func indexSegment(index *btree.Map[string, indexValue], tenantID string, t types.EntityType, dir string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		if validateID("entity", id) != nil {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, name), tenantID, t, id)
		if err != nil {
			continue
		}
		index.Set(indexKey(tenantID, t, id), indexValue{ref: rec.Ref(), entry: rec.IndexEntry()})
	}
}
