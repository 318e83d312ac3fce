package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/idcache/internal/atomicfile"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// recordExt is the file extension of entity records.
const recordExt = ".json"

// validateID rejects IDs that are empty or could escape their directory.
func validateID(kind, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\"+keySep) {
		return fmt.Errorf("%w: %s %q", types.ErrInvalidID, kind, id)
	}
	return nil
}

// JournalFileName is the journal database under the cache root. SQLite keeps
// its sidecar files next to it.
const JournalFileName = "journal.db"

// reservedRootNames are files the cache root holds besides tenant
// directories.
var reservedRootNames = map[string]bool{
	IndexFileName:                true,
	JournalFileName:              true,
	JournalFileName + "-wal":     true,
	JournalFileName + "-shm":     true,
	JournalFileName + "-journal": true,
}

// IsReservedName reports whether name cannot be used as a tenant ID because
// it names a file in the cache root. Dot names are reserved for temp files.
func IsReservedName(name string) bool {
	return reservedRootNames[name] || strings.HasPrefix(name, ".")
}

// validateTenant is validateID plus the cache-root reservations.
func validateTenant(tenantID string) error {
	if err := validateID("tenant", tenantID); err != nil {
		return err
	}
	if IsReservedName(tenantID) {
		return fmt.Errorf("%w: tenant %q is a reserved name", types.ErrInvalidID, tenantID)
	}
	return nil
}

func validateKey(tenantID string, t types.EntityType, id string) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %d", types.ErrUnknownEntityType, uint8(t))
	}
	return validateID("entity", id)
}

// recordPath returns root/<tenant>/<segment>/<id>.json.
func (s *Store) recordPath(tenantID string, t types.EntityType, id string) string {
	return filepath.Join(s.root, tenantID, t.Segment(), id+recordExt)
}

// Write persists rec and then updates its index entry. The entity file is
// replaced atomically; the index is updated only after the file is durable.
func (s *Store) Write(rec *types.CachedEntity) error {
	if rec == nil {
		return types.ErrInvalidData
	}
	if err := validateKey(rec.TenantID, rec.Type, rec.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrStoreDetached
	}

	path := s.recordPath(rec.TenantID, rec.Type, rec.ID)
	if err := atomicfile.WriteJSON(path, rec); err != nil {
		return &types.StorageError{Op: "write", Path: path, Err: err}
	}

	s.index.Set(indexKey(rec.TenantID, rec.Type, rec.ID), indexValue{
		ref:   rec.Ref(),
		entry: rec.IndexEntry(),
	})
	return s.indexChangedLocked()
}

// Read loads one record. A missing file yields ErrNotFound; a file that does
// not decode, or decodes to a different key, yields ErrCorruptRecord.
func (s *Store) Read(tenantID string, t types.EntityType, id string) (*types.CachedEntity, error) {
	if err := validateKey(tenantID, t, id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	return readRecord(s.recordPath(tenantID, t, id), tenantID, t, id)
}

func readRecord(path, tenantID string, t types.EntityType, id string) (*types.CachedEntity, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s/%s: %w", tenantID, t, id, types.ErrNotFound)
	}
	if err != nil {
		return nil, &types.StorageError{Op: "read", Path: path, Err: err}
	}

	var rec types.CachedEntity
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w", path, types.ErrCorruptRecord)
	}
	if rec.TenantID != tenantID || rec.Type != t || rec.ID != id || len(rec.Data) == 0 {
		return nil, fmt.Errorf("%s: key mismatch: %w", path, types.ErrCorruptRecord)
	}
	return &rec, nil
}

// Delete removes one record and its index entry. Returns ErrNotFound when
// neither the index nor the filesystem knows the key.
func (s *Store) Delete(tenantID string, t types.EntityType, id string) error {
	if err := validateKey(tenantID, t, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrStoreDetached
	}

	path := s.recordPath(tenantID, t, id)
	key := indexKey(tenantID, t, id)
	_, indexed := s.index.Get(key)

	err := os.Remove(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !indexed {
			return fmt.Errorf("%s/%s/%s: %w", tenantID, t, id, types.ErrNotFound)
		}
	case err != nil:
		return &types.StorageError{Op: "delete", Path: path, Err: err}
	}

	if !indexed {
		return nil
	}
	s.index.Delete(key)
	return s.indexChangedLocked()
}

// DeleteTenant removes a tenant's directory and index subtree.
func (s *Store) DeleteTenant(tenantID string) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrStoreDetached
	}

	dir := filepath.Join(s.root, tenantID)
	if err := os.RemoveAll(dir); err != nil {
		return &types.StorageError{Op: "delete tenant", Path: dir, Err: err}
	}

	var keys []string
	s.scanPrefixLocked(tenantPrefix(tenantID), func(key string, _ indexValue) bool {
		keys = append(keys, key)
		return true
	})
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		s.index.Delete(k)
	}
	return s.indexChangedLocked()
}

// DeleteAll removes every tenant directory and resets the index. Other files
// under the root, such as the journal database, are left alone.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrStoreDetached
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return &types.StorageError{Op: "list root", Path: s.root, Err: err}
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			return &types.StorageError{Op: "delete tenant", Path: dir, Err: err}
		}
	}

	s.index = newIndex()
	return s.persistIndexLocked()
}
