package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

func attachStore(t *testing.T, cfg types.Config) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.Attach(cfg))
	t.Cleanup(func() { s.Detach() })
	return s
}

func newRecord(tenantID string, et types.EntityType, id, data string) *types.CachedEntity {
	return &types.CachedEntity{
		ID:          id,
		Name:        "name-" + id,
		Type:        et,
		TenantID:    tenantID,
		Data:        json.RawMessage(data),
		RemoteData:  json.RawMessage(data),
		RemoteHash:  "h-" + id,
		LocalHash:   "h-" + id,
		LastFetched: time.Now().UTC().Truncate(time.Second),
	}
}

func readIndexFile(t *testing.T, root string) types.CacheIndex {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(root, IndexFileName))
	require.NoError(t, err)
	var ix types.CacheIndex
	require.NoError(t, json.Unmarshal(raw, &ix))
	return ix
}

func TestStore_Attach(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")

	s := New()
	require.NoError(t, s.Attach(types.Config{CacheDir: root}))
	defer s.Detach()

	assert.DirExists(t, root)
	assert.FileExists(t, filepath.Join(root, IndexFileName))
	assert.True(t, s.IndexReset(), "fresh root starts with an empty index")
	assert.Equal(t, root, s.Root())

	err := s.Attach(types.Config{CacheDir: root})
	assert.ErrorIs(t, err, types.ErrAlreadyAttached)
}

func TestStore_AttachInvalidConfig(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Attach(types.Config{}), types.ErrCacheDirEmpty)
}

func TestStore_Detach(t *testing.T) {
	s := New()
	require.NoError(t, s.Attach(types.Config{CacheDir: t.TempDir()}))

	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach(), "second Detach should not error")

	_, err := s.Read("t1", types.Sources, "s1")
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	assert.ErrorIs(t, s.Write(newRecord("t1", types.Sources, "s1", `{}`)), types.ErrStoreDetached)
	_, err = s.ListIDs("t1", types.Sources)
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	assert.ErrorIs(t, s.DeleteAll(), types.ErrStoreDetached)
	assert.ErrorIs(t, s.Flush(), types.ErrStoreDetached)
	_, err = s.RebuildIndex()
	assert.ErrorIs(t, err, types.ErrStoreDetached)
}

func TestStore_WriteRead(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{CacheDir: root})

	rec := newRecord("t1", types.ConnectorRules, "r1", `{"script":"a<b"}`)
	rec.ParentID = "src-9"
	require.NoError(t, s.Write(rec))

	assert.FileExists(t, filepath.Join(root, "t1", "connector-rules", "r1.json"))

	got, err := s.Read("t1", types.ConnectorRules, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.JSONEq(t, string(rec.Data), string(got.Data))
	assert.Equal(t, "src-9", got.ParentID)
	assert.True(t, rec.LastFetched.Equal(got.LastFetched))

	entry, ok, err := s.Entry("t1", types.ConnectorRules, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.IndexEntry().LocalHash, entry.LocalHash)
	assert.False(t, entry.HasLocalChanges)

	ix := readIndexFile(t, root)
	assert.Equal(t, types.IndexVersion, ix.Version)
	assert.Equal(t, "name-r1", ix.Tenants["t1"][types.ConnectorRules]["r1"].Name)
}

func TestStore_ReadMissingAndCorrupt(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{CacheDir: root})

	_, err := s.Read("t1", types.Roles, "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.Write(newRecord("t1", types.Roles, "r1", `{"a":1}`)))
	path := filepath.Join(root, "t1", "roles", "r1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": "r1", "data": `), 0o644))

	_, err = s.Read("t1", types.Roles, "r1")
	assert.ErrorIs(t, err, types.ErrCorruptRecord)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.False(t, types.IsStorageError(err))

	// A record stored under the wrong key is also corrupt.
	other := newRecord("t1", types.Roles, "r2", `{"a":1}`)
	raw, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	_, err = s.Read("t1", types.Roles, "r1")
	assert.ErrorIs(t, err, types.ErrCorruptRecord)
}

func TestStore_InvalidKeys(t *testing.T) {
	s := attachStore(t, types.Config{CacheDir: t.TempDir()})

	tests := []struct {
		name   string
		tenant string
		et     types.EntityType
		id     string
		want   error
	}{
		{"empty tenant", "", types.Sources, "s1", types.ErrInvalidID},
		{"empty id", "t1", types.Sources, "", types.ErrInvalidID},
		{"dot dot id", "t1", types.Sources, "..", types.ErrInvalidID},
		{"slash in id", "t1", types.Sources, "a/b", types.ErrInvalidID},
		{"backslash in tenant", `t\1`, types.Sources, "s1", types.ErrInvalidID},
		{"unknown type", "t1", types.EntityType(0), "s1", types.ErrUnknownEntityType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Write(newRecord(tt.tenant, tt.et, tt.id, `{}`))
			assert.ErrorIs(t, err, tt.want)
			_, err = s.Read(tt.tenant, tt.et, tt.id)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.ErrorIs(t, s.Write(nil), types.ErrInvalidData)
}

func TestStore_ListIDsAndScan(t *testing.T) {
	s := attachStore(t, types.Config{CacheDir: t.TempDir()})

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Write(newRecord("t1", types.Sources, id, `{}`)))
	}
	require.NoError(t, s.Write(newRecord("t1", types.Roles, "r1", `{}`)))
	require.NoError(t, s.Write(newRecord("t10", types.Sources, "z", `{}`)))
	require.NoError(t, s.Write(newRecord("t2", types.Sources, "x", `{}`)))

	ids, err := s.ListIDs("t1", types.Sources)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	ids, err = s.ListIDs("t1", types.Forms)
	require.NoError(t, err)
	assert.Empty(t, ids)

	var refs []types.EntityRef
	require.NoError(t, s.ScanIndex("t1", func(ref types.EntityRef, _ types.IndexEntry) bool {
		refs = append(refs, ref)
		return true
	}))
	assert.Len(t, refs, 4, "tenant t10 must not match prefix t1")
	for _, r := range refs {
		assert.Equal(t, "t1", r.TenantID)
	}

	count := 0
	require.NoError(t, s.ScanIndex("", func(types.EntityRef, types.IndexEntry) bool {
		count++
		return count < 2
	}))
	assert.Equal(t, 2, count, "returning false stops the scan")

	tenants, err := s.Tenants()
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t10", "t2"}, tenants)
}

func TestStore_Delete(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{CacheDir: root})

	require.NoError(t, s.Write(newRecord("t1", types.Forms, "f1", `{}`)))
	require.NoError(t, s.Delete("t1", types.Forms, "f1"))
	assert.NoFileExists(t, filepath.Join(root, "t1", "forms", "f1.json"))

	_, ok, err := s.Entry("t1", types.Forms, "f1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Delete("t1", types.Forms, "f1"), types.ErrNotFound)
}

func TestStore_DeleteTenant(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{CacheDir: root})

	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s1", `{}`)))
	require.NoError(t, s.Write(newRecord("t1", types.Roles, "r1", `{}`)))
	require.NoError(t, s.Write(newRecord("t2", types.Sources, "s1", `{}`)))

	require.NoError(t, s.DeleteTenant("t1"))
	assert.NoDirExists(t, filepath.Join(root, "t1"))

	ids, err := s.ListIDs("t1", types.Sources)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ListIDs("t2", types.Sources)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	ix := readIndexFile(t, root)
	assert.NotContains(t, ix.Tenants, "t1")
	assert.Contains(t, ix.Tenants, "t2")

	require.NoError(t, s.DeleteTenant("unknown"), "deleting an unknown tenant is a no-op")
}

func TestStore_ReservedTenantNames(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{CacheDir: root})

	journalPath := filepath.Join(root, JournalFileName)
	require.NoError(t, os.WriteFile(journalPath, []byte("db"), 0o644))

	for _, tenant := range []string{
		IndexFileName,
		JournalFileName,
		JournalFileName + "-wal",
		JournalFileName + "-shm",
		".index.json-123.tmp",
	} {
		t.Run(tenant, func(t *testing.T) {
			assert.True(t, IsReservedName(tenant))
			assert.ErrorIs(t, s.Write(newRecord(tenant, types.Sources, "s1", `{}`)), types.ErrInvalidID)
			_, err := s.Read(tenant, types.Sources, "s1")
			assert.ErrorIs(t, err, types.ErrInvalidID)
			assert.ErrorIs(t, s.DeleteTenant(tenant), types.ErrInvalidID)
		})
	}

	assert.FileExists(t, journalPath)
	assert.FileExists(t, filepath.Join(root, IndexFileName))
	assert.False(t, IsReservedName("journal"))
	assert.False(t, IsReservedName("index"))
}

func TestStore_DeleteAll(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{CacheDir: root})

	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s1", `{}`)))
	require.NoError(t, s.Write(newRecord("t2", types.Sources, "s1", `{}`)))
	keep := filepath.Join(root, "journal.db")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	require.NoError(t, s.DeleteAll())

	assert.NoDirExists(t, filepath.Join(root, "t1"))
	assert.NoDirExists(t, filepath.Join(root, "t2"))
	assert.FileExists(t, keep)
	assert.Zero(t, readIndexFile(t, root).Count())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Zero(t, snap.Count())
}

func TestStore_IndexPersistsAcrossAttach(t *testing.T) {
	root := t.TempDir()
	s := New()
	require.NoError(t, s.Attach(types.Config{CacheDir: root}))
	require.NoError(t, s.Write(newRecord("t1", types.Workflows, "w1", `{}`)))
	require.NoError(t, s.Detach())

	s2 := attachStore(t, types.Config{CacheDir: root})
	assert.False(t, s2.IndexReset())
	ids, err := s2.ListIDs("t1", types.Workflows)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, ids)
}

func TestStore_IndexVersionMismatch(t *testing.T) {
	root := t.TempDir()
	s := New()
	require.NoError(t, s.Attach(types.Config{CacheDir: root}))
	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s1", `{}`)))
	require.NoError(t, s.Detach())

	ix := readIndexFile(t, root)
	ix.Version = "0-legacy"
	raw, err := json.Marshal(ix)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, IndexFileName), raw, 0o644))

	s2 := attachStore(t, types.Config{CacheDir: root})
	assert.True(t, s2.IndexReset())
	ids, err := s2.ListIDs("t1", types.Sources)
	require.NoError(t, err)
	assert.Empty(t, ids, "mismatched index is discarded, not migrated")
	assert.Equal(t, types.IndexVersion, readIndexFile(t, root).Version)

	// Entity files survive and remain readable.
	rec, err := s2.Read("t1", types.Sources, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.ID)
}

func TestStore_CorruptIndexFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, IndexFileName), []byte("{not json"), 0o644))

	s := attachStore(t, types.Config{CacheDir: root})
	assert.True(t, s.IndexReset())
	assert.Equal(t, types.IndexVersion, readIndexFile(t, root).Version)
}

func TestStore_RebuildIndex(t *testing.T) {
	root := t.TempDir()
	s := New()
	require.NoError(t, s.Attach(types.Config{CacheDir: root}))
	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s1", `{"a":1}`)))
	dirty := newRecord("t1", types.Sources, "s2", `{"a":2}`)
	dirty.LocalHash = "changed"
	require.NoError(t, s.Write(dirty))
	require.NoError(t, s.Write(newRecord("t2", types.Schemas, "sc1", `{}`)))
	require.NoError(t, s.Detach())

	// Lose the index, add a corrupt record and some noise.
	require.NoError(t, os.Remove(filepath.Join(root, IndexFileName)))
	require.NoError(t, os.WriteFile(filepath.Join(root, "t1", "sources", "bad.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "t1", "sources", ".s1.json-1.tmp"), []byte("{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "t1", "unknown-kind"), 0o755))

	s2 := attachStore(t, types.Config{CacheDir: root})
	ids, err := s2.ListIDs("t1", types.Sources)
	require.NoError(t, err)
	assert.Empty(t, ids)

	n, err := s2.RebuildIndex()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err = s2.ListIDs("t1", types.Sources)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	entry, ok, err := s2.Entry("t1", types.Sources, "s2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.HasLocalChanges)

	assert.Equal(t, 3, readIndexFile(t, root).Count())
}

func TestStore_OnCloseIndexSync(t *testing.T) {
	root := t.TempDir()
	s := New()
	require.NoError(t, s.Attach(types.Config{CacheDir: root, IndexSync: types.IndexSyncOnClose}))

	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s1", `{}`)))
	assert.Zero(t, readIndexFile(t, root).Count(), "index file is only written on Detach")

	ids, err := s.ListIDs("t1", types.Sources)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids, "in-memory index is always current")

	require.NoError(t, s.Detach())
	assert.Equal(t, 1, readIndexFile(t, root).Count())
}

func TestStore_BatchIndexSync(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{
		CacheDir:      root,
		IndexSync:     types.IndexSyncBatch,
		BatchSize:     2,
		BatchInterval: 3600,
	})

	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s1", `{}`)))
	assert.Zero(t, readIndexFile(t, root).Count())

	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s2", `{}`)))
	assert.Equal(t, 2, readIndexFile(t, root).Count(), "batch size reached triggers a flush")

	require.NoError(t, s.Write(newRecord("t1", types.Sources, "s3", `{}`)))
	require.NoError(t, s.Flush())
	assert.Equal(t, 3, readIndexFile(t, root).Count())
}

func TestStore_ConcurrentWrites(t *testing.T) {
	root := t.TempDir()
	s := attachStore(t, types.Config{CacheDir: root})

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("e%02d", i%10)
			rec := newRecord("t1", types.Transforms, id, fmt.Sprintf(`{"v":%d}`, i))
			rec.LocalHash = fmt.Sprintf("h%d", i)
			errs <- s.Write(rec)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids, err := s.ListIDs("t1", types.Transforms)
	require.NoError(t, err)
	assert.Len(t, ids, 10)

	// The index entry must describe the record that actually landed.
	for _, id := range ids {
		rec, err := s.Read("t1", types.Transforms, id)
		require.NoError(t, err)
		entry, ok, err := s.Entry("t1", types.Transforms, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec.LocalHash, entry.LocalHash)
	}

	ix := readIndexFile(t, root)
	assert.Equal(t, 10, ix.Count())
}
