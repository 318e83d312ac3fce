package commit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/idcache/internal/cache"
	"github.com/mesh-intelligence/idcache/internal/hash"
	"github.com/mesh-intelligence/idcache/internal/journal"
	"github.com/mesh-intelligence/idcache/internal/store"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

type pushCall struct {
	tenantID string
	t        types.EntityType
	id       string
	data     json.RawMessage
}

// stubWriter records pushes and fails for IDs listed in fail.
type stubWriter struct {
	mu    sync.Mutex
	calls []pushCall
	fail  map[string]error
}

func (w *stubWriter) Push(ctx context.Context, tenantID string, t types.EntityType, id string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err, ok := w.fail[id]; ok {
		return err
	}
	w.calls = append(w.calls, pushCall{tenantID, t, id, append(json.RawMessage(nil), data...)})
	return nil
}

func (w *stubWriter) pushed() []pushCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]pushCall(nil), w.calls...)
}

type fixture struct {
	cache   *cache.Cache
	writer  *stubWriter
	journal *journal.Journal
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	s := store.New()
	require.NoError(t, s.Attach(types.Config{CacheDir: root}))
	t.Cleanup(func() { s.Detach() })

	j := journal.New()
	require.NoError(t, j.Attach(filepath.Join(root, journal.FileName)))
	t.Cleanup(func() { j.Detach() })

	c := cache.New(s)
	w := &stubWriter{fail: map[string]error{}}
	return &fixture{cache: c, writer: w, journal: j, coord: New(c, w, WithJournal(j))}
}

func (f *fixture) seedDirty(t *testing.T, tenantID string, et types.EntityType, id string) {
	t.Helper()
	_, err := f.cache.CacheEntity(tenantID, et, id, "Src", json.RawMessage(`{"a":1}`), "")
	require.NoError(t, err)
	_, err = f.cache.UpdateLocalEntity(tenantID, et, id, json.RawMessage(`{"a":2}`))
	require.NoError(t, err)
}

func TestCommit_ScenarioC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "t1", types.Sources, "s1")

	res, err := f.coord.Commit(ctx, "t1", types.Sources, "s1")
	require.NoError(t, err)
	assert.True(t, res.Pushed)
	assert.Equal(t, "s1", res.Ref.ID)
	assert.Equal(t, hash.MustHash(json.RawMessage(`{"a":2}`)), res.Hash)

	calls := f.writer.pushed()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"a":2}`, string(calls[0].data))
	assert.Equal(t, types.Sources, calls[0].t)

	assert.False(t, f.cache.HasLocalChanges("t1", types.Sources, "s1"))
	rec, err := f.cache.GetCachedEntity("t1", types.Sources, "s1")
	require.NoError(t, err)
	assert.Equal(t, rec.LocalHash, rec.RemoteHash)
	assert.Equal(t, hash.MustHash(rec.Data), rec.LocalHash)
	assert.Nil(t, rec.LastModifiedLocal)

	history, err := f.journal.History(ctx, "t1", types.Sources, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.OpCommit, history[0].Op)
	assert.Equal(t, hash.MustHash(json.RawMessage(`{"a":1}`)), history[0].HashBefore)
	assert.Equal(t, res.Hash, history[0].HashAfter)
}

func TestCommit_CleanEntitySkipsWriter(t *testing.T) {
	f := newFixture(t)
	_, err := f.cache.CacheEntity("t1", types.Roles, "r1", "Role", json.RawMessage(`{}`), "")
	require.NoError(t, err)

	res, err := f.coord.Commit(context.Background(), "t1", types.Roles, "r1")
	require.NoError(t, err)
	assert.False(t, res.Pushed)
	assert.Empty(t, f.writer.pushed())

	recent, err := f.journal.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestCommit_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Commit(context.Background(), "t1", types.Roles, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, f.writer.pushed())
}

func TestCommit_RemoteFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedDirty(t, "t1", types.Sources, "s1")
	before, err := f.cache.GetCachedEntity("t1", types.Sources, "s1")
	require.NoError(t, err)

	remoteErr := errors.New("409 conflict")
	f.writer.fail["s1"] = remoteErr

	_, err = f.coord.Commit(context.Background(), "t1", types.Sources, "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, remoteErr, "remote error is surfaced verbatim")
	var re *types.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "push", re.Op)
	assert.Same(t, remoteErr, re.Err)

	after, err := f.cache.GetCachedEntity("t1", types.Sources, "s1")
	require.NoError(t, err)
	assert.Equal(t, before.LocalHash, after.LocalHash)
	assert.Equal(t, before.RemoteHash, after.RemoteHash)
	assert.True(t, f.cache.HasLocalChanges("t1", types.Sources, "s1"))
}

func TestCommit_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	f.seedDirty(t, "t1", types.Sources, "s1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coord.Commit(ctx, "t1", types.Sources, "s1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.cache.HasLocalChanges("t1", types.Sources, "s1"))
	assert.Empty(t, f.writer.pushed())
}

func TestCommit_LocalOnlyEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.CreateLocalEntity("t1", types.Forms, "f1", "Form", json.RawMessage(`{"x":1}`), "")
	require.NoError(t, err)

	res, err := f.coord.Commit(ctx, "t1", types.Forms, "f1")
	require.NoError(t, err)
	assert.True(t, res.Pushed)
	assert.False(t, f.cache.HasLocalChanges("t1", types.Forms, "f1"))

	rec, err := f.cache.GetCachedEntity("t1", types.Forms, "f1")
	require.NoError(t, err)
	assert.True(t, rec.HasBaseline())

	history, err := f.journal.History(ctx, "t1", types.Forms, "f1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.OpCreate, history[0].Op)
	assert.Empty(t, history[0].HashBefore)
}

func TestRevert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "t1", types.Sources, "s1")

	rec, err := f.coord.Revert(ctx, "t1", types.Sources, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(rec.Data))
	assert.False(t, f.cache.HasLocalChanges("t1", types.Sources, "s1"))
	assert.Empty(t, f.writer.pushed(), "revert never talks to the remote")

	// Second revert is a no-op and is not journaled.
	_, err = f.coord.Revert(ctx, "t1", types.Sources, "s1")
	require.NoError(t, err)

	history, err := f.journal.History(ctx, "t1", types.Sources, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.OpRevert, history[0].Op)
}

func TestRevert_LocalOnlyHasNoBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.CreateLocalEntity("t1", types.Forms, "f1", "Form", json.RawMessage(`{}`), "")
	require.NoError(t, err)

	_, err = f.coord.Revert(ctx, "t1", types.Forms, "f1")
	assert.ErrorIs(t, err, types.ErrNoBaseline)

	_, err = f.cache.GetCachedEntity("t1", types.Forms, "f1")
	require.NoError(t, err, "revert never deletes")

	require.NoError(t, f.coord.Discard(ctx, "t1", types.Forms, "f1"))
	_, err = f.cache.GetCachedEntity("t1", types.Forms, "f1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	recent, err := f.journal.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, journal.OpDiscard, recent[0].Op)
	assert.Equal(t, "local only", recent[0].Detail)
}

func TestCommitAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "t1", types.Sources, "a")
	f.seedDirty(t, "t1", types.Sources, "b")
	f.seedDirty(t, "t1", types.Roles, "c")
	f.seedDirty(t, "t2", types.Sources, "d")

	boom := errors.New("remote down")
	f.writer.fail["b"] = boom

	results, err := f.coord.CommitAll(ctx, "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.Len(t, results, 2)
	// Index order: roles sort before sources.
	assert.Equal(t, "c", results[0].Ref.ID)
	assert.Equal(t, "a", results[1].Ref.ID)

	pending, err := f.cache.GetEntitiesWithLocalChanges("")
	require.NoError(t, err)
	var ids []string
	for _, r := range pending {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "d"}, ids)

	delete(f.writer.fail, "b")
	results, err = f.coord.CommitAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestCommit_WithoutJournal(t *testing.T) {
	f := newFixture(t)
	coord := New(f.cache, f.writer)
	f.seedDirty(t, "t1", types.Sources, "s1")

	res, err := coord.Commit(context.Background(), "t1", types.Sources, "s1")
	require.NoError(t, err)
	assert.True(t, res.Pushed)
}
