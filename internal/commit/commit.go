// Package commit reconciles local edits with the remote system. An entity is
// CLEAN or DIRTY; Commit pushes a DIRTY entity and makes it CLEAN, Revert
// throws the local edit away. Both are no-ops on CLEAN entities.
//
// Remote failures are returned as *types.RemoteError wrapping the writer's
// error unchanged. They are never retried here and leave local state as it
// was.
// See docs/ARCHITECTURE.md § Commit Coordinator.
package commit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/idcache/internal/journal"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// EntityCache is the part of the local cache the coordinator drives.
type EntityCache interface {
	GetCachedEntity(tenantID string, t types.EntityType, id string) (*types.CachedEntity, error)
	GetEntitiesWithLocalChanges(tenantID string) ([]types.EntityRef, error)
	MarkPushed(tenantID string, t types.EntityType, id string, data json.RawMessage, pushedHash string) (*types.CachedEntity, error)
	RevertEntity(tenantID string, t types.EntityType, id string) (*types.CachedEntity, error)
	DeleteEntity(tenantID string, t types.EntityType, id string) error
}

// Recorder appends to the operation history.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// Result describes the outcome of one commit.
type Result struct {
	Ref types.EntityRef `json:"ref"`
	// Pushed is false when the entity was already clean.
	Pushed bool `json:"pushed"`
	// Hash fingerprints the data that is now the remote baseline.
	Hash string `json:"hash"`
}

// Coordinator commits and reverts cached entities.
type Coordinator struct {
	cache   EntityCache
	writer  types.RemoteWriter
	journal Recorder
	log     zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal records every commit, revert and discard in r.
func WithJournal(r Recorder) Option {
	return func(c *Coordinator) { c.journal = r }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New returns a coordinator pushing through writer.
func New(cache EntityCache, writer types.RemoteWriter, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:  cache,
		writer: writer,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit pushes the entity's local data if it is dirty and, once the remote
// accepted it, records that data as the new baseline.
func (c *Coordinator) Commit(ctx context.Context, tenantID string, t types.EntityType, id string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	rec, err := c.cache.GetCachedEntity(tenantID, t, id)
	if err != nil {
		return Result{}, err
	}
	res := Result{Ref: rec.Ref(), Hash: rec.LocalHash}
	if !rec.HasLocalChanges() {
		return res, nil
	}

	if err := c.writer.Push(ctx, tenantID, t, id, rec.Data); err != nil {
		c.log.Warn().Err(err).
			Str("tenant", tenantID).Stringer("type", t).Str("id", id).
			Msg("push rejected")
		return Result{Ref: res.Ref}, &types.RemoteError{Op: "push", TenantID: tenantID, Type: t, ID: id, Err: err}
	}

	// The remote now holds rec.Data even if the entity changed meanwhile;
	// MarkPushed keeps any newer edit dirty.
	if _, err := c.cache.MarkPushed(tenantID, t, id, rec.Data, rec.LocalHash); err != nil {
		c.log.Error().Err(err).
			Str("tenant", tenantID).Stringer("type", t).Str("id", id).
			Msg("pushed but failed to record baseline")
		return Result{Ref: res.Ref}, err
	}
	res.Pushed = true

	op, detail := journal.OpCommit, ""
	if !rec.HasBaseline() {
		op, detail = journal.OpCreate, "first push of local entity"
	}
	c.record(ctx, journal.Entry{
		TenantID:   tenantID,
		Type:       t,
		EntityID:   id,
		Op:         op,
		HashBefore: rec.RemoteHash,
		HashAfter:  rec.LocalHash,
		Detail:     detail,
	})

	c.log.Info().
		Str("tenant", tenantID).Stringer("type", t).Str("id", id).Str("hash", rec.LocalHash).
		Msg("committed")
	return res, nil
}

// Revert restores the entity's remote baseline. A clean entity is returned
// unchanged. A local-only entity has no baseline: ErrNoBaseline is returned
// and nothing is deleted; use Discard for that.
func (c *Coordinator) Revert(ctx context.Context, tenantID string, t types.EntityType, id string) (*types.CachedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	before, err := c.cache.GetCachedEntity(tenantID, t, id)
	if err != nil {
		return nil, err
	}

	rec, err := c.cache.RevertEntity(tenantID, t, id)
	if err != nil {
		return nil, err
	}

	if before.HasLocalChanges() {
		c.record(ctx, journal.Entry{
			TenantID:   tenantID,
			Type:       t,
			EntityID:   id,
			Op:         journal.OpRevert,
			HashBefore: before.LocalHash,
			HashAfter:  rec.LocalHash,
		})
		c.log.Info().Str("tenant", tenantID).Stringer("type", t).Str("id", id).Msg("reverted")
	}
	return rec, nil
}

// Discard deletes the entity from the cache, local edits included.
func (c *Coordinator) Discard(ctx context.Context, tenantID string, t types.EntityType, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	before, err := c.cache.GetCachedEntity(tenantID, t, id)
	if err != nil && !errors.Is(err, types.ErrCorruptRecord) {
		return err
	}
	if err := c.cache.DeleteEntity(tenantID, t, id); err != nil {
		return err
	}

	entry := journal.Entry{TenantID: tenantID, Type: t, EntityID: id, Op: journal.OpDiscard}
	if before != nil {
		entry.HashBefore = before.LocalHash
		if !before.HasBaseline() {
			entry.Detail = "local only"
		}
	}
	c.record(ctx, entry)
	c.log.Info().Str("tenant", tenantID).Stringer("type", t).Str("id", id).Msg("discarded")
	return nil
}

// CommitAll commits every dirty entity of tenantID, or of every tenant when
// tenantID is empty. It keeps going after a failure and returns the results
// of the successful commits along with all failures joined.
func (c *Coordinator) CommitAll(ctx context.Context, tenantID string) ([]Result, error) {
	refs, err := c.cache.GetEntitiesWithLocalChanges(tenantID)
	if err != nil {
		return nil, err
	}

	var (
		results []Result
		errs    []error
	)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := c.Commit(ctx, ref.TenantID, ref.Type, ref.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// record writes to the journal. History is best effort: the cache already
// reflects the operation, so a journal failure is only logged.
func (c *Coordinator) record(ctx context.Context, e journal.Entry) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.Record(ctx, e); err != nil {
		c.log.Warn().Err(err).Str("op", string(e.Op)).Msg("journal write failed")
	}
}
