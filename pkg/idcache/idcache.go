// Package idcache wires the local entity cache into one explicitly
// constructed service: store, cache, journal, commit and sync coordinators
// and the background refresher. Applications own the Service and pass it to
// whatever needs it; there is no global instance.
// See docs/ARCHITECTURE.md § Service.
package idcache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/mesh-intelligence/idcache/internal/cache"
	"github.com/mesh-intelligence/idcache/internal/commit"
	"github.com/mesh-intelligence/idcache/internal/journal"
	"github.com/mesh-intelligence/idcache/internal/logging"
	"github.com/mesh-intelligence/idcache/internal/refresh"
	"github.com/mesh-intelligence/idcache/internal/remote"
	"github.com/mesh-intelligence/idcache/internal/store"
	"github.com/mesh-intelligence/idcache/internal/syncer"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// Version is the idcache release.
const Version = "0.1.0"

// ErrNoRemote is returned by remote operations when the service was opened
// without a fetcher or writer.
var ErrNoRemote = errors.New("no remote configured")

// Service is one open cache root and the components built on it.
type Service struct {
	cfg       types.Config
	store     *store.Store
	cache     *cache.Cache
	journal   *journal.Journal
	commits   *commit.Coordinator
	sync      *syncer.Coordinator
	refresher *refresh.Refresher
	fetcher   types.RemoteFetcher
}

// Option configures Open.
type Option func(*options)

type options struct {
	fetcher types.RemoteFetcher
	writer  types.RemoteWriter
}

// WithFetcher sets the capability used by background refresh and fetches.
func WithFetcher(f types.RemoteFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithWriter sets the capability used by commits.
func WithWriter(w types.RemoteWriter) Option {
	return func(o *options) { o.writer = w }
}

// WithRemote sets both capabilities from one value.
func WithRemote(r interface {
	types.RemoteFetcher
	types.RemoteWriter
}) Option {
	return func(o *options) {
		o.fetcher = r
		o.writer = r
	}
}

// Open attaches the cache root named by cfg and builds the service on it.
func Open(cfg types.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		fetcher: remote.FetcherFunc(func(context.Context, string, types.EntityType) ([]types.RemoteEntity, error) {
			return nil, ErrNoRemote
		}),
		writer: remote.WriterFunc(func(context.Context, string, types.EntityType, string, json.RawMessage) error {
			return ErrNoRemote
		}),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cfg: cfg, store: store.New(), fetcher: o.fetcher}
	if err := s.store.Attach(cfg); err != nil {
		return nil, err
	}

	commitOpts := []commit.Option{commit.WithLogger(*logging.GetLogger("commit").Logger)}
	if cfg.Journal {
		s.journal = journal.New()
		if err := s.journal.Attach(filepath.Join(s.store.Root(), store.JournalFileName)); err != nil {
			s.store.Detach()
			return nil, err
		}
		commitOpts = append(commitOpts, commit.WithJournal(s.journal))
	}

	s.cache = cache.New(s.store, cache.WithRefreshPolicy(cfg.GetRefreshPolicy()))
	s.commits = commit.New(s.cache, o.writer, commitOpts...)
	s.sync = syncer.New(cfg.GetMaxActiveTenants())
	s.refresher = refresh.New(s.cache, s.sync, o.fetcher,
		refresh.WithInterval(cfg.GetRefreshInterval()),
		refresh.WithLogger(*logging.GetLogger("refresh").Logger),
	)
	return s, nil
}

// Close releases the journal and then the store, flushing the index.
func (s *Service) Close() error {
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Detach())
	}
	errs = append(errs, s.store.Detach())
	return errors.Join(errs...)
}

// Config returns the configuration the service was opened with.
func (s *Service) Config() types.Config { return s.cfg }

// Root returns the absolute cache root.
func (s *Service) Root() string { return s.store.Root() }

// IndexReset reports whether the index was discarded on open. Callers may
// want to RebuildIndex.
func (s *Service) IndexReset() bool { return s.store.IndexReset() }

// Cache returns the local entity cache.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Commits returns the commit coordinator.
func (s *Service) Commits() *commit.Coordinator { return s.commits }

// Sync returns the sync coordinator.
func (s *Service) Sync() *syncer.Coordinator { return s.sync }

// Refresher returns the background refresher.
func (s *Service) Refresher() *refresh.Refresher { return s.refresher }

// Journal returns the history journal, or nil when it is disabled.
func (s *Service) Journal() *journal.Journal { return s.journal }

// Snapshot returns a copy of the cache index.
func (s *Service) Snapshot() (*types.CacheIndex, error) { return s.store.Snapshot() }

// Tenants returns the tenants that have cached entities.
func (s *Service) Tenants() ([]string, error) { return s.store.Tenants() }

// FetchEntity fetches one entity from the remote system and caches it. With
// force the fetched document replaces pending local edits regardless of the
// configured refresh policy.
func (s *Service) FetchEntity(ctx context.Context, tenantID string, t types.EntityType, id string, force bool) (*types.CachedEntity, error) {
	e, err := s.fetcher.FetchOne(ctx, tenantID, t, id)
	if err != nil {
		return nil, &types.RemoteError{Op: "fetch", TenantID: tenantID, Type: t, ID: id, Err: err}
	}
	return s.cacheRemote(tenantID, t, e, force)
}

// FetchType fetches every entity of one type for the tenant and caches them.
// Entities that cannot be stored are skipped and their errors joined.
func (s *Service) FetchType(ctx context.Context, tenantID string, t types.EntityType, force bool) ([]*types.CachedEntity, error) {
	entities, err := s.fetcher.Fetch(ctx, tenantID, t)
	if err != nil {
		return nil, &types.RemoteError{Op: "fetch", TenantID: tenantID, Type: t, Err: err}
	}
	out := make([]*types.CachedEntity, 0, len(entities))
	var errs []error
	for _, e := range entities {
		rec, err := s.cacheRemote(tenantID, t, e, force)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

func (s *Service) cacheRemote(tenantID string, t types.EntityType, e types.RemoteEntity, force bool) (*types.CachedEntity, error) {
	if force {
		return s.cache.CacheEntityForce(tenantID, t, e.ID, e.Name, e.Data, e.ParentID)
	}
	return s.cache.CacheEntity(tenantID, t, e.ID, e.Name, e.Data, e.ParentID)
}
