// Package refresh runs the background job that keeps active tenants in step
// with the remote system. Each run fetches every configured entity type for
// a tenant, stores the results as baselines and reports the tenant's health
// to the sync coordinator.
// See docs/ARCHITECTURE.md § Background Refresh.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

// Cache is the part of the local cache the refresher writes to.
type Cache interface {
	CacheEntity(tenantID string, t types.EntityType, id, name string, data json.RawMessage, parentID string) (*types.CachedEntity, error)
	HasLocalChanges(tenantID string, t types.EntityType, id string) bool
}

// Coordinator is the part of the sync coordinator the refresher reads and
// reports to.
type Coordinator interface {
	Cap() int
	GetActiveSyncTenants() []string
	IsActive(tenantID string) bool
	RecordSync(tenantID string, health types.Health, at time.Time)
}

// Report summarizes one tenant refresh.
type Report struct {
	TenantID string       `json:"tenantId"`
	Health   types.Health `json:"health"`
	Fetched  int          `json:"fetched"`
	// Overwritten counts entities whose pending local edits were replaced.
	Overwritten int                `json:"overwritten"`
	FailedTypes []types.EntityType `json:"failedTypes,omitempty"`
	At          time.Time          `json:"at"`
}

// Refresher drives refreshes for tenants in ACTIVE_SYNC.
type Refresher struct {
	cache       Cache
	coord       Coordinator
	fetcher     types.RemoteFetcher
	entityTypes []types.EntityType
	interval    time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithInterval sets the period of Run.
func WithInterval(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithEntityTypes limits refreshes to the given types. The default is every
// type.
func WithEntityTypes(ts ...types.EntityType) Option {
	return func(r *Refresher) {
		if len(ts) > 0 {
			r.entityTypes = append([]types.EntityType(nil), ts...)
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Refresher) { r.log = l }
}

// WithClock overrides the time source used for sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a refresher.
func New(cache Cache, coord Coordinator, fetcher types.RemoteFetcher, opts ...Option) *Refresher {
	r := &Refresher{
		cache:       cache,
		coord:       coord,
		fetcher:     fetcher,
		entityTypes: types.AllEntityTypes(),
		interval:    types.DefaultRefreshInterval * time.Second,
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Interval returns the period of Run.
func (r *Refresher) Interval() time.Duration {
	return r.interval
}

// RefreshTenant fetches every configured type for the tenant and caches the
// results. A type whose fetch fails, or any of whose entities cannot be
// stored, counts as failed. Health is OK with no failures, ERROR when every
// type failed and DEGRADED otherwise; it is recorded with the coordinator
// unless ctx was cancelled. The returned error joins the failures.
func (r *Refresher) RefreshTenant(ctx context.Context, tenantID string) (Report, error) {
	rep := Report{TenantID: tenantID}
	var errs []error

	for _, t := range r.entityTypes {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		fetched, overwritten, err := r.refreshType(ctx, tenantID, t)
		rep.Fetched += fetched
		rep.Overwritten += overwritten
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, ctxErr
			}
			rep.FailedTypes = append(rep.FailedTypes, t)
			errs = append(errs, err)
		}
	}

	switch {
	case len(rep.FailedTypes) == 0:
		rep.Health = types.HealthOK
	case len(rep.FailedTypes) == len(r.entityTypes):
		rep.Health = types.HealthError
	default:
		rep.Health = types.HealthDegraded
	}
	rep.At = r.now().UTC()
	r.coord.RecordSync(tenantID, rep.Health, rep.At)

	ev := r.log.Info()
	if rep.Health != types.HealthOK {
		ev = r.log.Warn()
	}
	ev.Str("tenant", tenantID).
		Str("health", string(rep.Health)).
		Int("fetched", rep.Fetched).
		Int("failed_types", len(rep.FailedTypes)).
		Msg("tenant refreshed")

	return rep, errors.Join(errs...)
}

func (r *Refresher) refreshType(ctx context.Context, tenantID string, t types.EntityType) (fetched, overwritten int, err error) {
	entities, err := r.fetcher.Fetch(ctx, tenantID, t)
	if err != nil {
		return 0, 0, &types.RemoteError{Op: "fetch", TenantID: tenantID, Type: t, Err: err}
	}

	var errs []error
	for _, e := range entities {
		dirty := r.cache.HasLocalChanges(tenantID, t, e.ID)
		rec, err := r.cache.CacheEntity(tenantID, t, e.ID, e.Name, e.Data, e.ParentID)
		if err != nil {
			errs = append(errs, fmt.Errorf("caching %s/%s/%s: %w", tenantID, t, e.ID, err))
			continue
		}
		fetched++
		if dirty && !rec.HasLocalChanges() {
			overwritten++
			r.log.Warn().Str("tenant", tenantID).Stringer("type", t).Str("id", e.ID).
				Msg("remote refresh replaced local changes")
		}
	}
	return fetched, overwritten, errors.Join(errs...)
}

// RefreshActive refreshes every ACTIVE_SYNC tenant concurrently, at most Cap
// at a time. Tenants paused after the run started are skipped. Reports are
// ordered by tenant ID; failures of individual tenants are joined.
func (r *Refresher) RefreshActive(ctx context.Context) ([]Report, error) {
	tenants := r.coord.GetActiveSyncTenants()

	var (
		mu      sync.Mutex
		reports = make([]*Report, len(tenants))
		errs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.coord.Cap())
	for i, tenantID := range tenants {
		g.Go(func() error {
			if !r.coord.IsActive(tenantID) {
				return nil
			}
			rep, err := r.RefreshTenant(gctx, tenantID)
			mu.Lock()
			defer mu.Unlock()
			reports[i] = &rep
			if err != nil {
				errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Report, 0, len(reports))
	for _, rep := range reports {
		if rep != nil {
			out = append(out, *rep)
		}
	}
	return out, errors.Join(errs...)
}

// Run refreshes the active tenants once immediately and then every interval
// until ctx is done. The active set is re-read on every tick, so pause and
// resume take effect on the next run. Run returns nil when ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Msg("refresh loop started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		reports, err := r.RefreshActive(ctx)
		if ctx.Err() != nil {
			r.log.Info().Msg("refresh loop stopped")
			return nil
		}
		if err != nil {
			r.log.Warn().Err(err).Int("tenants", len(reports)).Msg("refresh run finished with errors")
		} else {
			r.log.Debug().Int("tenants", len(reports)).Msg("refresh run finished")
		}

		select {
		case <-ctx.Done():
			r.log.Info().Msg("refresh loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}
