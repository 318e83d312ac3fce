package remote

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

// Memory is an in-memory remote system. It implements both RemoteFetcher and
// RemoteWriter and can be told to fail, which makes it useful in tests and
// demos.
type Memory struct {
	mu         sync.Mutex
	entities   map[memKey]types.RemoteEntity
	fetchErrs  map[types.EntityType]error
	pushErrs   map[string]error
	pushCount  int
	fetchCount int
}

type memKey struct {
	tenantID string
	t        types.EntityType
	id       string
}

var (
	_ types.RemoteFetcher = (*Memory)(nil)
	_ types.RemoteWriter  = (*Memory)(nil)
)

// NewMemory returns an empty in-memory remote.
func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[memKey]types.RemoteEntity),
		fetchErrs: make(map[types.EntityType]error),
		pushErrs:  make(map[string]error),
	}
}

// Put stores an entity as if it had been created remotely.
func (m *Memory) Put(tenantID string, t types.EntityType, e types.RemoteEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Data = append(json.RawMessage(nil), e.Data...)
	m.entities[memKey{tenantID, t, e.ID}] = e
}

// Get returns a stored entity.
func (m *Memory) Get(tenantID string, t types.EntityType, id string) (types.RemoteEntity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[memKey{tenantID, t, id}]
	return e, ok
}

// FailFetch makes every Fetch of type t return err. A nil err clears it.
func (m *Memory) FailFetch(t types.EntityType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fetchErrs, t)
		return
	}
	m.fetchErrs[t] = err
}

// FailPush makes every Push of entity id return err. A nil err clears it.
func (m *Memory) FailPush(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.pushErrs, id)
		return
	}
	m.pushErrs[id] = err
}

// Pushes returns the number of successful pushes.
func (m *Memory) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushCount
}

// Fetches returns the number of Fetch calls.
func (m *Memory) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount
}

// Fetch returns every entity of type t for the tenant, ordered by ID.
func (m *Memory) Fetch(ctx context.Context, tenantID string, t types.EntityType) ([]types.RemoteEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetchCount++
	if err := m.fetchErrs[t]; err != nil {
		return nil, err
	}
	var out []types.RemoteEntity
	for k, e := range m.entities {
		if k.tenantID == tenantID && k.t == t {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchOne returns one entity or an error wrapping ErrNotFound.
func (m *Memory) FetchOne(ctx context.Context, tenantID string, t types.EntityType, id string) (types.RemoteEntity, error) {
	if err := ctx.Err(); err != nil {
		return types.RemoteEntity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fetchErrs[t]; err != nil {
		return types.RemoteEntity{}, err
	}
	e, ok := m.entities[memKey{tenantID, t, id}]
	if !ok {
		return types.RemoteEntity{}, notFound(tenantID, t, id)
	}
	return e, nil
}

// Push stores data as the entity's remote content, creating the entity if
// needed. The name and parent are taken from the payload when present.
func (m *Memory) Push(ctx context.Context, tenantID string, t types.EntityType, id string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.pushErrs[id]; err != nil {
		return err
	}
	key := memKey{tenantID, t, id}
	e := m.entities[key]
	e.ID = id
	e.Data = append(json.RawMessage(nil), data...)
	if name, parent := payloadFields(data); name != "" || parent != "" {
		if name != "" {
			e.Name = name
		}
		e.ParentID = parent
	}
	if e.Name == "" {
		e.Name = id
	}
	m.entities[key] = e
	m.pushCount++
	return nil
}
